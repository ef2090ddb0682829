package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"equity-backtest/internal/api/models"
	"equity-backtest/internal/storage"
	"equity-backtest/internal/telemetry"
)

func init() { gin.SetMode(gin.TestMode) }

const pricesCSV = `date,symbol,open,high,low,close,volume
2024-01-02,AAA,50,50,50,50,1000
2024-01-03,AAA,55,55,55,55,1000
2024-01-04,AAA,60,60,60,60,1000
2024-01-05,AAA,58,58,58,58,1000
2024-01-02,BBB,20,20,20,20,1000
2024-01-03,BBB,19,19,19,19,1000
2024-01-04,BBB,18,18,18,18,1000
2024-01-05,BBB,21,21,21,21,1000
`

type fixture struct {
	router *gin.Engine
	store  *storage.ResultStore
}

func newFixture(t *testing.T, withStore bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	stratDir := filepath.Join(dir, "strategies")
	for _, d := range []string{dataDir, stratDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dataDir, "prices.csv"), []byte(pricesCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	strat := "strategy:\n  name: buy_and_hold\n  params:\n    allocation: 0.5\n"
	if err := os.WriteFile(filepath.Join(stratDir, "half.yaml"), []byte(strat), 0o644); err != nil {
		t.Fatal(err)
	}

	f := &fixture{}
	if withStore {
		s, err := storage.NewResultStore(filepath.Join(dir, "results.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		f.store = s
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bt := NewBacktestHandler(Options{
		Store:       f.store,
		Hub:         telemetry.NewHub(16, log),
		DataDir:     dataDir,
		StrategyDir: stratDir,
		Logger:      log,
	})
	r := gin.New()
	api := r.Group("/api/v1")
	api.POST("/backtest", bt.RunBacktest)
	api.POST("/backtest/compare", bt.CompareBacktests)
	api.GET("/backtest/:id", bt.GetResult)
	api.GET("/backtest/:id/ledger", bt.GetLedger)
	api.GET("/backtest/:id/equity", bt.GetEquity)
	api.GET("/backtests", bt.ListResults)
	api.GET("/strategies", NewStrategyHandler().ListStrategies)
	api.GET("/datasets", NewDatasetHandler(dataDir).ListDatasets)
	api.GET("/strategies/presets", NewPresetHandler(stratDir, log).ListPresets)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

type runResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Summary struct {
		Strategy     string          `json:"strategy"`
		FinalCapital string          `json:"final_capital"`
		TotalTrades  int             `json:"total_trades"`
		TradingDays  int             `json:"trading_days"`
		ProfitFactor json.RawMessage `json:"profit_factor"`
	} `json:"summary"`
	Trades      []json.RawMessage `json:"trades"`
	EquityCurve []json.RawMessage `json:"equity_curve"`
}

func TestRunBacktest_Dataset(t *testing.T) {
	f := newFixture(t, true)
	body := `{
		"data": {"dataset_id": "prices", "symbols": ["AAA"]},
		"config": {"initial_capital": 100000, "strategy": {"name": "buy_and_hold"}},
		"options": {"include_trades": true, "include_equity": true}
	}`
	w := f.do(t, http.MethodPost, "/api/v1/backtest", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	resp := decode[runResponse](t, w)
	if resp.ID == "" || resp.Status != "completed" {
		t.Errorf("id/status = %q/%q", resp.ID, resp.Status)
	}
	if resp.Summary.Strategy != "buy_and_hold" || resp.Summary.TradingDays != 4 {
		t.Errorf("summary = %+v", resp.Summary)
	}
	if len(resp.Trades) != 1 || len(resp.EquityCurve) != 4 {
		t.Errorf("trades = %d equity = %d", len(resp.Trades), len(resp.EquityCurve))
	}

	// the run was persisted and is readable back
	w = f.do(t, http.MethodGet, "/api/v1/backtest/"+resp.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d body = %s", w.Code, w.Body.String())
	}
	got := decode[runResponse](t, w)
	if got.Summary.FinalCapital != resp.Summary.FinalCapital {
		t.Errorf("stored final capital %s != %s", got.Summary.FinalCapital, resp.Summary.FinalCapital)
	}

	w = f.do(t, http.MethodGet, "/api/v1/backtest/"+resp.ID+"/ledger", "")
	ledger := decode[struct {
		Count int `json:"count"`
	}](t, w)
	if w.Code != http.StatusOK || ledger.Count != 1 {
		t.Errorf("ledger status %d count %d", w.Code, ledger.Count)
	}
	w = f.do(t, http.MethodGet, "/api/v1/backtest/"+resp.ID+"/equity", "")
	equity := decode[struct {
		Count int `json:"count"`
	}](t, w)
	if w.Code != http.StatusOK || equity.Count != 4 {
		t.Errorf("equity status %d count %d", w.Code, equity.Count)
	}

	w = f.do(t, http.MethodGet, "/api/v1/backtests?limit=10", "")
	list := decode[models.ResultList](t, w)
	if w.Code != http.StatusOK || list.Count != 1 || list.Results[0].ID != resp.ID {
		t.Errorf("list status %d = %+v", w.Code, list)
	}
}

func TestRunBacktest_InlineBarsAndStrategyFile(t *testing.T) {
	f := newFixture(t, false)
	body := `{
		"data": {"bars": {"XYZ": [
			{"date": "2024-03-01", "open": 10, "high": 10, "low": 10, "close": 10, "volume": 1},
			{"date": "2024-03-04", "open": 12, "high": 12, "low": 12, "close": 12, "volume": 1}
		]}},
		"config": {"strategy_file": "half", "strategy": {}},
		"options": {"run_id": "7f1e7a52-3c1b-4d0e-9a59-2b8f4f6f3f10"}
	}`
	w := f.do(t, http.MethodPost, "/api/v1/backtest", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	resp := decode[runResponse](t, w)
	if resp.ID != "7f1e7a52-3c1b-4d0e-9a59-2b8f4f6f3f10" {
		t.Errorf("id = %q, want the supplied run_id", resp.ID)
	}
	if resp.Summary.Strategy != "buy_and_hold" {
		t.Errorf("strategy = %q", resp.Summary.Strategy)
	}
	// no trades closed, so profit factor is zero rather than +Inf
	if string(resp.Summary.ProfitFactor) != "0" {
		t.Errorf("profit_factor = %s", resp.Summary.ProfitFactor)
	}
}

func TestRunBacktest_Errors(t *testing.T) {
	f := newFixture(t, false)
	tests := []struct {
		name string
		body string
		code int
		err  string
	}{
		{"malformed json", `{`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad run id", `{"data":{"dataset_id":"prices"},"config":{"strategy":{"name":"buy_and_hold"}},"options":{"run_id":"nope"}}`, http.StatusBadRequest, "INVALID_RUN_ID"},
		{"unknown strategy", `{"data":{"dataset_id":"prices"},"config":{"strategy":{"name":"martingale"}}}`, http.StatusBadRequest, "INVALID_CONFIG"},
		{"bad risk", `{"data":{"dataset_id":"prices"},"config":{"strategy":{"name":"buy_and_hold"},"risk":{"max_drawdown":2}}}`, http.StatusBadRequest, "INVALID_CONFIG"},
		{"escaping strategy file", `{"data":{"dataset_id":"prices"},"config":{"strategy_file":"../x"}}`, http.StatusBadRequest, "INVALID_CONFIG"},
		{"no data", `{"config":{"strategy":{"name":"buy_and_hold"}}}`, http.StatusBadRequest, "DATA_LOAD_ERROR"},
		{"unknown dataset", `{"data":{"dataset_id":"missing"},"config":{"strategy":{"name":"buy_and_hold"}}}`, http.StatusNotFound, "DATA_LOAD_ERROR"},
		{"window without data", `{"data":{"dataset_id":"prices"},"config":{"start_date":"2030-01-01","strategy":{"name":"buy_and_hold"}}}`, http.StatusBadRequest, "BACKTEST_ERROR"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v1/backtest", tc.body)
			if w.Code != tc.code {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tc.code, w.Body.String())
			}
			if got := decode[models.ErrorResponse](t, w); got.Error.Code != tc.err {
				t.Errorf("code = %q, want %q", got.Error.Code, tc.err)
			}
		})
	}
}

func TestCompareBacktests(t *testing.T) {
	f := newFixture(t, false)
	body := `{
		"data": {"dataset_id": "prices"},
		"base_config": {"initial_capital": 50000, "strategy": {"name": "buy_and_hold"}},
		"variations": [
			{"name": "only_bbb", "config": {"strategy": {"params": {"symbols": ["BBB"]}}}},
			{"name": "only_aaa", "config": {"strategy": {"params": {"symbols": ["AAA"]}}}},
			{"name": "broken", "config": {"strategy": {"name": "martingale"}}}
		]
	}`
	w := f.do(t, http.MethodPost, "/api/v1/backtest/compare", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	resp := decode[models.CompareBacktestResponse](t, w)
	if len(resp.Comparison) != 3 {
		t.Fatalf("comparison = %+v", resp.Comparison)
	}
	// AAA rises 50 -> 58 after the buy, BBB falls then recovers to 21
	if resp.Comparison[0].Name != "only_aaa" || resp.Comparison[0].Rank != 1 {
		t.Errorf("first = %+v", resp.Comparison[0])
	}
	if resp.Comparison[1].Rank != 2 {
		t.Errorf("second = %+v", resp.Comparison[1])
	}
	last := resp.Comparison[2]
	if last.Name != "broken" || last.Error == "" || last.Rank != 0 {
		t.Errorf("failed variation = %+v", last)
	}
}

func TestCompareBacktests_DuplicateNames(t *testing.T) {
	f := newFixture(t, false)
	body := `{"data":{"dataset_id":"prices"},"base_config":{"strategy":{"name":"buy_and_hold"}},
		"variations":[{"name":"a","config":{}},{"name":"a","config":{}}]}`
	w := f.do(t, http.MethodPost, "/api/v1/backtest/compare", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestStoredResults_NotFoundAndDisabled(t *testing.T) {
	withStore := newFixture(t, true)
	if w := withStore.do(t, http.MethodGet, "/api/v1/backtest/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", w.Code)
	}
	if w := withStore.do(t, http.MethodGet, "/api/v1/backtests?limit=0", ""); w.Code != http.StatusOK {
		t.Errorf("list with default limit status = %d", w.Code)
	}
	if w := withStore.do(t, http.MethodGet, "/api/v1/backtests?limit=9999", ""); w.Code != http.StatusBadRequest {
		t.Errorf("oversized limit status = %d, want 400", w.Code)
	}

	noStore := newFixture(t, false)
	for _, path := range []string{"/api/v1/backtest/x", "/api/v1/backtest/x/ledger", "/api/v1/backtest/x/equity", "/api/v1/backtests"} {
		if w := noStore.do(t, http.MethodGet, path, ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, w.Code)
		}
	}
}

func TestListStrategiesAndDatasets(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodGet, "/api/v1/strategies", "")
	strategies := decode[struct {
		Strategies []struct {
			Name string `json:"name"`
		} `json:"strategies"`
	}](t, w)
	names := map[string]bool{}
	for _, s := range strategies.Strategies {
		names[s.Name] = true
	}
	for _, want := range []string{"sma_cross", "buy_and_hold", "rebalance"} {
		if !names[want] {
			t.Errorf("strategy %s missing from %v", want, names)
		}
	}

	w = f.do(t, http.MethodGet, "/api/v1/datasets", "")
	datasets := decode[struct {
		Datasets []struct {
			ID     string `json:"id"`
			Format string `json:"format"`
		} `json:"datasets"`
		Count int `json:"count"`
	}](t, w)
	if datasets.Count != 1 || datasets.Datasets[0].ID != "prices" || datasets.Datasets[0].Format != "csv" {
		t.Errorf("datasets = %+v", datasets)
	}
}

func TestListPresets(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(t, http.MethodGet, "/api/v1/strategies/presets", "")
	resp := decode[struct {
		Presets []PresetInfo `json:"presets"`
		Count   int          `json:"count"`
	}](t, w)
	if w.Code != http.StatusOK || resp.Count != 1 {
		t.Fatalf("status %d presets %+v", w.Code, resp)
	}
	p := resp.Presets[0]
	if p.ID != "half" || p.Strategy != "buy_and_hold" || p.Params["allocation"] != 0.5 {
		t.Errorf("preset = %+v", p)
	}
}

func TestFloatJSON(t *testing.T) {
	var buf bytes.Buffer
	m := models.FloatMap(map[string]float64{"pf": posInf()})
	if err := json.NewEncoder(&buf).Encode(m); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != `{"pf":"+Inf"}` {
		t.Errorf("encoded = %s", got)
	}
}

func posInf() float64 {
	zero := 0.0
	return 1 / zero
}

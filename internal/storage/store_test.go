package storage

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"equity-backtest/internal/backtest"
	"equity-backtest/internal/model"
)

func newTestStore(t *testing.T) *ResultStore {
	t.Helper()
	s, err := NewResultStore(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult() *backtest.Result {
	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return &backtest.Result{
		ID: "run-1",
		Config: backtest.Config{
			StartDate:       d,
			EndDate:         d.AddDate(0, 0, 1),
			InitialCapital:  100000,
			StrategyName:    "sma_cross",
			BenchmarkSymbol: "SPY",
		},
		InitialCapital: 100000,
		FinalCapital:   101000.1,
		FinalCash:      101000.1,
		TotalReturn:    0.010001,
		SharpeRatio:    1.5,
		MaxDrawdown:    -0.02,
		WinRate:        0.5,
		ProfitFactor:   math.Inf(1),
		TotalTrades:    2,
		Trades: []model.Trade{
			{Date: d, Symbol: "AAPL", Action: model.ActionBuy, Quantity: 100, Price: 50.05, Value: 5005, Commission: 0.1, SignalID: "a", StrategyName: "sma_cross"},
			{Date: d.AddDate(0, 0, 1), Symbol: "AAPL", Action: model.ActionSell, Quantity: 100, Price: 60.1, Value: 6010, RealizedPnL: 1005, SignalID: "b", StrategyName: "sma_cross"},
		},
		EquityCurve: []model.EquityPoint{
			{Date: d, Equity: 100000, Cash: 100000},
			{Date: d.AddDate(0, 0, 1), Equity: 101000.1, Cash: 94994.9},
		},
		PerformanceMetrics: map[string]float64{"sharpe_ratio": 1.5, "profit_factor": math.Inf(1)},
		StartedAt:          time.UnixMilli(1700000000000).UTC(),
		CompletedAt:        time.UnixMilli(1700000001000).UTC(),
	}
}

func TestResultStore_SaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	res := sampleResult()

	if err := s.SaveResult(ctx, res.ID, res, map[string]string{"strategy": "sma_cross"}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if err := s.SaveTrades(ctx, res.ID, res.Trades); err != nil {
		t.Fatalf("SaveTrades: %v", err)
	}
	if err := s.SaveEquityCurve(ctx, res.ID, res.EquityCurve); err != nil {
		t.Fatalf("SaveEquityCurve: %v", err)
	}
	if err := s.SaveMetrics(ctx, res.ID, res.PerformanceMetrics); err != nil {
		t.Fatalf("SaveMetrics: %v", err)
	}

	got, err := s.GetResult(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Strategy != "sma_cross" || got.StartDate != "2024-01-02" || got.Benchmark != "SPY" {
		t.Errorf("summary = %+v", got)
	}
	if got.FinalCapital.String() != "101000.1" {
		t.Errorf("final capital = %s, want 101000.1", got.FinalCapital)
	}
	if !math.IsInf(got.ProfitFactor, 1) {
		t.Errorf("profit factor = %v, want +Inf", got.ProfitFactor)
	}
	if got.Meta["strategy"] != "sma_cross" || !got.CompletedAt.Equal(res.CompletedAt) {
		t.Errorf("meta = %v completed = %v", got.Meta, got.CompletedAt)
	}

	trades, err := s.LoadTrades(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(trades, res.Trades) {
		t.Errorf("trades round trip:\n got %+v\nwant %+v", trades, res.Trades)
	}

	curve, err := s.LoadEquityCurve(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(curve, res.EquityCurve) {
		t.Errorf("equity round trip:\n got %+v\nwant %+v", curve, res.EquityCurve)
	}

	metrics, err := s.LoadMetrics(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if metrics["sharpe_ratio"] != 1.5 || !math.IsInf(metrics["profit_factor"], 1) {
		t.Errorf("metrics = %v", metrics)
	}
}

func TestResultStore_ResaveReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	res := sampleResult()

	for i := 0; i < 2; i++ {
		if err := s.SaveTrades(ctx, res.ID, res.Trades); err != nil {
			t.Fatal(err)
		}
	}
	trades, _ := s.LoadTrades(ctx, res.ID)
	if len(trades) != 2 {
		t.Errorf("trades after resave = %d, want 2", len(trades))
	}
}

func TestResultStore_ListAndNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := sampleResult()
	newer := sampleResult()
	newer.ID = "run-2"
	newer.CompletedAt = older.CompletedAt.Add(time.Hour)
	for _, r := range []*backtest.Result{older, newer} {
		if err := s.SaveResult(ctx, r.ID, r, nil); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListResults(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "run-2" {
		t.Errorf("list = %+v", list)
	}

	if _, err := s.GetResult(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetResult(missing) err = %v, want ErrNotFound", err)
	}
}

func TestResultStore_AsEngineSink(t *testing.T) {
	s := newTestStore(t)
	store := newPriceStore(t)
	strat := buyFirstDay("AAPL", 10)

	res, err := backtest.New(backtest.Config{InitialCapital: 1000}, store, backtest.WithStrategy(strat), backtest.WithSink(s)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetResult(context.Background(), res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalTrades != 1 {
		t.Errorf("stored trades = %d, want 1", got.TotalTrades)
	}
	curve, _ := s.LoadEquityCurve(context.Background(), res.ID)
	if len(curve) != 3 {
		t.Errorf("stored equity points = %d, want 3", len(curve))
	}
}

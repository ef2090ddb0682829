package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"equity-backtest/internal/analysis"
	"equity-backtest/internal/api/models"
	"equity-backtest/internal/backtest"
	"equity-backtest/internal/config"
	"equity-backtest/internal/data"
	"equity-backtest/internal/model"
	"equity-backtest/internal/storage"
	"equity-backtest/internal/telemetry"
)

// Options holds the shared services handlers run against. Store and Hub
// are optional.
type Options struct {
	Store            *storage.ResultStore
	Cache            *data.DatasetCache
	Hub              *telemetry.Hub
	DataDir          string
	StrategyDir      string
	ProgressInterval int
	Logger           *slog.Logger
}

// BacktestHandler handles backtest-related requests
type BacktestHandler struct {
	store       *storage.ResultStore
	cache       *data.DatasetCache
	hub         *telemetry.Hub
	dataDir     string
	strategyDir string
	every       int
	log         *slog.Logger
}

// NewBacktestHandler creates a new backtest handler
func NewBacktestHandler(o Options) *BacktestHandler {
	h := &BacktestHandler{
		store:       o.Store,
		cache:       o.Cache,
		hub:         o.Hub,
		dataDir:     o.DataDir,
		strategyDir: o.StrategyDir,
		every:       o.ProgressInterval,
		log:         o.Logger,
	}
	if h.cache == nil {
		h.cache = data.NewDatasetCache(0)
	}
	if h.dataDir == "" {
		h.dataDir = data.GetDefaultDataDir()
	}
	if h.strategyDir == "" {
		h.strategyDir = GetStrategyDir()
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	return h
}

// GetStrategyDir returns the directory strategy_file names resolve against.
func GetStrategyDir() string {
	if dir := os.Getenv("STRATEGY_DIR"); dir != "" {
		return dir
	}
	return filepath.Join("examples", "strategies")
}

// RunBacktest handles POST /api/v1/backtest
func (h *BacktestHandler) RunBacktest(c *gin.Context) {
	var req models.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.NewError("INVALID_REQUEST", err.Error()))
		return
	}

	runID, err := parseRunID(req.Options.RunID)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewError("INVALID_RUN_ID", err.Error()))
		return
	}

	cfg, err := h.buildConfig(req.Config)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewError("INVALID_CONFIG", err.Error()))
		return
	}
	cfg.Data.Symbols = req.Data.Symbols

	prices, status, err := h.loadPrices(req.Data)
	if err != nil {
		c.JSON(status, models.NewError("DATA_LOAD_ERROR", err.Error()))
		return
	}

	res, status, err := h.run(c.Request.Context(), cfg, prices, runID)
	if err != nil {
		c.JSON(status, models.NewError("BACKTEST_ERROR", err.Error()))
		return
	}

	c.JSON(http.StatusOK, buildResponse(res, req.Options))
}

// CompareBacktests handles POST /api/v1/backtest/compare. Every variation
// runs over the same market data; successful runs are ranked by Sharpe
// ratio and failed ones are listed after them with their error.
func (h *BacktestHandler) CompareBacktests(c *gin.Context) {
	var req models.CompareBacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	seen := make(map[string]bool, len(req.Variations))
	for _, v := range req.Variations {
		if seen[v.Name] {
			c.JSON(http.StatusBadRequest, models.NewError("DUPLICATE_VARIATION", fmt.Sprintf("variation %q appears more than once", v.Name)))
			return
		}
		seen[v.Name] = true
	}

	prices, status, err := h.loadPrices(req.Data)
	if err != nil {
		c.JSON(status, models.NewError("DATA_LOAD_ERROR", err.Error()))
		return
	}

	var (
		scored  []analysis.Scored
		results = make(map[string]*backtest.Result, len(req.Variations))
		failed  []models.ComparisonResult
	)
	for _, v := range req.Variations {
		res, err := h.runVariation(c.Request.Context(), mergeConfig(req.BaseConfig, v.Config), req.Data.Symbols, prices)
		if err != nil {
			h.log.Warn("comparison variation failed", slog.String("variation", v.Name), slog.String("error", err.Error()))
			failed = append(failed, models.ComparisonResult{Name: v.Name, Error: err.Error()})
			continue
		}
		results[v.Name] = res
		scored = append(scored, analysis.Scored{Name: v.Name, Metrics: res.Metrics()})
	}

	comparison := make([]models.ComparisonResult, 0, len(req.Variations))
	for _, s := range analysis.Rank(scored) {
		res := results[s.Name]
		summary := summaryFromResult(res)
		comparison = append(comparison, models.ComparisonResult{
			Rank:    s.Rank,
			Name:    s.Name,
			ID:      res.ID,
			Summary: &summary,
		})
	}
	comparison = append(comparison, failed...)

	c.JSON(http.StatusOK, models.CompareBacktestResponse{Comparison: comparison})
}

func (h *BacktestHandler) runVariation(ctx context.Context, req models.BacktestConfig, symbols []string, prices model.PriceSeries) (*backtest.Result, error) {
	cfg, err := h.buildConfig(req)
	if err != nil {
		return nil, err
	}
	cfg.Data.Symbols = symbols
	res, _, err := h.run(ctx, cfg, prices, uuid.NewString())
	return res, err
}

// GetResult handles GET /api/v1/backtest/:id
func (h *BacktestHandler) GetResult(c *gin.Context) {
	stored, ok := h.lookup(c)
	if !ok {
		return
	}
	metrics, err := h.store.LoadMetrics(c.Request.Context(), stored.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.NewError("STORAGE_ERROR", err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.BacktestResponse{
		ID:      stored.ID,
		Status:  "completed",
		Summary: summaryFromStored(stored),
		Metrics: models.FloatMap(metrics),
	})
}

// GetLedger handles GET /api/v1/backtest/:id/ledger
func (h *BacktestHandler) GetLedger(c *gin.Context) {
	stored, ok := h.lookup(c)
	if !ok {
		return
	}
	trades, err := h.store.LoadTrades(c.Request.Context(), stored.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.NewError("STORAGE_ERROR", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": stored.ID, "trades": trades, "count": len(trades)})
}

// GetEquity handles GET /api/v1/backtest/:id/equity
func (h *BacktestHandler) GetEquity(c *gin.Context) {
	stored, ok := h.lookup(c)
	if !ok {
		return
	}
	curve, err := h.store.LoadEquityCurve(c.Request.Context(), stored.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.NewError("STORAGE_ERROR", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": stored.ID, "equity_curve": curve, "count": len(curve)})
}

// ListResults handles GET /api/v1/backtests
func (h *BacktestHandler) ListResults(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	var req models.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	if req.Limit == 0 {
		req.Limit = 50
	}
	stored, err := h.store.ListResults(c.Request.Context(), req.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.NewError("STORAGE_ERROR", err.Error()))
		return
	}
	out := models.ResultList{Results: make([]models.BacktestSummaryWithID, len(stored)), Count: len(stored)}
	for i := range stored {
		out.Results[i] = models.BacktestSummaryWithID{ID: stored[i].ID, BacktestSummary: summaryFromStored(&stored[i])}
	}
	c.JSON(http.StatusOK, out)
}

// Helper methods

func (h *BacktestHandler) requireStore(c *gin.Context) bool {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, models.NewError("STORAGE_DISABLED", "result storage is not configured"))
		return false
	}
	return true
}

func (h *BacktestHandler) lookup(c *gin.Context) (*storage.ResultSummary, bool) {
	if !h.requireStore(c) {
		return nil, false
	}
	stored, err := h.store.GetResult(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, models.NewError("NOT_FOUND", err.Error()))
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.NewError("STORAGE_ERROR", err.Error()))
		return nil, false
	}
	return stored, true
}

func (h *BacktestHandler) buildConfig(req models.BacktestConfig) (*config.Config, error) {
	cfg := config.Defaults()
	cfg.Backtest = config.MergeBacktest(cfg.Backtest, config.BacktestConfig{
		StartDate:          req.StartDate,
		EndDate:            req.EndDate,
		InitialCapital:     req.InitialCapital,
		CommissionRate:     req.CommissionRate,
		SlippageBps:        req.SlippageBps,
		BenchmarkSymbol:    req.BenchmarkSymbol,
		RebalanceFrequency: req.RebalanceFrequency,
	})
	cfg.Strategy = config.StrategyConfig{Name: req.Strategy.Name, Params: req.Strategy.Params}

	// If strategy_file is set, load it and merge request overrides onto it
	if req.StrategyFile != "" {
		if strings.ContainsAny(req.StrategyFile, `/\`) || strings.Contains(req.StrategyFile, "..") {
			return nil, fmt.Errorf("invalid strategy_file %q", req.StrategyFile)
		}
		path := filepath.Join(h.strategyDir, req.StrategyFile+".yaml")
		loaded, err := config.LoadUnchecked(path)
		if err != nil {
			return nil, fmt.Errorf("load strategy_file %s: %w", req.StrategyFile, err)
		}
		cfg.Strategy = config.MergeStrategy(loaded.Strategy, cfg.Strategy)
	}

	if r := req.Risk; r != nil {
		cfg.Risk.Enabled = true
		cfg.Risk.MaxDrawdown = r.MaxDrawdown
		cfg.Risk.MaxDailyLoss = r.MaxDailyLoss
		cfg.Risk.MaxPositionWeight = r.MaxPositionWeight
		if r.ReduceFraction != 0 {
			cfg.Risk.ReduceFraction = r.ReduceFraction
		}
	}
	if h.every > 0 {
		cfg.Progress.Interval = h.every
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadPrices returns the request's market data and, on failure, the HTTP
// status to report.
func (h *BacktestHandler) loadPrices(ds models.DataSource) (model.PriceSeries, int, error) {
	if len(ds.Bars) > 0 {
		return ds.Bars, http.StatusOK, nil
	}
	if ds.DatasetID == "" {
		return nil, http.StatusBadRequest, errors.New("data.dataset_id or data.bars is required")
	}
	path, err := data.ResolveDataset(h.dataDir, ds.DatasetID)
	if errors.Is(err, data.ErrDatasetNotFound) {
		return nil, http.StatusNotFound, err
	}
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	prices, err := h.cache.Load(path)
	if err != nil {
		return nil, http.StatusUnprocessableEntity, err
	}
	return prices, http.StatusOK, nil
}

// run executes one backtest and reports the HTTP status for any error.
func (h *BacktestHandler) run(ctx context.Context, cfg *config.Config, prices model.PriceSeries, runID string) (*backtest.Result, int, error) {
	opts := []backtest.Option{backtest.WithRunID(runID)}
	if h.store != nil {
		opts = append(opts, backtest.WithSink(h.store))
	}
	if h.hub != nil {
		opts = append(opts, backtest.WithObserver(h.hub.Observer(runID)))
	}

	engine, err := cfg.NewEngine(h.log.With(slog.String("run_id", runID)), prices, opts...)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	res, err := engine.Run(ctx)
	switch {
	case errors.Is(err, backtest.ErrNoData), errors.Is(err, backtest.ErrNoStrategy):
		return nil, http.StatusBadRequest, err
	case errors.Is(err, backtest.ErrCanceled):
		return nil, http.StatusServiceUnavailable, err
	case err != nil:
		return nil, http.StatusInternalServerError, err
	}
	return res, http.StatusOK, nil
}

func parseRunID(s string) (string, error) {
	if s == "" {
		return uuid.NewString(), nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("run_id must be a UUID: %w", err)
	}
	return id.String(), nil
}

// mergeConfig overlays a variation onto the comparison's base config.
func mergeConfig(base, override models.BacktestConfig) models.BacktestConfig {
	merged := base
	if override.StartDate != "" {
		merged.StartDate = override.StartDate
	}
	if override.EndDate != "" {
		merged.EndDate = override.EndDate
	}
	if override.InitialCapital != 0 {
		merged.InitialCapital = override.InitialCapital
	}
	if override.CommissionRate != 0 {
		merged.CommissionRate = override.CommissionRate
	}
	if override.SlippageBps != 0 {
		merged.SlippageBps = override.SlippageBps
	}
	if override.BenchmarkSymbol != "" {
		merged.BenchmarkSymbol = override.BenchmarkSymbol
	}
	if override.RebalanceFrequency != "" {
		merged.RebalanceFrequency = override.RebalanceFrequency
	}
	if override.StrategyFile != "" {
		merged.StrategyFile = override.StrategyFile
	}
	s := config.MergeStrategy(
		config.StrategyConfig{Name: base.Strategy.Name, Params: base.Strategy.Params},
		config.StrategyConfig{Name: override.Strategy.Name, Params: override.Strategy.Params},
	)
	merged.Strategy = models.StrategyConfig{Name: s.Name, Params: s.Params}
	if override.Risk != nil {
		merged.Risk = override.Risk
	}
	return merged
}

func buildResponse(res *backtest.Result, opts models.BacktestOptions) models.BacktestResponse {
	resp := models.BacktestResponse{
		ID:            res.ID,
		Status:        "completed",
		Summary:       summaryFromResult(res),
		Metrics:       models.FloatMap(res.PerformanceMetrics),
		OpenPositions: res.OpenPositions,
	}
	if opts.IncludeTrades {
		resp.Trades = res.Trades
	}
	if opts.IncludeEquity {
		resp.EquityCurve = res.EquityCurve
	}
	return resp
}

func summaryFromResult(res *backtest.Result) models.BacktestSummary {
	s := models.BacktestSummary{
		Strategy:         res.Config.StrategyName,
		Benchmark:        res.Config.BenchmarkSymbol,
		InitialCapital:   models.Money(res.InitialCapital),
		FinalCapital:     models.Money(res.FinalCapital),
		FinalCash:        models.Money(res.FinalCash),
		TotalReturn:      models.Float(res.TotalReturn),
		AnnualizedReturn: models.Float(res.AnnualizedReturn),
		Volatility:       models.Float(res.Volatility),
		SharpeRatio:      models.Float(res.SharpeRatio),
		MaxDrawdown:      models.Float(res.MaxDrawdown),
		WinRate:          models.Float(res.WinRate),
		ProfitFactor:     models.Float(res.ProfitFactor),
		WinLossRatio:     models.Float(res.WinLossRatio),
		TotalTrades:      res.TotalTrades,
		TradingDays:      len(res.EquityCurve),
		RejectedSignals:  res.RejectedSignals,
		FailedDays:       res.FailedDays,
		StartedAt:        res.StartedAt,
		CompletedAt:      res.CompletedAt,
	}
	if n := len(res.EquityCurve); n > 0 {
		s.StartDate = res.EquityCurve[0].Date.Format(model.DateLayout)
		s.EndDate = res.EquityCurve[n-1].Date.Format(model.DateLayout)
	}
	return s
}

func summaryFromStored(r *storage.ResultSummary) models.BacktestSummary {
	return models.BacktestSummary{
		Strategy:         r.Strategy,
		StartDate:        r.StartDate,
		EndDate:          r.EndDate,
		Benchmark:        r.Benchmark,
		InitialCapital:   r.InitialCapital.Round(2),
		FinalCapital:     r.FinalCapital.Round(2),
		FinalCash:        r.FinalCash.Round(2),
		TotalReturn:      models.Float(r.TotalReturn),
		AnnualizedReturn: models.Float(r.AnnualizedReturn),
		Volatility:       models.Float(r.Volatility),
		SharpeRatio:      models.Float(r.SharpeRatio),
		MaxDrawdown:      models.Float(r.MaxDrawdown),
		WinRate:          models.Float(r.WinRate),
		ProfitFactor:     models.Float(r.ProfitFactor),
		WinLossRatio:     models.Float(r.WinLossRatio),
		TotalTrades:      r.TotalTrades,
		RejectedSignals:  r.RejectedSignals,
		FailedDays:       r.FailedDays,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
	}
}

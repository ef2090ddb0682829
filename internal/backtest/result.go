package backtest

import (
	"context"
	"fmt"
	"time"

	"equity-backtest/internal/analysis"
	"equity-backtest/internal/model"
)

// Config is fixed for the duration of a run.
type Config struct {
	StartDate          time.Time
	EndDate            time.Time
	InitialCapital     float64
	CommissionRate     float64
	SlippageBps        float64
	BenchmarkSymbol    string
	RebalanceFrequency string
	StrategyName       string
	Conventions        analysis.Conventions
}

func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be > 0, got %v", c.InitialCapital)
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return fmt.Errorf("commission_rate must be in [0,1), got %v", c.CommissionRate)
	}
	if c.SlippageBps < 0 || c.SlippageBps >= 10000 {
		return fmt.Errorf("slippage_bps must be in [0,10000), got %v", c.SlippageBps)
	}
	if !c.StartDate.IsZero() && !c.EndDate.IsZero() && c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("end_date %s is before start_date %s", c.EndDate.Format(model.DateLayout), c.StartDate.Format(model.DateLayout))
	}
	return nil
}

// Result is produced once at the end of a run and not modified afterwards.
type Result struct {
	ID     string
	Config Config

	InitialCapital   float64
	FinalCapital     float64
	TotalReturn      float64
	AnnualizedReturn float64
	Volatility       float64
	SharpeRatio      float64
	MaxDrawdown      float64
	WinRate          float64
	ProfitFactor     float64
	WinLossRatio     float64
	TotalTrades      int

	PerformanceMetrics map[string]float64
	EquityCurve        []model.EquityPoint
	Trades             []model.Trade

	// Terminal portfolio state after the last day's trades.
	FinalCash     float64
	OpenPositions map[string]model.Position

	RejectedSignals int
	FailedDays      int

	StartedAt   time.Time
	CompletedAt time.Time
}

// Metrics returns the headline figures as analysis.Metrics.
func (r *Result) Metrics() analysis.Metrics {
	return analysis.Metrics{
		TotalReturn:      r.TotalReturn,
		AnnualizedReturn: r.AnnualizedReturn,
		Volatility:       r.Volatility,
		SharpeRatio:      r.SharpeRatio,
		MaxDrawdown:      r.MaxDrawdown,
		WinRate:          r.WinRate,
		ProfitFactor:     r.ProfitFactor,
		WinLossRatio:     r.WinLossRatio,
		TotalTrades:      r.TotalTrades,
		Extra:            r.PerformanceMetrics,
	}
}

// PersistenceSink stores finished results. Calls are best-effort; errors are
// logged by the engine and never fail a run.
type PersistenceSink interface {
	SaveResult(ctx context.Context, id string, res *Result, meta map[string]string) error
	SaveTrades(ctx context.Context, id string, trades []model.Trade) error
	SaveEquityCurve(ctx context.Context, id string, curve []model.EquityPoint) error
	SaveMetrics(ctx context.Context, id string, metrics map[string]float64) error
}

// ProgressObserver is called from the loop goroutine at a fixed cadence.
type ProgressObserver func(step, total int, msg string)

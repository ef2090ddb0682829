package analysis

import (
	"errors"
	"fmt"
	"math"
	"time"

	"equity-backtest/internal/model"
)

// Conventions controls annualisation. Total return is annualised over
// ReturnDays calendar days per year; volatility and ratios use
// VolatilityDays trading days per year.
type Conventions struct {
	ReturnDays     float64 `yaml:"return_days" json:"return_days"`
	VolatilityDays float64 `yaml:"volatility_days" json:"volatility_days"`
	RiskFreeRate   float64 `yaml:"risk_free_rate" json:"risk_free_rate"` // annual
}

func DefaultConventions() Conventions {
	return Conventions{ReturnDays: 365, VolatilityDays: 252}
}

func (c Conventions) withDefaults() Conventions {
	d := DefaultConventions()
	if c.ReturnDays <= 0 {
		c.ReturnDays = d.ReturnDays
	}
	if c.VolatilityDays <= 0 {
		c.VolatilityDays = d.VolatilityDays
	}
	return c
}

// Keys of Metrics.Extra.
const (
	KeyWinningTrades   = "winning_trades"
	KeyLosingTrades    = "losing_trades"
	KeyAvgWin          = "avg_win"
	KeyAvgLoss         = "avg_loss"
	KeyTotalCommission = "total_commission"
	KeySortino         = "sortino_ratio"
	KeyCalmar          = "calmar_ratio"
	KeyTradingDays     = "trading_days"
	KeyFinalEquity     = "final_equity"
	KeyBenchmarkReturn = "benchmark_return"
	KeyBeta            = "beta"
	KeyExcessReturn    = "excess_return"
)

// Metrics are the performance statistics of one run.
type Metrics struct {
	TotalReturn      float64
	AnnualizedReturn float64
	Volatility       float64
	SharpeRatio      float64
	MaxDrawdown      float64 // <= 0
	WinRate          float64
	ProfitFactor     float64 // +Inf with wins and no losses
	WinLossRatio     float64
	TotalTrades      int

	Extra map[string]float64
}

// Map flattens the metrics into a single name -> value map.
func (m Metrics) Map() map[string]float64 {
	out := map[string]float64{
		"total_return":      m.TotalReturn,
		"annualized_return": m.AnnualizedReturn,
		"volatility":        m.Volatility,
		"sharpe_ratio":      m.SharpeRatio,
		"max_drawdown":      m.MaxDrawdown,
		"win_rate":          m.WinRate,
		"profit_factor":     m.ProfitFactor,
		"win_loss_ratio":    m.WinLossRatio,
		"total_trades":      float64(m.TotalTrades),
	}
	for k, v := range m.Extra {
		out[k] = v
	}
	return out
}

// Compute derives performance metrics from an equity curve and trade list.
// benchmark maps dates to benchmark closes and may be nil.
func Compute(curve []model.EquityPoint, trades []model.Trade, initialCapital float64, conv Conventions, benchmark map[time.Time]float64) (Metrics, error) {
	if initialCapital <= 0 || math.IsNaN(initialCapital) || math.IsInf(initialCapital, 0) {
		return Metrics{}, fmt.Errorf("initial capital must be a positive number, got %v", initialCapital)
	}
	conv = conv.withDefaults()

	m := Metrics{Extra: map[string]float64{}}

	final := initialCapital
	if len(curve) > 0 {
		final = curve[len(curve)-1].Equity
	}
	m.TotalReturn = (final - initialCapital) / initialCapital
	m.Extra[KeyFinalEquity] = final
	m.Extra[KeyTradingDays] = float64(len(curve))

	if len(curve) > 1 {
		days := curve[len(curve)-1].Date.Sub(curve[0].Date).Hours() / 24
		m.AnnualizedReturn = annualize(m.TotalReturn, days, conv.ReturnDays)
	}

	returns := DailyReturns(curve)
	mean, std := meanStd(returns)
	sqrtN := math.Sqrt(conv.VolatilityDays)
	m.Volatility = std * sqrtN
	rfDaily := conv.RiskFreeRate / conv.VolatilityDays
	if std > 0 {
		m.SharpeRatio = (mean - rfDaily) / std * sqrtN
	}
	if dd := downsideDeviation(returns, rfDaily); dd > 0 {
		m.Extra[KeySortino] = (mean - rfDaily) / dd * sqrtN
	} else {
		m.Extra[KeySortino] = 0
	}

	m.MaxDrawdown = MaxDrawdown(returns)
	if m.MaxDrawdown < 0 {
		m.Extra[KeyCalmar] = m.AnnualizedReturn / -m.MaxDrawdown
	} else {
		m.Extra[KeyCalmar] = 0
	}

	tradeStats(&m, trades)

	if len(benchmark) > 0 {
		benchmarkStats(&m, curve, returns, benchmark)
	}

	if err := checkFinite(m); err != nil {
		return Metrics{}, err
	}
	return m, nil
}

// annualize returns 0 when no time elapsed and -1 on total loss.
func annualize(total, days, perYear float64) float64 {
	if days <= 0 {
		return 0
	}
	growth := 1 + total
	if growth <= 0 {
		return -1
	}
	return math.Pow(growth, perYear/days) - 1
}

// DailyReturns is the percentage change between consecutive equity points.
// A zero prior equity yields a zero return for that step.
func DailyReturns(curve []model.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, curve[i].Equity/prev-1)
	}
	return out
}

// MaxDrawdown is the most negative (cum - runningMax)/runningMax over the
// compounded return series. The series starts at the first return.
func MaxDrawdown(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	cum := 1.0
	peak := math.Inf(-1)
	worst := 0.0
	for _, r := range returns {
		cum *= 1 + r
		if cum > peak {
			peak = cum
		}
		if peak > 0 {
			if dd := (cum - peak) / peak; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// meanStd returns the mean and sample standard deviation (n-1).
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	ss := 0.0
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

func downsideDeviation(xs []float64, target float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	ss := 0.0
	for _, x := range xs {
		if d := x - target; d < 0 {
			ss += d * d
		}
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func tradeStats(m *Metrics, trades []model.Trade) {
	m.TotalTrades = len(trades)
	var wins, losses int
	var grossWin, grossLoss, commission float64
	for _, t := range trades {
		commission += t.Commission
		if t.Action != model.ActionSell {
			continue
		}
		switch {
		case t.RealizedPnL > 0:
			wins++
			grossWin += t.RealizedPnL
		case t.RealizedPnL < 0:
			losses++
			grossLoss += -t.RealizedPnL
		}
	}

	m.Extra[KeyWinningTrades] = float64(wins)
	m.Extra[KeyLosingTrades] = float64(losses)
	m.Extra[KeyTotalCommission] = commission
	m.Extra[KeyAvgWin] = 0
	m.Extra[KeyAvgLoss] = 0

	if len(trades) == 0 {
		return
	}
	m.WinRate = float64(wins) / float64(len(trades))

	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossWin / grossLoss
	case grossWin > 0:
		m.ProfitFactor = math.Inf(1)
	}

	var avgWin, avgLoss float64
	if wins > 0 {
		avgWin = grossWin / float64(wins)
	}
	if losses > 0 {
		avgLoss = grossLoss / float64(losses)
		m.WinLossRatio = avgWin / avgLoss
	}
	m.Extra[KeyAvgWin] = avgWin
	m.Extra[KeyAvgLoss] = avgLoss
}

// benchmarkStats compares the strategy with a benchmark close series over
// the curve's dates. Days where the benchmark has no close are skipped.
func benchmarkStats(m *Metrics, curve []model.EquityPoint, returns []float64, closes map[time.Time]float64) {
	var first, last float64
	var strat, bench []float64
	prevClose := 0.0
	for i, p := range curve {
		c, ok := closes[model.Day(p.Date)]
		if !ok || c <= 0 {
			prevClose = 0
			continue
		}
		if first == 0 {
			first = c
		}
		last = c
		if i > 0 && prevClose > 0 {
			strat = append(strat, returns[i-1])
			bench = append(bench, c/prevClose-1)
		}
		prevClose = c
	}
	if first == 0 {
		return
	}
	br := last/first - 1
	m.Extra[KeyBenchmarkReturn] = br
	m.Extra[KeyExcessReturn] = m.TotalReturn - br
	m.Extra[KeyBeta] = beta(strat, bench)
}

func beta(strat, bench []float64) float64 {
	if len(bench) < 2 {
		return 0
	}
	ms, _ := meanStd(strat)
	mb, sb := meanStd(bench)
	if sb == 0 {
		return 0
	}
	cov := 0.0
	for i := range bench {
		cov += (strat[i] - ms) * (bench[i] - mb)
	}
	cov /= float64(len(bench) - 1)
	return cov / (sb * sb)
}

var errNaN = errors.New("metric is NaN")

func checkFinite(m Metrics) error {
	for k, v := range m.Map() {
		if math.IsNaN(v) {
			return fmt.Errorf("%s: %w", k, errNaN)
		}
		if math.IsInf(v, 0) && k != "profit_factor" {
			return fmt.Errorf("%s is infinite", k)
		}
	}
	return nil
}

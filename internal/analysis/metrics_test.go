package analysis

import (
	"math"
	"testing"
	"time"

	"equity-backtest/internal/model"
)

func curveOf(equity ...float64) []model.EquityPoint {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.EquityPoint, len(equity))
	for i, e := range equity {
		out[i] = model.EquityPoint{Date: start.AddDate(0, 0, i), Equity: e, Cash: e}
	}
	return out
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCompute_FlatCurve(t *testing.T) {
	m, err := Compute(curveOf(1000, 1000, 1000), nil, 1000, DefaultConventions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.TotalReturn != 0 || m.MaxDrawdown != 0 || m.SharpeRatio != 0 || m.Volatility != 0 {
		t.Errorf("flat curve metrics = %+v, want all zero", m)
	}
	if m.ProfitFactor != 0 || m.WinRate != 0 || m.TotalTrades != 0 {
		t.Errorf("no-trade metrics = %+v", m)
	}
}

func TestCompute_EmptyAndSinglePoint(t *testing.T) {
	for _, curve := range [][]model.EquityPoint{nil, curveOf(1000)} {
		m, err := Compute(curve, nil, 1000, DefaultConventions(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if m.MaxDrawdown != 0 || m.AnnualizedReturn != 0 || m.SharpeRatio != 0 {
			t.Errorf("len %d: metrics = %+v", len(curve), m)
		}
	}
}

func TestCompute_Returns(t *testing.T) {
	curve := curveOf(100, 110, 99, 120)
	m, err := Compute(curve, nil, 100, DefaultConventions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(m.TotalReturn, 0.2) {
		t.Errorf("TotalReturn = %v, want 0.2", m.TotalReturn)
	}
	wantAnn := math.Pow(1.2, 365.0/3) - 1
	if !approx(m.AnnualizedReturn, wantAnn) {
		t.Errorf("AnnualizedReturn = %v, want %v", m.AnnualizedReturn, wantAnn)
	}
	// cum: 1.1, 0.99, 1.2 -> worst (0.99-1.1)/1.1
	if !approx(m.MaxDrawdown, -0.1) {
		t.Errorf("MaxDrawdown = %v, want -0.1", m.MaxDrawdown)
	}
	if m.SharpeRatio <= 0 || m.Volatility <= 0 {
		t.Errorf("sharpe = %v vol = %v, want positive", m.SharpeRatio, m.Volatility)
	}
}

func TestCompute_ConventionsAreConfigurable(t *testing.T) {
	curve := curveOf(100, 101, 103)
	a, _ := Compute(curve, nil, 100, Conventions{ReturnDays: 365, VolatilityDays: 252}, nil)
	b, _ := Compute(curve, nil, 100, Conventions{ReturnDays: 252, VolatilityDays: 365}, nil)
	if a.AnnualizedReturn == b.AnnualizedReturn || a.Volatility == b.Volatility {
		t.Error("changing conventions should change annualised figures")
	}
	if !approx(b.Volatility/a.Volatility, math.Sqrt(365.0/252)) {
		t.Errorf("volatility ratio = %v", b.Volatility/a.Volatility)
	}
}

func TestCompute_TotalLoss(t *testing.T) {
	m, err := Compute(curveOf(100, 0), nil, 100, DefaultConventions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.AnnualizedReturn != -1 {
		t.Errorf("AnnualizedReturn = %v, want -1", m.AnnualizedReturn)
	}
}

func TestCompute_TradeStats(t *testing.T) {
	sell := func(pnl float64) model.Trade {
		return model.Trade{Action: model.ActionSell, RealizedPnL: pnl, Commission: 1}
	}
	buy := model.Trade{Action: model.ActionBuy, Commission: 1}

	tests := []struct {
		name    string
		trades  []model.Trade
		winRate float64
		pf      float64
		winLoss float64
	}{
		{"no trades", nil, 0, 0, 0},
		{"buys only", []model.Trade{buy, buy}, 0, 0, 0},
		{"wins only", []model.Trade{buy, sell(100), sell(50)}, 2.0 / 3, math.Inf(1), 0},
		{"mixed", []model.Trade{buy, sell(300), buy, sell(-100), sell(-50)}, 1.0 / 5, 2, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Compute(curveOf(100, 100), tt.trades, 100, DefaultConventions(), nil)
			if err != nil {
				t.Fatal(err)
			}
			if !approx(m.WinRate, tt.winRate) {
				t.Errorf("WinRate = %v, want %v", m.WinRate, tt.winRate)
			}
			if m.ProfitFactor != tt.pf && !approx(m.ProfitFactor, tt.pf) {
				t.Errorf("ProfitFactor = %v, want %v", m.ProfitFactor, tt.pf)
			}
			if !approx(m.WinLossRatio, tt.winLoss) {
				t.Errorf("WinLossRatio = %v, want %v", m.WinLossRatio, tt.winLoss)
			}
			if m.TotalTrades != len(tt.trades) {
				t.Errorf("TotalTrades = %d", m.TotalTrades)
			}
			if got := m.Extra[KeyTotalCommission]; got != float64(len(tt.trades)) {
				t.Errorf("total_commission = %v", got)
			}
		})
	}
}

func TestCompute_Benchmark(t *testing.T) {
	curve := curveOf(100, 102, 101, 104)
	closes := map[time.Time]float64{}
	for i, c := range []float64{50, 51, 50.5, 52} {
		closes[curve[i].Date] = c
	}
	m, err := Compute(curve, nil, 100, DefaultConventions(), closes)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(m.Extra[KeyBenchmarkReturn], 0.04) {
		t.Errorf("benchmark_return = %v, want 0.04", m.Extra[KeyBenchmarkReturn])
	}
	if !approx(m.Extra[KeyExcessReturn], 0) {
		t.Errorf("excess_return = %v, want 0", m.Extra[KeyExcessReturn])
	}
	// identical daily returns give beta 1
	if !approx(m.Extra[KeyBeta], 1) {
		t.Errorf("beta = %v, want 1", m.Extra[KeyBeta])
	}

	plain, _ := Compute(curve, nil, 100, DefaultConventions(), nil)
	if _, ok := plain.Extra[KeyBeta]; ok {
		t.Error("beta must be absent without a benchmark")
	}
}

func TestCompute_InvalidCapital(t *testing.T) {
	for _, c := range []float64{0, -1, math.NaN()} {
		if _, err := Compute(curveOf(1), nil, c, DefaultConventions(), nil); err == nil {
			t.Errorf("capital %v: expected error", c)
		}
	}
}

func TestRank(t *testing.T) {
	runs := []Scored{
		{Name: "a", Metrics: Metrics{SharpeRatio: 1, TotalReturn: 0.1}},
		{Name: "b", Metrics: Metrics{SharpeRatio: 2, TotalReturn: 0.05}},
		{Name: "c", Metrics: Metrics{SharpeRatio: 1, TotalReturn: 0.2}},
	}
	got := Rank(runs)
	want := []string{"b", "c", "a"}
	for i, w := range want {
		if got[i].Name != w || got[i].Rank != i+1 {
			t.Errorf("rank %d = %s (%d), want %s", i+1, got[i].Name, got[i].Rank, w)
		}
	}
	if runs[0].Name != "a" {
		t.Error("Rank must not reorder its input")
	}
}

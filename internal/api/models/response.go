package models

import (
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"equity-backtest/internal/model"
)

// Float is a float64 that survives JSON encoding when infinite. NaN is
// written as null and infinities as the strings "+Inf" and "-Inf".
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	x := float64(f)
	switch {
	case math.IsNaN(x):
		return []byte("null"), nil
	case math.IsInf(x, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(x, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, x, 'g', -1, 64), nil
}

// FloatMap converts a metrics map for encoding.
func FloatMap(m map[string]float64) map[string]Float {
	if m == nil {
		return nil
	}
	out := make(map[string]Float, len(m))
	for k, v := range m {
		out[k] = Float(v)
	}
	return out
}

// Money rounds a currency amount to cents. Non-finite input yields zero.
func Money(x float64) decimal.Decimal {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(x).Round(2)
}

// BacktestResponse represents the response from a backtest run
type BacktestResponse struct {
	ID            string                    `json:"id"`
	Status        string                    `json:"status"`
	Summary       BacktestSummary           `json:"summary"`
	Metrics       map[string]Float          `json:"metrics,omitempty"`
	OpenPositions map[string]model.Position `json:"open_positions,omitempty"`
	Trades        []model.Trade             `json:"trades,omitempty"`
	EquityCurve   []model.EquityPoint       `json:"equity_curve,omitempty"`
}

// BacktestSummary contains aggregated backtest results
type BacktestSummary struct {
	Strategy  string `json:"strategy"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Benchmark string `json:"benchmark,omitempty"`

	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalCapital   decimal.Decimal `json:"final_capital"`
	FinalCash      decimal.Decimal `json:"final_cash"`

	TotalReturn      Float `json:"total_return"`
	AnnualizedReturn Float `json:"annualized_return"`
	Volatility       Float `json:"volatility"`
	SharpeRatio      Float `json:"sharpe_ratio"`
	MaxDrawdown      Float `json:"max_drawdown"`
	WinRate          Float `json:"win_rate"`
	ProfitFactor     Float `json:"profit_factor"`
	WinLossRatio     Float `json:"win_loss_ratio"`

	TotalTrades     int `json:"total_trades"`
	TradingDays     int `json:"trading_days,omitempty"`
	RejectedSignals int `json:"rejected_signals"`
	FailedDays      int `json:"failed_days"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// CompareBacktestResponse represents the response from a comparison
type CompareBacktestResponse struct {
	Comparison []ComparisonResult `json:"comparison"`
}

// ComparisonResult contains results for one variation. Failed variations
// carry an error and no rank.
type ComparisonResult struct {
	Rank    int              `json:"rank,omitempty"`
	Name    string           `json:"name"`
	ID      string           `json:"id,omitempty"`
	Summary *BacktestSummary `json:"summary,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// ResultList is a page of stored results, newest first
type ResultList struct {
	Results []BacktestSummaryWithID `json:"results"`
	Count   int                     `json:"count"`
}

// BacktestSummaryWithID pairs a stored summary with its result ID
type BacktestSummaryWithID struct {
	ID string `json:"id"`
	BacktestSummary
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewError builds an ErrorResponse
func NewError(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
}

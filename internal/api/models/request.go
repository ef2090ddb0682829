package models

import "equity-backtest/internal/model"

// BacktestRequest represents the request body for running a backtest
type BacktestRequest struct {
	Data    DataSource      `json:"data"`
	Config  BacktestConfig  `json:"config"`
	Options BacktestOptions `json:"options,omitempty"`
}

// DataSource selects market data: a dataset from the data directory, or
// bars sent inline. Inline bars win when both are set.
type DataSource struct {
	DatasetID string            `json:"dataset_id,omitempty"`
	Bars      model.PriceSeries `json:"bars,omitempty"`
	Symbols   []string          `json:"symbols,omitempty"` // empty = all symbols
}

// BacktestConfig contains run, strategy and risk configuration
type BacktestConfig struct {
	StartDate          string  `json:"start_date,omitempty"` // YYYY-MM-DD
	EndDate            string  `json:"end_date,omitempty"`   // YYYY-MM-DD
	InitialCapital     float64 `json:"initial_capital,omitempty"`
	CommissionRate     float64 `json:"commission_rate,omitempty"`
	SlippageBps        float64 `json:"slippage_bps,omitempty"`
	BenchmarkSymbol    string  `json:"benchmark_symbol,omitempty"`
	RebalanceFrequency string  `json:"rebalance_frequency,omitempty"`

	StrategyFile string         `json:"strategy_file,omitempty"`
	Strategy     StrategyConfig `json:"strategy"`
	Risk         *RiskConfig    `json:"risk,omitempty"`
}

// StrategyConfig defines strategy and its parameters
type StrategyConfig struct {
	Name   string         `json:"name,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// RiskConfig enables the built-in limits controller. Zero limits are off.
type RiskConfig struct {
	MaxDrawdown       float64 `json:"max_drawdown,omitempty"`
	MaxDailyLoss      float64 `json:"max_daily_loss,omitempty"`
	MaxPositionWeight float64 `json:"max_position_weight,omitempty"`
	ReduceFraction    float64 `json:"reduce_fraction,omitempty"` // default: 0.30
}

// BacktestOptions contains optional backtest parameters
type BacktestOptions struct {
	RunID         string `json:"run_id,omitempty"` // UUID used to tag progress events
	IncludeTrades bool   `json:"include_trades,omitempty"`
	IncludeEquity bool   `json:"include_equity,omitempty"`
}

// CompareBacktestRequest represents a request to compare multiple backtests
type CompareBacktestRequest struct {
	Data       DataSource          `json:"data"`
	BaseConfig BacktestConfig      `json:"base_config"`
	Variations []BacktestVariation `json:"variations" binding:"required,min=1,dive"`
}

// BacktestVariation defines a variation to test
type BacktestVariation struct {
	Name   string         `json:"name" binding:"required"`
	Config BacktestConfig `json:"config"`
}

// ListRequest holds query parameters for listing stored results
type ListRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

package model

import "time"

// Trade is one executed fill. Trades are never modified after they are
// appended to a ledger.
type Trade struct {
	Date         time.Time `json:"date"`
	Symbol       string    `json:"symbol"`
	Action       Action    `json:"action"`
	Quantity     int64     `json:"quantity"`
	Price        float64   `json:"price"`
	Value        float64   `json:"value"`
	Commission   float64   `json:"commission"`
	RealizedPnL  float64   `json:"realized_pnl"`
	SignalID     string    `json:"signal_id"`
	StrategyName string    `json:"strategy_name"`
}

// EquityPoint is the portfolio valuation recorded for one trading day.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
	Cash   float64   `json:"cash"`
}

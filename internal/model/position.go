package model

import "time"

// Position is an open long holding with weighted-average cost.
type Position struct {
	Symbol        string    `json:"symbol"`
	Quantity      int64     `json:"quantity"`
	AvgCost       float64   `json:"avg_cost"`
	CurrentPrice  float64   `json:"current_price"`
	MarketValue   float64   `json:"market_value"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	OpenTime      time.Time `json:"open_time"`
	LastUpdate    time.Time `json:"last_update"`
}

// Mark revalues the position at price.
func (p *Position) Mark(price float64, at time.Time) {
	p.CurrentPrice = price
	p.MarketValue = float64(p.Quantity) * price
	p.UnrealizedPnL = p.MarketValue - float64(p.Quantity)*p.AvgCost
	p.LastUpdate = at
}

// CostBasis is quantity × average cost.
func (p *Position) CostBasis() float64 {
	return float64(p.Quantity) * p.AvgCost
}

package backtest

import "equity-backtest/internal/model"

// TradeLedger is the append-only record of executed trades.
// This is the primary artifact for "what happened" in a backtest.
type TradeLedger struct {
	trades []model.Trade
}

func NewTradeLedger() *TradeLedger { return &TradeLedger{} }

func (l *TradeLedger) append(t model.Trade) { l.trades = append(l.trades, t) }

func (l *TradeLedger) Len() int { return len(l.trades) }

// Trades returns a copy of every trade in execution order.
func (l *TradeLedger) Trades() []model.Trade {
	out := make([]model.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Recent returns a copy of the last n trades.
func (l *TradeLedger) Recent(n int) []model.Trade {
	if n > len(l.trades) {
		n = len(l.trades)
	}
	out := make([]model.Trade, n)
	copy(out, l.trades[len(l.trades)-n:])
	return out
}

// EquityTracker records one equity point per simulated day.
type EquityTracker struct {
	points []model.EquityPoint
}

func (e *EquityTracker) record(p model.EquityPoint) { e.points = append(e.points, p) }

func (e *EquityTracker) Len() int { return len(e.points) }

// Last returns the most recent point.
func (e *EquityTracker) Last() (model.EquityPoint, bool) {
	if len(e.points) == 0 {
		return model.EquityPoint{}, false
	}
	return e.points[len(e.points)-1], true
}

// Curve returns a copy of the recorded points.
func (e *EquityTracker) Curve() []model.EquityPoint {
	out := make([]model.EquityPoint, len(e.points))
	copy(out, e.points)
	return out
}

package backtest

import (
	"sort"
	"time"

	"equity-backtest/internal/model"
)

// PositionBook maps symbol to open position. A symbol is present only while
// its quantity is positive. Only the execution simulator mutates it.
type PositionBook struct {
	positions map[string]*model.Position
}

func NewPositionBook() *PositionBook {
	return &PositionBook{positions: map[string]*model.Position{}}
}

// Get returns a copy of the position for symbol.
func (b *PositionBook) Get(symbol string) (model.Position, bool) {
	p, ok := b.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

func (b *PositionBook) Len() int { return len(b.positions) }

// Symbols returns held symbols in sorted order.
func (b *PositionBook) Symbols() []string {
	out := make([]string, 0, len(b.positions))
	for s := range b.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns copies of every open position.
func (b *PositionBook) Snapshot() map[string]model.Position {
	out := make(map[string]model.Position, len(b.positions))
	for s, p := range b.positions {
		out[s] = *p
	}
	return out
}

// MarketValue is the sum of position market values at their last mark.
func (b *PositionBook) MarketValue() float64 {
	total := 0.0
	for _, s := range b.Symbols() {
		total += b.positions[s].MarketValue
	}
	return total
}

// markAll revalues positions that have a bar in snapshot. Positions without
// data today keep their previous mark.
func (b *PositionBook) markAll(snapshot map[string]model.Bar, date time.Time) {
	for s, p := range b.positions {
		if bar, ok := snapshot[s]; ok {
			p.Mark(bar.ReferencePrice(), date)
		}
	}
}

// open creates a position bought at cost and marked at mark.
func (b *PositionBook) open(symbol string, qty int64, cost, mark float64, date time.Time) *model.Position {
	p := &model.Position{
		Symbol:   symbol,
		Quantity: qty,
		AvgCost:  cost,
		OpenTime: date,
	}
	p.Mark(mark, date)
	b.positions[symbol] = p
	return p
}

func (b *PositionBook) get(symbol string) *model.Position { return b.positions[symbol] }

func (b *PositionBook) remove(symbol string) { delete(b.positions, symbol) }

package strategy

import (
	"math"
	"time"

	"equity-backtest/internal/model"
)

// Context is the read-only view a strategy gets for one trading day.
// Positions are copies; changing them has no effect on the engine.
type Context struct {
	Date      time.Time
	Bars      map[string]model.Bar
	Positions map[string]model.Position
	Cash      float64
	Costs     Costs
}

// Costs are the execution costs the engine will apply to fills.
type Costs struct {
	CommissionRate float64
	SlippageBps    float64
}

// UnitCost is the cash one share bought at ref consumes after slippage
// and commission.
func (c Costs) UnitCost(ref float64) float64 {
	return ref * (1 + c.SlippageBps/10000) * (1 + c.CommissionRate)
}

// Shares is the largest whole quantity whose buy at ref fits in budget.
func (c Costs) Shares(budget, ref float64) int64 {
	unit := c.UnitCost(ref)
	if unit <= 0 || budget <= 0 {
		return 0
	}
	qty := int64(math.Floor(budget / unit))
	if qty > 0 && float64(qty)*unit > budget {
		qty--
	}
	return qty
}

// Equity values cash plus positions at today's close, falling back to the
// position's last mark for symbols without a bar today.
func (c Context) Equity() float64 {
	eq := c.Cash
	for sym, p := range c.Positions {
		price := p.CurrentPrice
		if b, ok := c.Bars[sym]; ok {
			price = b.ReferencePrice()
		}
		eq += float64(p.Quantity) * price
	}
	return eq
}

// Strategy turns one day's market view into trade signals.
type Strategy interface {
	Name() string
	Decide(ctx Context) ([]model.Signal, error)
}

// Resetter is implemented by strategies that keep history between days.
// The engine calls Reset before each run.
type Resetter interface {
	Reset()
}

// Observer is implemented by strategies whose history must advance on
// days the engine does not call Decide (risk verdicts that halt trading).
type Observer interface {
	Observe(ctx Context)
}

// Func adapts a plain function to the Strategy interface.
type Func struct {
	Label string
	Fn    func(ctx Context) ([]model.Signal, error)
}

func (f Func) Name() string { return f.Label }

func (f Func) Decide(ctx Context) ([]model.Signal, error) { return f.Fn(ctx) }

func newSignal(name string, ctx Context, symbol string, action model.Action, qty int64, reason string) model.Signal {
	s := model.Signal{
		Symbol:       symbol,
		Action:       action,
		Quantity:     qty,
		Confidence:   1,
		Timestamp:    ctx.Date,
		StrategyName: name,
		Metadata:     map[string]any{model.MetaReason: reason},
	}
	if b, ok := ctx.Bars[symbol]; ok {
		s.PriceHint = b.ReferencePrice()
	}
	return s
}

package backtest

import (
	"fmt"
	"math"
	"time"

	"equity-backtest/internal/model"
	"equity-backtest/internal/risk"
)

const (
	// DefaultReduceFraction is the share of each position sold on REDUCE_POSITION.
	DefaultReduceFraction = 0.30
	// recentTradeWindow is how many trades the controller sees.
	recentTradeWindow = 10
)

// RiskGate consults a risk controller once per day and turns its verdict
// into forced trades. It keeps no state between days.
type RiskGate struct {
	controller     risk.Controller
	reduceFraction float64
}

// NewRiskGate wraps c. A reduceFraction outside (0,1] falls back to
// DefaultReduceFraction.
func NewRiskGate(c risk.Controller, reduceFraction float64) *RiskGate {
	if reduceFraction <= 0 || reduceFraction > 1 {
		reduceFraction = DefaultReduceFraction
	}
	return &RiskGate{controller: c, reduceFraction: reduceFraction}
}

func (g *RiskGate) ReduceFraction() float64 { return g.reduceFraction }

// apply evaluates the controller and executes any forced sells. Positions
// are processed in sorted symbol order. Forced sells use today's close, or
// the position's last mark when the symbol has no bar today.
func (g *RiskGate) apply(p *portfolio, x *ExecutionSimulator, snapshot map[string]model.Bar, date time.Time, dailyPnL *float64) (risk.Action, []Outcome, error) {
	action, err := g.controller.Evaluate(risk.Input{
		Date:         date,
		Equity:       p.equity(),
		Positions:    p.book.Snapshot(),
		DailyPnL:     dailyPnL,
		RecentTrades: p.ledger.Recent(recentTradeWindow),
	})
	if err != nil {
		return risk.Action{}, nil, fmt.Errorf("risk controller: %w", err)
	}
	if !action.Kind.Valid() {
		return risk.Action{}, nil, fmt.Errorf("risk controller returned unknown verdict %q", action.Kind)
	}

	var outcomes []Outcome
	switch action.Kind {
	case risk.CloseAll:
		for _, sym := range p.book.Symbols() {
			pos, _ := p.book.Get(sym)
			outcomes = append(outcomes, g.forceSell(p, x, snapshot, pos, pos.Quantity, date, action))
		}
	case risk.ReducePosition:
		for _, sym := range p.book.Symbols() {
			pos, _ := p.book.Get(sym)
			qty := int64(math.Floor(float64(pos.Quantity) * g.reduceFraction))
			if qty <= 0 {
				continue
			}
			outcomes = append(outcomes, g.forceSell(p, x, snapshot, pos, qty, date, action))
		}
	}
	return action, outcomes, nil
}

func (g *RiskGate) forceSell(p *portfolio, x *ExecutionSimulator, snapshot map[string]model.Bar, pos model.Position, qty int64, date time.Time, action risk.Action) Outcome {
	ref := pos.CurrentPrice
	if b, ok := snapshot[pos.Symbol]; ok {
		ref = b.ReferencePrice()
	}
	sig := model.Signal{
		Symbol:       pos.Symbol,
		Action:       model.ActionSell,
		Quantity:     qty,
		PriceHint:    ref,
		Confidence:   1,
		Timestamp:    date,
		StrategyName: model.RiskControlStrategy,
		Metadata:     map[string]any{model.MetaReason: string(action.Kind) + ": " + action.Message},
	}
	return x.Execute(p, sig, ref, date)
}

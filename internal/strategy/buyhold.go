package strategy

import (
	"sort"

	"equity-backtest/internal/model"
)

// BuyAndHoldStrategy spends Allocation of the starting cash equally across
// the symbols trading on its first day and never sells.
type BuyAndHoldStrategy struct {
	Allocation float64
	Symbols    []string

	invested bool
}

func (s *BuyAndHoldStrategy) Name() string { return "buy_and_hold" }

func (s *BuyAndHoldStrategy) Reset() { s.invested = false }

func (s *BuyAndHoldStrategy) Decide(ctx Context) ([]model.Signal, error) {
	if s.invested {
		return nil, nil
	}
	var syms []string
	if len(s.Symbols) > 0 {
		for _, sym := range s.Symbols {
			if _, ok := ctx.Bars[sym]; ok {
				syms = append(syms, sym)
			}
		}
	} else {
		for sym := range ctx.Bars {
			syms = append(syms, sym)
		}
		sort.Strings(syms)
	}
	if len(syms) == 0 {
		return nil, nil
	}
	s.invested = true

	budget := ctx.Cash * s.Allocation / float64(len(syms))
	out := make([]model.Signal, 0, len(syms))
	for _, sym := range syms {
		qty := ctx.Costs.Shares(budget, ctx.Bars[sym].Close)
		if qty <= 0 {
			continue
		}
		out = append(out, newSignal(s.Name(), ctx, sym, model.ActionBuy, qty, "initial allocation"))
	}
	return out, nil
}

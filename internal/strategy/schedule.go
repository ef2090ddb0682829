package strategy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"equity-backtest/internal/model"
)

// Frequency is a calendar rebalance cadence.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case Daily, Weekly, Monthly:
		return f, nil
	case "":
		return Monthly, nil
	default:
		return "", fmt.Errorf("invalid rebalance frequency %q, expected daily, weekly or monthly", s)
	}
}

// RebalanceParams implements an equal-weight schedule:
// - On the first trading day of each period, target Allocation/N of equity per symbol
// - Sells are emitted before buys so freed cash is available
// - Otherwise no signals
type RebalanceParams struct {
	Frequency  Frequency
	Allocation float64 // fraction of equity kept invested
	Symbols    []string
	Threshold  int64 // ignore adjustments smaller than this many shares
}

type RebalanceStrategy struct {
	Params RebalanceParams

	last time.Time
}

func (s *RebalanceStrategy) Name() string { return "rebalance" }

func (s *RebalanceStrategy) Reset() { s.last = time.Time{} }

func (s *RebalanceStrategy) Decide(ctx Context) ([]model.Signal, error) {
	due := newPeriod(s.Params.Frequency, s.last, ctx.Date)
	if !due {
		return nil, nil
	}
	syms := s.universe(ctx)
	if len(syms) == 0 {
		return nil, nil
	}
	s.last = ctx.Date

	target := ctx.Equity() * s.Params.Allocation / float64(len(syms))
	var sells, buys []model.Signal
	for _, sym := range syms {
		b, ok := ctx.Bars[sym]
		if !ok {
			continue
		}
		want := ctx.Costs.Shares(target, b.Close)
		diff := want - ctx.Positions[sym].Quantity
		if diff == 0 || abs64(diff) < s.Params.Threshold {
			continue
		}
		if diff < 0 {
			sells = append(sells, newSignal(s.Name(), ctx, sym, model.ActionSell, -diff, "rebalance down"))
		} else {
			buys = append(buys, newSignal(s.Name(), ctx, sym, model.ActionBuy, diff, "rebalance up"))
		}
	}
	return append(sells, buys...), nil
}

// universe is the configured symbol list, or every symbol trading today
// plus every held symbol.
func (s *RebalanceStrategy) universe(ctx Context) []string {
	if len(s.Params.Symbols) > 0 {
		return s.Params.Symbols
	}
	set := map[string]struct{}{}
	for sym := range ctx.Bars {
		set[sym] = struct{}{}
	}
	for sym := range ctx.Positions {
		set[sym] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// newPeriod reports whether now starts a new rebalance period after last.
// A zero last always starts one.
func newPeriod(f Frequency, last, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	switch f {
	case Daily:
		return now.After(last)
	case Weekly:
		ly, lw := last.ISOWeek()
		ny, nw := now.ISOWeek()
		return ly != ny || lw != nw
	default:
		return last.Year() != now.Year() || last.Month() != now.Month()
	}
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

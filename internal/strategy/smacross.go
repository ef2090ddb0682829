package strategy

import (
	"fmt"
	"sort"

	"equity-backtest/internal/model"
)

// SMACrossParams configures the moving-average crossover.
type SMACrossParams struct {
	ShortWindow int
	LongWindow  int
	Allocation  float64 // fraction of cash spent per entry
	Symbols     []string
}

// SMACrossStrategy buys on a golden cross (short SMA crossing above long)
// and sells the whole position on a dead cross. Each symbol keeps a ring
// buffer of its last LongWindow closes.
type SMACrossStrategy struct {
	Params SMACrossParams

	history map[string]*priceRing
	prevDif map[string]float64
}

func NewSMACrossStrategy(p SMACrossParams) (*SMACrossStrategy, error) {
	if p.ShortWindow <= 0 || p.LongWindow <= 0 {
		return nil, fmt.Errorf("sma windows must be > 0")
	}
	if p.ShortWindow >= p.LongWindow {
		return nil, fmt.Errorf("short_window (%d) must be less than long_window (%d)", p.ShortWindow, p.LongWindow)
	}
	if p.Allocation <= 0 || p.Allocation > 1 {
		return nil, fmt.Errorf("allocation must be in (0,1], got %v", p.Allocation)
	}
	s := &SMACrossStrategy{Params: p}
	s.Reset()
	return s, nil
}

func (s *SMACrossStrategy) Name() string { return "sma_cross" }

func (s *SMACrossStrategy) Reset() {
	s.history = map[string]*priceRing{}
	s.prevDif = map[string]float64{}
}

func (s *SMACrossStrategy) Decide(ctx Context) ([]model.Signal, error) {
	var out []model.Signal
	cash := ctx.Cash

	for _, sym := range s.symbols(ctx) {
		b, ok := ctx.Bars[sym]
		if !ok {
			continue
		}
		prev, dif, ok := s.update(sym, b.Close)
		if !ok {
			continue
		}

		held := ctx.Positions[sym].Quantity
		switch {
		case prev <= 0 && dif > 0 && held == 0:
			qty := ctx.Costs.Shares(cash*s.Params.Allocation, b.Close)
			if qty <= 0 {
				continue
			}
			cash -= float64(qty) * ctx.Costs.UnitCost(b.Close)
			out = append(out, newSignal(s.Name(), ctx, sym, model.ActionBuy, qty, "golden cross"))
		case prev >= 0 && dif < 0 && held > 0:
			out = append(out, newSignal(s.Name(), ctx, sym, model.ActionSell, held, "dead cross"))
		}
	}
	return out, nil
}

// Observe records the day's closes without trading, so the averages stay
// aligned with the calendar across halted days.
func (s *SMACrossStrategy) Observe(ctx Context) {
	for _, sym := range s.symbols(ctx) {
		if b, ok := ctx.Bars[sym]; ok {
			s.update(sym, b.Close)
		}
	}
}

// update pushes price into sym's history and returns the previous and
// current SMA spread. ok is false until both are known.
func (s *SMACrossStrategy) update(sym string, price float64) (prev, dif float64, ok bool) {
	ring, found := s.history[sym]
	if !found {
		ring = newPriceRing(s.Params.LongWindow)
		s.history[sym] = ring
	}
	ring.push(price)
	if !ring.full() {
		return 0, 0, false
	}
	dif = ring.mean(s.Params.ShortWindow) - ring.mean(s.Params.LongWindow)
	prev, seen := s.prevDif[sym]
	s.prevDif[sym] = dif
	return prev, dif, seen
}

func (s *SMACrossStrategy) symbols(ctx Context) []string {
	if len(s.Params.Symbols) > 0 {
		return s.Params.Symbols
	}
	out := make([]string, 0, len(ctx.Bars))
	for sym := range ctx.Bars {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// priceRing is a fixed-size buffer of the most recent closes.
type priceRing struct {
	buf  []float64
	head int
	n    int
}

func newPriceRing(size int) *priceRing { return &priceRing{buf: make([]float64, size)} }

func (r *priceRing) push(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *priceRing) full() bool { return r.n == len(r.buf) }

// mean of the last k values; k must be <= n.
func (r *priceRing) mean(k int) float64 {
	sum := 0.0
	for i := 1; i <= k; i++ {
		idx := (r.head - i + len(r.buf)) % len(r.buf)
		sum += r.buf[idx]
	}
	return sum / float64(k)
}

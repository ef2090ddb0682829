package data

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"sort"
	"time"

	"equity-backtest/internal/model"
)

// Store holds per-symbol daily bars restricted to [start, end] and serves
// per-date snapshots. It is read-only once loaded.
type Store struct {
	start time.Time
	end   time.Time

	series map[string][]model.Bar
	byDate map[string]map[time.Time]model.Bar
	dates  []time.Time

	log *slog.Logger
}

// NewStore creates an empty store for the inclusive window [start, end].
// A zero start or end leaves that side unbounded.
func NewStore(start, end time.Time) *Store {
	s := &Store{
		series: map[string][]model.Bar{},
		byDate: map[string]map[time.Time]model.Bar{},
		log:    slog.Default(),
	}
	if !start.IsZero() {
		s.start = model.Day(start)
	}
	if !end.IsZero() {
		s.end = model.Day(end)
	}
	return s
}

// SetLogger replaces the logger used for load diagnostics. nil is ignored.
func (s *Store) SetLogger(log *slog.Logger) {
	if log != nil {
		s.log = log
	}
}

// Load validates and normalises each symbol's table: dates are truncated to
// UTC days, rows are sorted ascending, duplicate days keep the last row and
// rows outside the window are dropped. Loading a symbol twice replaces it.
func (s *Store) Load(prices model.PriceSeries) error {
	if len(prices) == 0 {
		return errors.New("no market data")
	}
	for symbol, bars := range prices {
		if symbol == "" {
			return errors.New("market data contains an empty symbol")
		}
		idx := make(map[time.Time]model.Bar, len(bars))
		for i, b := range bars {
			if b.Date.IsZero() {
				return fmt.Errorf("%s row %d: missing date", symbol, i)
			}
			if math.IsNaN(b.Close) || math.IsInf(b.Close, 0) || b.Close <= 0 {
				return fmt.Errorf("%s %s: close must be a positive number, got %v", symbol, b.Date.Format(model.DateLayout), b.Close)
			}
			if b.Volume < 0 {
				return fmt.Errorf("%s %s: negative volume %v", symbol, b.Date.Format(model.DateLayout), b.Volume)
			}
			b.Date = model.Day(b.Date)
			if !s.inWindow(b.Date) {
				continue
			}
			if _, dup := idx[b.Date]; dup {
				s.log.Debug("duplicate bar replaced", slog.String("symbol", symbol), slog.String("date", b.Date.Format(model.DateLayout)))
			}
			idx[b.Date] = b
		}
		if len(idx) == 0 {
			s.log.Warn("symbol has no data inside the backtest window", slog.String("symbol", symbol))
			delete(s.series, symbol)
			delete(s.byDate, symbol)
			continue
		}
		ordered := make([]model.Bar, 0, len(idx))
		for _, b := range idx {
			ordered = append(ordered, b)
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].Date.Before(ordered[j].Date) })
		s.series[symbol] = ordered
		s.byDate[symbol] = idx
	}
	s.rebuildDates()
	return nil
}

func (s *Store) inWindow(d time.Time) bool {
	if !s.start.IsZero() && d.Before(s.start) {
		return false
	}
	if !s.end.IsZero() && d.After(s.end) {
		return false
	}
	return true
}

func (s *Store) rebuildDates() {
	seen := map[time.Time]struct{}{}
	for _, bars := range s.series {
		for _, b := range bars {
			seen[b.Date] = struct{}{}
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	s.dates = dates
}

// Snapshot returns the bars of every symbol that has a row for date.
// Symbols without data that day are absent.
func (s *Store) Snapshot(date time.Time) map[string]model.Bar {
	d := model.Day(date)
	out := make(map[string]model.Bar, len(s.byDate))
	for symbol, idx := range s.byDate {
		if b, ok := idx[d]; ok {
			out[symbol] = b
		}
	}
	return out
}

// TradingDates yields the sorted union of dates on which at least one symbol
// has data. Every call starts a fresh pass.
func (s *Store) TradingDates() iter.Seq[time.Time] {
	dates := s.dates
	return func(yield func(time.Time) bool) {
		for _, d := range dates {
			if !yield(d) {
				return
			}
		}
	}
}

// NumTradingDates is the length of the TradingDates sequence.
func (s *Store) NumTradingDates() int { return len(s.dates) }

// Symbols returns the loaded symbols in sorted order.
func (s *Store) Symbols() []string {
	out := make([]string, 0, len(s.series))
	for sym := range s.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Empty reports whether no symbol has data inside the window.
func (s *Store) Empty() bool { return len(s.series) == 0 }

// Bars returns a copy of symbol's normalised series.
func (s *Store) Bars(symbol string) []model.Bar {
	bars := s.series[symbol]
	out := make([]model.Bar, len(bars))
	copy(out, bars)
	return out
}

// Closes returns date -> close for symbol, or nil when it is not loaded.
func (s *Store) Closes(symbol string) map[time.Time]float64 {
	idx, ok := s.byDate[symbol]
	if !ok {
		return nil
	}
	out := make(map[time.Time]float64, len(idx))
	for d, b := range idx {
		out[d] = b.Close
	}
	return out
}

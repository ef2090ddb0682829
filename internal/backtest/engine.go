package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"equity-backtest/internal/analysis"
	"equity-backtest/internal/data"
	"equity-backtest/internal/model"
	"equity-backtest/internal/risk"
	"equity-backtest/internal/strategy"
)

var (
	ErrNoStrategy = errors.New("no strategy configured")
	ErrNoData     = errors.New("no market data loaded")
	ErrCanceled   = errors.New("backtest canceled")
)

// State is the engine lifecycle state.
type State string

const (
	StateInit     State = "INIT"
	StateRunning  State = "RUNNING"
	StateDone     State = "DONE"
	StateFailed   State = "FAILED"
	StateCanceled State = "CANCELED"
)

// DefaultProgressInterval is how many days pass between observer calls.
const DefaultProgressInterval = 50

type Engine struct {
	cfg   Config
	store *data.Store

	strategy strategy.Strategy
	exec     *ExecutionSimulator
	gate     *RiskGate
	sink     PersistenceSink
	observer ProgressObserver
	every    int
	log      *slog.Logger
	id       string

	state State
}

type Option func(*Engine)

func WithStrategy(s strategy.Strategy) Option { return func(e *Engine) { e.strategy = s } }

// WithExecution replaces the simulator built from the config's commission
// and slippage.
func WithExecution(x *ExecutionSimulator) Option { return func(e *Engine) { e.exec = x } }

func WithRiskGate(g *RiskGate) Option { return func(e *Engine) { e.gate = g } }

func WithSink(s PersistenceSink) Option { return func(e *Engine) { e.sink = s } }

func WithObserver(o ProgressObserver) Option { return func(e *Engine) { e.observer = o } }

// WithRunID fixes the result ID instead of generating one, so callers can
// tag progress events before the run finishes.
func WithRunID(id string) Option { return func(e *Engine) { e.id = id } }

func WithProgressInterval(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.every = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func New(cfg Config, store *data.Store, opts ...Option) *Engine {
	e := &Engine{
		cfg:   cfg,
		store: store,
		every: DefaultProgressInterval,
		log:   slog.Default(),
		state: StateInit,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.exec == nil {
		e.exec = NewExecutionSimulator(cfg.CommissionRate, cfg.SlippageBps)
	}
	return e
}

func (e *Engine) State() State { return e.state }

// run holds the mutable state of one Run call.
type run struct {
	p        *portfolio
	equity   *EquityTracker
	rejected int
	failed   int
}

// Run replays every trading date in the store. Each call starts from fresh
// portfolio state. The context is checked once per simulated day.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.setup(); err != nil {
		e.state = StateFailed
		return nil, err
	}

	e.state = StateRunning
	started := time.Now().UTC()
	r := &run{p: newPortfolio(e.cfg.InitialCapital), equity: &EquityTracker{}}
	total := e.store.NumTradingDates()
	e.log.Info("backtest started",
		slog.String("strategy", e.strategyName()),
		slog.Int("days", total),
		slog.Int("symbols", len(e.store.Symbols())),
		slog.Float64("initial_capital", e.cfg.InitialCapital),
	)

	step := 0
	for date := range e.store.TradingDates() {
		if err := ctx.Err(); err != nil {
			e.state = StateCanceled
			return nil, fmt.Errorf("%w after %d of %d days: %w", ErrCanceled, step, total, err)
		}
		step++
		if err := e.runDay(r, date); err != nil {
			r.failed++
			e.log.Warn("day failed",
				slog.String("date", date.Format(model.DateLayout)),
				slog.String("error", err.Error()),
			)
		}
		e.notify(step, total, date)
	}

	res, err := e.finalize(r, started)
	if err != nil {
		e.state = StateFailed
		return nil, err
	}
	e.persist(ctx, res)
	e.state = StateDone

	e.log.Info("backtest finished",
		slog.String("id", res.ID),
		slog.Float64("final_capital", res.FinalCapital),
		slog.Float64("total_return", res.TotalReturn),
		slog.Int("trades", res.TotalTrades),
		slog.Int("rejected", res.RejectedSignals),
		slog.Int("failed_days", res.FailedDays),
	)
	return res, nil
}

func (e *Engine) setup() error {
	if e.strategy == nil {
		return ErrNoStrategy
	}
	if e.store == nil || e.store.Empty() {
		return ErrNoData
	}
	if err := e.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if r, ok := e.strategy.(strategy.Resetter); ok {
		r.Reset()
	}
	if e.gate != nil {
		if r, ok := e.gate.controller.(interface{ Reset() }); ok {
			r.Reset()
		}
	}
	return nil
}

func (e *Engine) strategyName() string {
	if e.cfg.StrategyName != "" {
		return e.cfg.StrategyName
	}
	if e.strategy != nil {
		return e.strategy.Name()
	}
	return ""
}

// runDay marks positions, records equity, consults the risk gate and runs
// the strategy. On halted days an Observer strategy still sees the bars.
// Panics are returned as errors.
func (e *Engine) runDay(r *run, date time.Time) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	snapshot := e.store.Snapshot(date)
	r.p.book.markAll(snapshot, date)

	equity := r.p.equity()
	var dailyPnL *float64
	if last, ok := r.equity.Last(); ok {
		d := equity - last.Equity
		dailyPnL = &d
	}
	r.equity.record(model.EquityPoint{Date: date, Equity: equity, Cash: r.p.cash})

	if e.gate != nil {
		action, outcomes, err := e.gate.apply(r.p, e.exec, snapshot, date, dailyPnL)
		for _, o := range outcomes {
			e.logOutcome(r, date, o)
		}
		if err != nil {
			return err
		}
		switch action.Kind {
		case risk.StopTrading, risk.CloseAll:
			e.log.Info("risk verdict skips strategy",
				slog.String("date", date.Format(model.DateLayout)),
				slog.String("verdict", string(action.Kind)),
				slog.String("message", action.Message),
			)
			if o, ok := e.strategy.(strategy.Observer); ok {
				o.Observe(e.strategyContext(r, date, snapshot))
			}
			return nil
		case risk.ReducePosition:
			e.log.Info("risk verdict reduced positions",
				slog.String("date", date.Format(model.DateLayout)),
				slog.String("message", action.Message),
			)
		}
	}

	signals, err := e.strategy.Decide(e.strategyContext(r, date, snapshot))
	if err != nil {
		return fmt.Errorf("strategy %s: %w", e.strategy.Name(), err)
	}

	for _, sig := range signals {
		e.checkMetadata(date, sig)
		bar, ok := snapshot[sig.Symbol]
		if !ok {
			e.logOutcome(r, date, Rejected(RejectNoPrice, sig.Symbol))
			continue
		}
		e.logOutcome(r, date, e.exec.Execute(r.p, sig, bar.ReferencePrice(), date))
	}
	return nil
}

func (e *Engine) strategyContext(r *run, date time.Time, snapshot map[string]model.Bar) strategy.Context {
	return strategy.Context{
		Date:      date,
		Bars:      maps.Clone(snapshot),
		Positions: r.p.book.Snapshot(),
		Cash:      r.p.cash,
		Costs:     strategy.Costs{CommissionRate: e.exec.CommissionRate, SlippageBps: e.exec.SlippageBps},
	}
}

func (e *Engine) logOutcome(r *run, date time.Time, o Outcome) {
	if o.Accepted() {
		e.log.Debug("trade filled",
			slog.String("date", date.Format(model.DateLayout)),
			slog.String("trade", o.String()),
			slog.String("strategy", o.Trade.StrategyName),
		)
		return
	}
	r.rejected++
	e.log.Warn("signal rejected",
		slog.String("date", date.Format(model.DateLayout)),
		slog.String("reason", string(o.Reason)),
		slog.String("detail", o.Detail),
	)
}

// checkMetadata warns about known metadata keys holding non-string values.
func (e *Engine) checkMetadata(date time.Time, sig model.Signal) {
	for _, key := range []string{model.MetaSignalID, model.MetaReason} {
		if _, _, err := sig.MetaString(key); err != nil {
			e.log.Warn("ignoring signal metadata",
				slog.String("date", date.Format(model.DateLayout)),
				slog.String("symbol", sig.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) notify(step, total int, date time.Time) {
	if e.observer == nil {
		return
	}
	if step%e.every != 0 && step != total {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Debug("progress observer failed", slog.Any("panic", rec))
		}
	}()
	e.observer(step, total, fmt.Sprintf("processed %s", date.Format(model.DateLayout)))
}

func (e *Engine) finalize(r *run, started time.Time) (*Result, error) {
	curve := r.equity.Curve()
	trades := r.p.ledger.Trades()

	var benchmark map[time.Time]float64
	if sym := e.cfg.BenchmarkSymbol; sym != "" {
		benchmark = e.store.Closes(sym)
		if benchmark == nil {
			e.log.Warn("benchmark symbol has no data", slog.String("symbol", sym))
		}
	}

	m, err := analysis.Compute(curve, trades, e.cfg.InitialCapital, e.cfg.Conventions, benchmark)
	if err != nil {
		return nil, fmt.Errorf("finalize metrics: %w", err)
	}

	cfg := e.cfg
	cfg.StrategyName = e.strategyName()
	final := e.cfg.InitialCapital
	if last, ok := r.equity.Last(); ok {
		final = last.Equity
	}

	id := e.id
	if id == "" {
		id = uuid.NewString()
	}

	return &Result{
		ID:                 id,
		Config:             cfg,
		InitialCapital:     e.cfg.InitialCapital,
		FinalCapital:       final,
		TotalReturn:        m.TotalReturn,
		AnnualizedReturn:   m.AnnualizedReturn,
		Volatility:         m.Volatility,
		SharpeRatio:        m.SharpeRatio,
		MaxDrawdown:        m.MaxDrawdown,
		WinRate:            m.WinRate,
		ProfitFactor:       m.ProfitFactor,
		WinLossRatio:       m.WinLossRatio,
		TotalTrades:        m.TotalTrades,
		PerformanceMetrics: m.Map(),
		EquityCurve:        curve,
		Trades:             trades,
		FinalCash:          r.p.cash,
		OpenPositions:      r.p.book.Snapshot(),
		RejectedSignals:    r.rejected,
		FailedDays:         r.failed,
		StartedAt:          started,
		CompletedAt:        time.Now().UTC(),
	}, nil
}

func (e *Engine) persist(ctx context.Context, res *Result) {
	if e.sink == nil {
		return
	}
	meta := map[string]string{
		"strategy":   res.Config.StrategyName,
		"start_date": dateOrEmpty(res.Config.StartDate),
		"end_date":   dateOrEmpty(res.Config.EndDate),
		"benchmark":  res.Config.BenchmarkSymbol,
	}
	steps := []struct {
		name string
		fn   func() error
	}{
		{"result", func() error { return e.sink.SaveResult(ctx, res.ID, res, meta) }},
		{"trades", func() error { return e.sink.SaveTrades(ctx, res.ID, res.Trades) }},
		{"equity curve", func() error { return e.sink.SaveEquityCurve(ctx, res.ID, res.EquityCurve) }},
		{"metrics", func() error { return e.sink.SaveMetrics(ctx, res.ID, res.PerformanceMetrics) }},
	}
	for _, s := range steps {
		if err := safeCall(s.fn); err != nil {
			e.log.Error("persist backtest",
				slog.String("id", res.ID),
				slog.String("step", s.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}

func dateOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(model.DateLayout)
}

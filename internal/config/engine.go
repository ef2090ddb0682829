package config

import (
	"fmt"
	"log/slog"

	"equity-backtest/internal/backtest"
	"equity-backtest/internal/data"
	"equity-backtest/internal/model"
	"equity-backtest/internal/strategy"
)

// NewEngine loads prices into a market data store bounded by the backtest
// window and returns an engine wired with the configured strategy, risk gate
// and progress cadence. log serves both the store and the engine; nil means
// slog.Default. opts are applied after those and may override them.
func (c *Config) NewEngine(log *slog.Logger, prices model.PriceSeries, opts ...backtest.Option) (*backtest.Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	ec, err := c.Engine()
	if err != nil {
		return nil, err
	}
	strat, err := strategy.Build(c.Strategy.Name, c.Strategy.Params, c.Backtest.RebalanceFrequency)
	if err != nil {
		return nil, fmt.Errorf("build strategy: %w", err)
	}

	store := data.NewStore(ec.StartDate, ec.EndDate)
	store.SetLogger(log)
	if err := store.Load(data.FilterSymbols(prices, c.Data.Symbols)); err != nil {
		return nil, fmt.Errorf("load market data: %w", err)
	}

	base := []backtest.Option{
		backtest.WithLogger(log),
		backtest.WithStrategy(strat),
		backtest.WithProgressInterval(c.Progress.Interval),
	}
	if g := c.RiskGate(); g != nil {
		base = append(base, backtest.WithRiskGate(g))
	}
	return backtest.New(ec, store, append(base, opts...)...), nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"equity-backtest/internal/analysis"
	"equity-backtest/internal/backtest"
	"equity-backtest/internal/model"
	"equity-backtest/internal/risk"
	"equity-backtest/internal/strategy"
)

// Config is the on-disk configuration shape (YAML).
type Config struct {
	Backtest BacktestConfig `yaml:"backtest"`
	// Optional: load strategy parameters from a separate YAML (e.g. examples/strategies/*.yaml).
	// If both StrategyFile and Strategy are provided, Strategy overrides StrategyFile.
	StrategyFile string         `yaml:"strategy_file"`
	Strategy     StrategyConfig `yaml:"strategy"`
	Risk         RiskConfig     `yaml:"risk"`
	Data         DataConfig     `yaml:"data"`
	Storage      StorageConfig  `yaml:"storage"`
	Progress     ProgressConfig `yaml:"progress"`
	Logging      LoggingConfig  `yaml:"logging"`
}

type BacktestConfig struct {
	StartDate          string               `yaml:"start_date"` // YYYY-MM-DD, empty = unbounded
	EndDate            string               `yaml:"end_date"`
	InitialCapital     float64              `yaml:"initial_capital"`
	CommissionRate     float64              `yaml:"commission_rate"`
	SlippageBps        float64              `yaml:"slippage_bps"`
	BenchmarkSymbol    string               `yaml:"benchmark_symbol"`
	RebalanceFrequency string               `yaml:"rebalance_frequency"`
	Conventions        analysis.Conventions `yaml:"conventions"`
}

type StrategyConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

type RiskConfig struct {
	Enabled        bool    `yaml:"enabled"`
	ReduceFraction float64 `yaml:"reduce_fraction"`
	risk.Limits    `yaml:",inline"`
}

type DataConfig struct {
	Path    string   `yaml:"path"` // .json or .csv market data file
	Symbols []string `yaml:"symbols"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"` // empty disables persistence
}

type ProgressConfig struct {
	Interval int `yaml:"interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Defaults returns a config with every optional field filled in.
func Defaults() *Config {
	return &Config{
		Backtest: BacktestConfig{
			InitialCapital:     100000,
			RebalanceFrequency: "monthly",
			Conventions:        analysis.DefaultConventions(),
		},
		Risk:     RiskConfig{ReduceFraction: backtest.DefaultReduceFraction},
		Progress: ProgressConfig{Interval: backtest.DefaultProgressInterval},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

func Load(path string) (*Config, error) {
	c, err := LoadUnchecked(path)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadUnchecked loads and merges config over Defaults, but does not validate
// it or apply environment overrides.
func LoadUnchecked(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Defaults()
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	// If strategy_file is set, load it and merge in any explicit overrides from c.Strategy.
	if c.StrategyFile != "" {
		strategyPath := c.StrategyFile
		if !filepath.IsAbs(strategyPath) {
			// Relative paths resolve against the config file directory first.
			cand := filepath.Join(filepath.Dir(path), strategyPath)
			if _, err := os.Stat(cand); err == nil {
				strategyPath = cand
			}
		}
		loaded, err := loadStrategyFile(strategyPath)
		if err != nil {
			return nil, err
		}
		c.Strategy = MergeStrategy(loaded, c.Strategy)
	}
	return c, nil
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays BACKTEST_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("BACKTEST_DATA_PATH"); v != "" {
		c.Data.Path = v
	}
	if v := os.Getenv("BACKTEST_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("BACKTEST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BACKTEST_INITIAL_CAPITAL"); v != "" {
		capital, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid BACKTEST_INITIAL_CAPITAL: %v", err)
		}
		c.Backtest.InitialCapital = capital
	}
	return nil
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Strategy.Name == "" {
		return errors.New("strategy.name is required")
	}
	if _, err := strategy.Build(c.Strategy.Name, c.Strategy.Params, c.Backtest.RebalanceFrequency); err != nil {
		return fmt.Errorf("strategy config invalid: %w", err)
	}
	if _, err := strategy.ParseFrequency(c.Backtest.RebalanceFrequency); err != nil {
		return err
	}
	engineCfg, err := c.Engine()
	if err != nil {
		return err
	}
	if err := engineCfg.Validate(); err != nil {
		return fmt.Errorf("backtest config invalid: %w", err)
	}
	if err := c.Risk.Limits.Validate(); err != nil {
		return err
	}
	if c.Risk.ReduceFraction < 0 || c.Risk.ReduceFraction > 1 {
		return fmt.Errorf("risk.reduce_fraction must be in [0,1], got %v", c.Risk.ReduceFraction)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// Engine converts the backtest section into the engine's run config.
func (c *Config) Engine() (backtest.Config, error) {
	start, err := parseOptionalDate("backtest.start_date", c.Backtest.StartDate)
	if err != nil {
		return backtest.Config{}, err
	}
	end, err := parseOptionalDate("backtest.end_date", c.Backtest.EndDate)
	if err != nil {
		return backtest.Config{}, err
	}
	return backtest.Config{
		StartDate:          start,
		EndDate:            end,
		InitialCapital:     c.Backtest.InitialCapital,
		CommissionRate:     c.Backtest.CommissionRate,
		SlippageBps:        c.Backtest.SlippageBps,
		BenchmarkSymbol:    c.Backtest.BenchmarkSymbol,
		RebalanceFrequency: c.Backtest.RebalanceFrequency,
		StrategyName:       c.Strategy.Name,
		Conventions:        c.Backtest.Conventions,
	}, nil
}

// RiskGate builds the configured risk gate, or nil when risk checks are off.
func (c *Config) RiskGate() *backtest.RiskGate {
	if !c.Risk.Enabled || !c.Risk.Limits.Enabled() {
		return nil
	}
	return backtest.NewRiskGate(risk.NewLimitsController(c.Risk.Limits), c.Risk.ReduceFraction)
}

func parseOptionalDate(field, s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	d, err := model.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

type strategyFileWrapper struct {
	Strategy StrategyConfig `yaml:"strategy"`
}

func loadStrategyFile(path string) (StrategyConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return StrategyConfig{}, err
	}
	var w strategyFileWrapper
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return StrategyConfig{}, err
	}
	return w.Strategy, nil
}

// MergeStrategy overlays override onto base: a non-empty name wins and
// override params replace base params key by key.
func MergeStrategy(base, override StrategyConfig) StrategyConfig {
	out := StrategyConfig{Name: base.Name, Params: map[string]any{}}
	if override.Name != "" {
		out.Name = override.Name
	}
	for k, v := range base.Params {
		out.Params[k] = v
	}
	for k, v := range override.Params {
		out.Params[k] = v
	}
	return out
}

// MergeBacktest overlays non-zero fields from override onto base.
// This is used by comparison runs to apply a variation to a shared base.
func MergeBacktest(base, override BacktestConfig) BacktestConfig {
	out := base
	if override.StartDate != "" {
		out.StartDate = override.StartDate
	}
	if override.EndDate != "" {
		out.EndDate = override.EndDate
	}
	if override.InitialCapital != 0 {
		out.InitialCapital = override.InitialCapital
	}
	// Note: zero commission/slippage cannot be expressed as an override.
	if override.CommissionRate != 0 {
		out.CommissionRate = override.CommissionRate
	}
	if override.SlippageBps != 0 {
		out.SlippageBps = override.SlippageBps
	}
	if override.BenchmarkSymbol != "" {
		out.BenchmarkSymbol = override.BenchmarkSymbol
	}
	if override.RebalanceFrequency != "" {
		out.RebalanceFrequency = override.RebalanceFrequency
	}
	if override.Conventions.ReturnDays != 0 {
		out.Conventions.ReturnDays = override.Conventions.ReturnDays
	}
	if override.Conventions.VolatilityDays != 0 {
		out.Conventions.VolatilityDays = override.Conventions.VolatilityDays
	}
	if override.Conventions.RiskFreeRate != 0 {
		out.Conventions.RiskFreeRate = override.Conventions.RiskFreeRate
	}
	return out
}

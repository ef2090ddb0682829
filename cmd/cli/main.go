package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"equity-backtest/internal/analysis"
	"equity-backtest/internal/backtest"
	"equity-backtest/internal/config"
	"equity-backtest/internal/data"
	"equity-backtest/internal/model"
	"equity-backtest/internal/storage"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "backtest":
		err = cmdBacktest(ctx, os.Args[2:])
	case "compare":
		err = cmdCompare(ctx, os.Args[2:])
	case "results":
		err = cmdResults(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage:")
	fmt.Println("  cli backtest --config examples/config.yaml [--data prices.csv] [--out results] [--db results.db]")
	fmt.Println("  cli compare --config a.yaml,b.yaml [--data prices.csv]")
	fmt.Println("  cli results --db results.db [--id <result id>] [--limit 20]")
	fmt.Println("")
	fmt.Println("notes:")
	fmt.Println("  - backtest writes trades.csv and equity.csv into --out")
	fmt.Println("  - --data accepts comma-separated .json/.csv files or a directory")
	fmt.Println("  - compare ranks configs by Sharpe ratio over the same data")
}

func cmdBacktest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML config")
	dataPath := fs.String("data", "", "Market data paths (overrides data.path)")
	outDir := fs.String("out", "results", "Output directory for CSV reports")
	dbPath := fs.String("db", "", "SQLite results database (overrides storage.db_path)")
	_ = fs.Parse(args)

	if *cfgPath == "" {
		return errors.New("--config is required")
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *dataPath != "" {
		cfg.Data.Path = *dataPath
	}
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}
	log, err := config.NewLogger(os.Stderr, cfg.Logging)
	if err != nil {
		return err
	}

	prices, err := loadPrices(cfg.Data.Path)
	if err != nil {
		return err
	}

	opts := []backtest.Option{
		backtest.WithObserver(progressLogger(log)),
	}
	if cfg.Storage.DBPath != "" {
		store, err := storage.NewResultStore(cfg.Storage.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, backtest.WithSink(store))
	}

	engine, err := cfg.NewEngine(log, prices, opts...)
	if err != nil {
		return err
	}
	res, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	// ensure output dir exists
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}
	tradesPath := filepath.Join(*outDir, "trades.csv")
	equityPath := filepath.Join(*outDir, "equity.csv")
	if err := backtest.WriteTradesCSV(tradesPath, res.Trades); err != nil {
		return err
	}
	if err := backtest.WriteEquityCSV(equityPath, res.EquityCurve); err != nil {
		return err
	}

	fmt.Printf("Result %s (%s)\n", res.ID, res.Config.StrategyName)
	fmt.Printf("Wrote %d trades to %s and %d equity points to %s\n", len(res.Trades), tradesPath, len(res.EquityCurve), equityPath)
	printMetrics(res)
	return nil
}

func cmdCompare(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	cfgPaths := fs.String("config", "", "Comma-separated YAML configs")
	dataPath := fs.String("data", "", "Market data paths (default: data.path of the first config)")
	_ = fs.Parse(args)

	paths := splitPaths(*cfgPaths)
	if len(paths) == 0 {
		return errors.New("--config is required")
	}
	cfgs := make([]*config.Config, len(paths))
	for i, p := range paths {
		c, err := config.Load(p)
		if err != nil {
			return err
		}
		cfgs[i] = c
	}
	if *dataPath == "" {
		*dataPath = cfgs[0].Data.Path
	}
	log, err := config.NewLogger(os.Stderr, cfgs[0].Logging)
	if err != nil {
		return err
	}
	prices, err := loadPrices(*dataPath)
	if err != nil {
		return err
	}

	var runs []analysis.Scored
	for i, c := range cfgs {
		name := strings.TrimSuffix(filepath.Base(paths[i]), filepath.Ext(paths[i]))
		engine, err := c.NewEngine(log.With(slog.String("config", name)), prices)
		if err != nil {
			return fmt.Errorf("%s: %w", paths[i], err)
		}
		res, err := engine.Run(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", paths[i], err)
		}
		runs = append(runs, analysis.Scored{Name: name, Metrics: res.Metrics()})
	}

	fmt.Printf("%-4s %-20s %-10s %-10s %-10s %-10s %-8s\n", "rank", "config", "return", "sharpe", "max_dd", "win_rate", "trades")
	for _, r := range analysis.Rank(runs) {
		fmt.Printf("%-4d %-20s %-10.4f %-10.3f %-10.4f %-10.3f %-8d\n",
			r.Rank,
			r.Name,
			r.Metrics.TotalReturn,
			r.Metrics.SharpeRatio,
			r.Metrics.MaxDrawdown,
			r.Metrics.WinRate,
			r.Metrics.TotalTrades,
		)
	}
	return nil
}

func cmdResults(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("results", flag.ExitOnError)
	dbPath := fs.String("db", os.Getenv("BACKTEST_DB_PATH"), "SQLite results database")
	id := fs.String("id", "", "Show one result with its metrics")
	limit := fs.Int("limit", 20, "Number of results to list")
	_ = fs.Parse(args)

	if *dbPath == "" {
		return errors.New("--db is required")
	}
	store, err := storage.NewResultStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if *id != "" {
		r, err := store.GetResult(ctx, *id)
		if err != nil {
			return err
		}
		metrics, err := store.LoadMetrics(ctx, *id)
		if err != nil {
			return err
		}
		fmt.Printf("Result %s (%s) %s..%s\n", r.ID, r.Strategy, r.StartDate, r.EndDate)
		fmt.Printf("Initial=$%s Final=$%s Cash=$%s\n", r.InitialCapital.StringFixed(2), r.FinalCapital.StringFixed(2), r.FinalCash.StringFixed(2))
		for _, k := range sortedKeys(metrics) {
			fmt.Printf("  %-22s %v\n", k, metrics[k])
		}
		return nil
	}

	results, err := store.ListResults(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Printf("%-36s %-14s %-14s %-10s %-8s %s\n", "id", "strategy", "final", "return", "trades", "completed")
	for _, r := range results {
		fmt.Printf("%-36s %-14s %-14s %-10.4f %-8d %s\n",
			r.ID, r.Strategy, r.FinalCapital.StringFixed(2), r.TotalReturn, r.TotalTrades,
			r.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func printMetrics(res *backtest.Result) {
	fmt.Printf("Initial=$%.2f Final=$%.2f Cash=$%.2f Open positions=%d\n",
		res.InitialCapital, res.FinalCapital, res.FinalCash, len(res.OpenPositions))
	fmt.Printf("Return=%.4f Annualized=%.4f Volatility=%.4f Sharpe=%.3f MaxDD=%.4f\n",
		res.TotalReturn, res.AnnualizedReturn, res.Volatility, res.SharpeRatio, res.MaxDrawdown)
	fmt.Printf("Trades=%d WinRate=%.3f ProfitFactor=%v Rejected=%d FailedDays=%d\n",
		res.TotalTrades, res.WinRate, res.ProfitFactor, res.RejectedSignals, res.FailedDays)
}

func progressLogger(log *slog.Logger) backtest.ProgressObserver {
	return func(step, total int, msg string) {
		log.Info("backtest progress", slog.Int("step", step), slog.Int("total", total), slog.String("msg", msg))
	}
}

// loadPrices merges every .json/.csv file named in paths. Directory entries
// are expanded one level.
func loadPrices(paths string) (model.PriceSeries, error) {
	files := splitPaths(paths)
	if len(files) == 0 {
		return nil, errors.New("no market data path: set data.path or pass --data")
	}
	prices := model.PriceSeries{}
	for _, p := range files {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			loaded, err := data.LoadFile(p)
			if err != nil {
				return nil, err
			}
			data.Merge(prices, loaded)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if ext != ".json" && ext != ".csv" {
				continue
			}
			loaded, err := data.LoadFile(filepath.Join(p, e.Name()))
			if err != nil {
				return nil, err
			}
			data.Merge(prices, loaded)
		}
	}
	return prices, nil
}

func splitPaths(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

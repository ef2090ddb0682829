package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"

	"equity-backtest/internal/backtest"
	"equity-backtest/internal/model"
)

var ErrNotFound = errors.New("backtest result not found")

// ResultStore persists backtest results in SQLite. Money columns are stored
// as decimal text so they round-trip exactly.
type ResultStore struct {
	db *sql.DB
}

var _ backtest.PersistenceSink = (*ResultStore)(nil)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS backtest_results (
		id TEXT PRIMARY KEY,
		strategy TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		benchmark TEXT NOT NULL,
		initial_capital TEXT NOT NULL,
		final_capital TEXT NOT NULL,
		final_cash TEXT NOT NULL,
		total_return REAL NOT NULL,
		annualized_return REAL NOT NULL,
		volatility REAL NOT NULL,
		sharpe_ratio REAL NOT NULL,
		max_drawdown REAL NOT NULL,
		win_rate REAL NOT NULL,
		profit_factor TEXT NOT NULL,
		win_loss_ratio REAL NOT NULL,
		total_trades INTEGER NOT NULL,
		rejected_signals INTEGER NOT NULL,
		failed_days INTEGER NOT NULL,
		meta TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS backtest_trades (
		result_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		date TEXT NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price TEXT NOT NULL,
		value TEXT NOT NULL,
		commission TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		signal_id TEXT NOT NULL,
		strategy TEXT NOT NULL,
		PRIMARY KEY (result_id, seq)
	);`,
	`CREATE TABLE IF NOT EXISTS backtest_equity (
		result_id TEXT NOT NULL,
		date TEXT NOT NULL,
		equity TEXT NOT NULL,
		cash TEXT NOT NULL,
		PRIMARY KEY (result_id, date)
	);`,
	`CREATE TABLE IF NOT EXISTS backtest_metrics (
		result_id TEXT NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (result_id, name)
	);`,
}

// NewResultStore opens (or creates) the SQLite database at dbPath.
func NewResultStore(dbPath string) (*ResultStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error { return s.db.Close() }

// SaveResult inserts or replaces the result's summary row.
func (s *ResultStore) SaveResult(ctx context.Context, id string, res *backtest.Result, meta map[string]string) error {
	if res == nil {
		return errors.New("result is nil")
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_results (
			id, strategy, start_date, end_date, benchmark,
			initial_capital, final_capital, final_cash,
			total_return, annualized_return, volatility, sharpe_ratio, max_drawdown,
			win_rate, profit_factor, win_loss_ratio,
			total_trades, rejected_signals, failed_days, meta, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, res.Config.StrategyName, fmtDate(res.Config.StartDate), fmtDate(res.Config.EndDate), res.Config.BenchmarkSymbol,
		money(res.InitialCapital), money(res.FinalCapital), money(res.FinalCash),
		res.TotalReturn, res.AnnualizedReturn, res.Volatility, res.SharpeRatio, res.MaxDrawdown,
		res.WinRate, ratio(res.ProfitFactor), res.WinLossRatio,
		res.TotalTrades, res.RejectedSignals, res.FailedDays, string(metaJSON),
		res.StartedAt.UnixMilli(), res.CompletedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// SaveTrades replaces the trade rows of result id in one transaction.
func (s *ResultStore) SaveTrades(ctx context.Context, id string, trades []model.Trade) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM backtest_trades WHERE result_id = ?", id); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO backtest_trades (result_id, seq, date, symbol, action, quantity, price, value, commission, realized_pnl, signal_id, strategy)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, t := range trades {
			if _, err := stmt.ExecContext(ctx, id, i, fmtDate(t.Date), t.Symbol, string(t.Action), t.Quantity,
				money(t.Price), money(t.Value), money(t.Commission), money(t.RealizedPnL), t.SignalID, t.StrategyName); err != nil {
				return fmt.Errorf("trade %d: %w", i, err)
			}
		}
		return nil
	})
}

// SaveEquityCurve replaces the equity rows of result id in one transaction.
func (s *ResultStore) SaveEquityCurve(ctx context.Context, id string, curve []model.EquityPoint) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM backtest_equity WHERE result_id = ?", id); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO backtest_equity (result_id, date, equity, cash) VALUES (?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range curve {
			if _, err := stmt.ExecContext(ctx, id, fmtDate(p.Date), money(p.Equity), money(p.Cash)); err != nil {
				return fmt.Errorf("equity %s: %w", fmtDate(p.Date), err)
			}
		}
		return nil
	})
}

// SaveMetrics upserts every metric of result id.
func (s *ResultStore) SaveMetrics(ctx context.Context, id string, metrics map[string]float64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for name, v := range metrics {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO backtest_metrics (result_id, name, value) VALUES (?, ?, ?) ON CONFLICT(result_id, name) DO UPDATE SET value=excluded.value",
				id, name, ratio(v),
			); err != nil {
				return fmt.Errorf("metric %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *ResultStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// money formats a float as exact decimal text.
func money(x float64) string {
	return decimal.NewFromFloat(x).String()
}

// ratio formats a float that may be infinite.
func ratio(x float64) string {
	return strconv.FormatFloat(x, 'g', -1, 64)
}

func fmtDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(model.DateLayout)
}

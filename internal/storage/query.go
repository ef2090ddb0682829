package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"equity-backtest/internal/model"
)

// ResultSummary is a stored result without its trades and equity curve.
type ResultSummary struct {
	ID        string
	Strategy  string
	StartDate string
	EndDate   string
	Benchmark string

	InitialCapital decimal.Decimal
	FinalCapital   decimal.Decimal
	FinalCash      decimal.Decimal

	TotalReturn      float64
	AnnualizedReturn float64
	Volatility       float64
	SharpeRatio      float64
	MaxDrawdown      float64
	WinRate          float64
	ProfitFactor     float64
	WinLossRatio     float64

	TotalTrades     int
	RejectedSignals int
	FailedDays      int
	Meta            map[string]string

	StartedAt   time.Time
	CompletedAt time.Time
}

const summaryColumns = `id, strategy, start_date, end_date, benchmark,
	initial_capital, final_capital, final_cash,
	total_return, annualized_return, volatility, sharpe_ratio, max_drawdown,
	win_rate, profit_factor, win_loss_ratio,
	total_trades, rejected_signals, failed_days, meta, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (ResultSummary, error) {
	var (
		r                        ResultSummary
		initial, final, cash, pf string
		meta                     string
		started, completed       int64
	)
	err := row.Scan(&r.ID, &r.Strategy, &r.StartDate, &r.EndDate, &r.Benchmark,
		&initial, &final, &cash,
		&r.TotalReturn, &r.AnnualizedReturn, &r.Volatility, &r.SharpeRatio, &r.MaxDrawdown,
		&r.WinRate, &pf, &r.WinLossRatio,
		&r.TotalTrades, &r.RejectedSignals, &r.FailedDays, &meta, &started, &completed)
	if err != nil {
		return ResultSummary{}, err
	}
	if r.InitialCapital, err = decimal.NewFromString(initial); err != nil {
		return ResultSummary{}, fmt.Errorf("initial_capital: %w", err)
	}
	if r.FinalCapital, err = decimal.NewFromString(final); err != nil {
		return ResultSummary{}, fmt.Errorf("final_capital: %w", err)
	}
	if r.FinalCash, err = decimal.NewFromString(cash); err != nil {
		return ResultSummary{}, fmt.Errorf("final_cash: %w", err)
	}
	if r.ProfitFactor, err = strconv.ParseFloat(pf, 64); err != nil {
		return ResultSummary{}, fmt.Errorf("profit_factor: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &r.Meta); err != nil {
		return ResultSummary{}, fmt.Errorf("meta: %w", err)
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	r.CompletedAt = time.UnixMilli(completed).UTC()
	return r, nil
}

// GetResult loads one result summary. Returns ErrNotFound for unknown ids.
func (s *ResultStore) GetResult(ctx context.Context, id string) (*ResultSummary, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+summaryColumns+" FROM backtest_results WHERE id = ?", id)
	r, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load result: %w", err)
	}
	return &r, nil
}

// ListResults returns the newest results first, at most limit rows.
func (s *ResultStore) ListResults(ctx context.Context, limit int) ([]ResultSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+summaryColumns+" FROM backtest_results ORDER BY completed_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	out := []ResultSummary{}
	for rows.Next() {
		r, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadTrades returns the stored trades of result id in execution order.
func (s *ResultStore) LoadTrades(ctx context.Context, id string) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, symbol, action, quantity, price, value, commission, realized_pnl, signal_id, strategy
		FROM backtest_trades WHERE result_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	defer rows.Close()

	out := []model.Trade{}
	for rows.Next() {
		var (
			t                                  model.Trade
			date, action                       string
			price, value, commission, realized string
		)
		if err := rows.Scan(&date, &t.Symbol, &action, &t.Quantity, &price, &value, &commission, &realized, &t.SignalID, &t.StrategyName); err != nil {
			return nil, err
		}
		if t.Date, err = model.ParseDate(date); err != nil {
			return nil, err
		}
		if t.Action, err = model.ParseAction(action); err != nil {
			return nil, err
		}
		nums, err := parseMoney(price, value, commission, realized)
		if err != nil {
			return nil, err
		}
		t.Price, t.Value, t.Commission, t.RealizedPnL = nums[0], nums[1], nums[2], nums[3]
		out = append(out, t)
	}
	return out, rows.Err()
}

// LoadEquityCurve returns the stored equity curve of result id.
func (s *ResultStore) LoadEquityCurve(ctx context.Context, id string) ([]model.EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT date, equity, cash FROM backtest_equity WHERE result_id = ? ORDER BY date", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load equity curve: %w", err)
	}
	defer rows.Close()

	out := []model.EquityPoint{}
	for rows.Next() {
		var date, equity, cash string
		if err := rows.Scan(&date, &equity, &cash); err != nil {
			return nil, err
		}
		d, err := model.ParseDate(date)
		if err != nil {
			return nil, err
		}
		nums, err := parseMoney(equity, cash)
		if err != nil {
			return nil, err
		}
		out = append(out, model.EquityPoint{Date: d, Equity: nums[0], Cash: nums[1]})
	}
	return out, rows.Err()
}

// LoadMetrics returns the stored metrics map of result id.
func (s *ResultStore) LoadMetrics(ctx context.Context, id string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, value FROM backtest_metrics WHERE result_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics: %w", err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", name, err)
		}
		out[name] = v
	}
	return out, rows.Err()
}

func parseMoney(vals ...string) ([]float64, error) {
	out := make([]float64, len(vals))
	for i, v := range vals {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, err
		}
		out[i] = d.InexactFloat64()
	}
	return out, nil
}

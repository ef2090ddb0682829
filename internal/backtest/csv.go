package backtest

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"equity-backtest/internal/model"
)

// WriteTradesCSV writes the trade ledger to path.
func WriteTradesCSV(path string, trades []model.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteTrades(f, trades)
}

func WriteTrades(out io.Writer, trades []model.Trade) error {
	w := csv.NewWriter(out)

	header := []string{
		"index",
		"date",
		"symbol",
		"action",
		"quantity",
		"price",
		"value",
		"commission",
		"realized_pnl",
		"signal_id",
		"strategy",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for i, t := range trades {
		row := []string{
			strconv.Itoa(i),
			fmtDate(t.Date),
			t.Symbol,
			string(t.Action),
			strconv.FormatInt(t.Quantity, 10),
			fmtPrice(t.Price),
			fmtMoney(t.Value),
			fmtMoney(t.Commission),
			fmtMoney(t.RealizedPnL),
			t.SignalID,
			t.StrategyName,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// WriteEquityCSV writes the equity curve to path.
func WriteEquityCSV(path string, curve []model.EquityPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteEquity(f, curve)
}

func WriteEquity(out io.Writer, curve []model.EquityPoint) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"date", "equity", "cash", "positions_value"}); err != nil {
		return err
	}
	for _, p := range curve {
		eq := decimal.NewFromFloat(p.Equity).Round(2)
		cash := decimal.NewFromFloat(p.Cash).Round(2)
		row := []string{
			fmtDate(p.Date),
			eq.StringFixed(2),
			cash.StringFixed(2),
			eq.Sub(cash).StringFixed(2),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func fmtDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(model.DateLayout)
}

func fmtMoney(x float64) string {
	return decimal.NewFromFloat(x).StringFixed(2)
}

func fmtPrice(x float64) string {
	return decimal.NewFromFloat(x).StringFixed(4)
}

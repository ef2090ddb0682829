package storage

import (
	"testing"
	"time"

	"equity-backtest/internal/data"
	"equity-backtest/internal/model"
	"equity-backtest/internal/strategy"
)

func newPriceStore(t *testing.T) *data.Store {
	t.Helper()
	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	s := data.NewStore(time.Time{}, time.Time{})
	err := s.Load(model.PriceSeries{"AAPL": {
		{Date: d, Close: 10},
		{Date: d.AddDate(0, 0, 1), Close: 11},
		{Date: d.AddDate(0, 0, 2), Close: 12},
	}})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func buyFirstDay(symbol string, qty int64) strategy.Strategy {
	done := false
	return strategy.Func{Label: "first_day", Fn: func(ctx strategy.Context) ([]model.Signal, error) {
		if done {
			return nil, nil
		}
		done = true
		return []model.Signal{{Symbol: symbol, Action: model.ActionBuy, Quantity: qty}}, nil
	}}
}

package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"equity-backtest/internal/model"
)

var csvColumns = []string{"symbol", "date", "open", "high", "low", "close", "volume"}

// LoadCSV reads long-format rows: symbol,date,open,high,low,close,volume.
// The header row is required; column order is taken from it.
func LoadCSV(path string) (model.PriceSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	prices, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return prices, nil
}

// ReadCSV parses CSV market data from r.
func ReadCSV(r io.Reader) (model.PriceSeries, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty csv")
		}
		return nil, err
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range csvColumns {
		if _, ok := col[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}

	prices := model.PriceSeries{}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		date, err := model.ParseDate(rec[col["date"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		nums := make(map[string]float64, 5)
		for _, c := range csvColumns[2:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col[c]]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid %s %q", line, c, rec[col[c]])
			}
			nums[c] = v
		}
		symbol := strings.TrimSpace(rec[col["symbol"]])
		prices[symbol] = append(prices[symbol], model.Bar{
			Date:   date,
			Open:   nums["open"],
			High:   nums["high"],
			Low:    nums["low"],
			Close:  nums["close"],
			Volume: nums["volume"],
		})
	}
	return prices, nil
}

package data

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"equity-backtest/internal/model"
)

// LoadJSON reads the provider shape {"SYMBOL": [{"date": ..., "close": ...}]}.
func LoadJSON(path string) (model.PriceSeries, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var prices model.PriceSeries
	if err := json.Unmarshal(raw, &prices); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return prices, nil
}

// LoadFile dispatches on the file extension (.json or .csv).
func LoadFile(path string) (model.PriceSeries, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSON(path)
	case ".csv":
		return LoadCSV(path)
	default:
		return nil, fmt.Errorf("unsupported market data file %q (want .json or .csv)", path)
	}
}

// FilterSymbols keeps only the listed symbols. An empty list keeps everything.
func FilterSymbols(prices model.PriceSeries, symbols []string) model.PriceSeries {
	if len(symbols) == 0 {
		return prices
	}
	out := model.PriceSeries{}
	for _, s := range symbols {
		if bars, ok := prices[s]; ok {
			out[s] = bars
		}
	}
	return out
}

// Merge appends src's bars into dst per symbol.
func Merge(dst, src model.PriceSeries) {
	for k, v := range src {
		dst[k] = append(dst[k], v...)
	}
}

package strategy

import (
	"fmt"
	"strings"
)

// ParameterInfo documents one strategy parameter.
type ParameterInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default"`
}

// Info documents a built-in strategy.
type Info struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ParameterInfo `json:"parameters"`
}

// Catalog lists the built-in strategies with their parameters.
func Catalog() []Info {
	symbols := ParameterInfo{Name: "symbols", Type: "[]string", Description: "Restrict trading to these symbols (default: all loaded)", Default: []string{}}
	return []Info{
		{
			Name:        "sma_cross",
			Description: "Moving-average crossover. Buys on a golden cross and exits the position on a dead cross.",
			Parameters: []ParameterInfo{
				{Name: "short_window", Type: "int", Description: "Short SMA length in trading days", Default: 5},
				{Name: "long_window", Type: "int", Description: "Long SMA length in trading days", Default: 20},
				{Name: "allocation", Type: "float", Description: "Fraction of cash spent per entry", Default: 0.1},
				symbols,
			},
		},
		{
			Name:        "buy_and_hold",
			Description: "Invests equally across symbols on the first trading day and holds to the end.",
			Parameters: []ParameterInfo{
				{Name: "allocation", Type: "float", Description: "Fraction of starting cash invested", Default: 0.95},
				symbols,
			},
		},
		{
			Name:        "rebalance",
			Description: "Equal-weight portfolio rebalanced on a calendar schedule.",
			Parameters: []ParameterInfo{
				{Name: "frequency", Type: "string", Description: "daily, weekly or monthly", Default: "monthly"},
				{Name: "allocation", Type: "float", Description: "Fraction of equity kept invested", Default: 0.95},
				{Name: "threshold", Type: "int", Description: "Skip adjustments smaller than this many shares", Default: 1},
				symbols,
			},
		},
	}
}

// Build constructs a fresh strategy instance by name. frequency is the
// config-level rebalance frequency, used when params do not set one.
func Build(name string, params map[string]any, frequency string) (Strategy, error) {
	switch name {
	case "sma_cross":
		return NewSMACrossStrategy(SMACrossParams{
			ShortWindow: int(mustNum(params, "short_window", 5)),
			LongWindow:  int(mustNum(params, "long_window", 20)),
			Allocation:  mustNum(params, "allocation", 0.1),
			Symbols:     mustStrs(params, "symbols"),
		})
	case "buy_and_hold":
		alloc := mustNum(params, "allocation", 0.95)
		if alloc <= 0 || alloc > 1 {
			return nil, fmt.Errorf("allocation must be in (0,1], got %v", alloc)
		}
		return &BuyAndHoldStrategy{Allocation: alloc, Symbols: mustStrs(params, "symbols")}, nil
	case "rebalance":
		freq, err := ParseFrequency(mustStr(params, "frequency", frequency))
		if err != nil {
			return nil, err
		}
		alloc := mustNum(params, "allocation", 0.95)
		if alloc <= 0 || alloc > 1 {
			return nil, fmt.Errorf("allocation must be in (0,1], got %v", alloc)
		}
		return &RebalanceStrategy{Params: RebalanceParams{
			Frequency:  freq,
			Allocation: alloc,
			Symbols:    mustStrs(params, "symbols"),
			Threshold:  int64(mustNum(params, "threshold", 1)),
		}}, nil
	case "":
		return nil, fmt.Errorf("strategy name is required")
	default:
		return nil, fmt.Errorf("unsupported strategy: %q", name)
	}
}

func mustNum(m map[string]any, key string, def float64) float64 {
	if v, ok := m[key]; ok && v != nil {
		switch x := v.(type) {
		case float64:
			return x
		case int:
			return float64(x)
		case int64:
			return float64(x)
		}
	}
	return def
}

func mustStr(m map[string]any, key string, def string) string {
	if v, ok := m[key]; ok && v != nil {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return def
}

func mustStrs(m map[string]any, key string) []string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, p := range strings.Split(x, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

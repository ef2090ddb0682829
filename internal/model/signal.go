package model

import (
	"errors"
	"fmt"
	"time"
)

// Known metadata keys. The map stays open for forward compatibility; only
// these keys are interpreted, and only when they hold strings.
const (
	MetaSignalID = "signal_id"
	MetaReason   = "reason"
)

// RiskControlStrategy tags forced trades issued by the risk gate.
const RiskControlStrategy = "risk_control"

// Signal is a strategy's request to trade.
type Signal struct {
	Symbol       string         `json:"symbol"`
	Action       Action         `json:"action"`
	Quantity     int64          `json:"quantity"`
	PriceHint    float64        `json:"price_hint,omitempty"`
	Confidence   float64        `json:"confidence,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	StrategyName string         `json:"strategy_name"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks the fields the execution simulator relies on.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return errors.New("signal symbol is empty")
	}
	if !s.Action.Valid() {
		return fmt.Errorf("signal %s: unknown action %q", s.Symbol, s.Action)
	}
	if s.Quantity <= 0 {
		return fmt.Errorf("signal %s: quantity must be > 0, got %d", s.Symbol, s.Quantity)
	}
	return nil
}

// MetaString returns a string metadata value. ok is false when the key is
// missing; err is set when the key exists with a non-string value.
func (s Signal) MetaString(key string) (val string, ok bool, err error) {
	raw, exists := s.Metadata[key]
	if !exists || raw == nil {
		return "", false, nil
	}
	str, isStr := raw.(string)
	if !isStr {
		return "", false, fmt.Errorf("metadata %q must be a string, got %T", key, raw)
	}
	return str, true, nil
}

package model

import "fmt"

// Action is the side of a signal or trade.
// Keep these values stable; they are written to CSV and SQLite.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// ParseAction accepts exactly BUY or SELL. Anything else is an error rather
// than a silently ignored signal.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionBuy, ActionSell:
		return Action(s), nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

func (a Action) String() string { return string(a) }

// UnmarshalText rejects unknown actions at the JSON/YAML boundary.
func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

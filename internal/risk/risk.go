package risk

import (
	"time"

	"equity-backtest/internal/model"
)

// Kind is a risk controller verdict.
type Kind string

const (
	None           Kind = "NONE"
	StopTrading    Kind = "STOP_TRADING"
	CloseAll       Kind = "CLOSE_ALL"
	ReducePosition Kind = "REDUCE_POSITION"
)

func (k Kind) Valid() bool {
	switch k {
	case None, StopTrading, CloseAll, ReducePosition:
		return true
	}
	return false
}

// Action is what the controller wants done today.
type Action struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`
}

// Input is the state handed to a controller once per trading day.
type Input struct {
	Date      time.Time
	Equity    float64
	Positions map[string]model.Position
	// DailyPnL is nil on the first trading day.
	DailyPnL     *float64
	RecentTrades []model.Trade
}

// Controller evaluates portfolio risk once per trading day.
type Controller interface {
	Evaluate(in Input) (Action, error)
}

// ControllerFunc adapts a plain function to Controller.
type ControllerFunc func(in Input) (Action, error)

func (f ControllerFunc) Evaluate(in Input) (Action, error) { return f(in) }

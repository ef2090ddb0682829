package risk

import (
	"fmt"
	"sort"
)

// Limits are the thresholds checked by LimitsController. A zero value
// disables that check.
type Limits struct {
	MaxDrawdown       float64 `yaml:"max_drawdown" json:"max_drawdown"`               // fraction below the equity peak, e.g. 0.2
	MaxDailyLoss      float64 `yaml:"max_daily_loss" json:"max_daily_loss"`           // fraction of prior equity, e.g. 0.05
	MaxPositionWeight float64 `yaml:"max_position_weight" json:"max_position_weight"` // fraction of equity in one symbol
}

func (l Limits) Validate() error {
	for name, v := range map[string]float64{
		"max_drawdown":        l.MaxDrawdown,
		"max_daily_loss":      l.MaxDailyLoss,
		"max_position_weight": l.MaxPositionWeight,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("risk.%s must be in [0,1], got %v", name, v)
		}
	}
	return nil
}

func (l Limits) Enabled() bool {
	return l.MaxDrawdown > 0 || l.MaxDailyLoss > 0 || l.MaxPositionWeight > 0
}

// LimitsController checks, in priority order: drawdown from the equity peak
// (CLOSE_ALL), the day's loss (STOP_TRADING) and the largest position weight
// (REDUCE_POSITION).
type LimitsController struct {
	limits Limits
	peak   float64
}

func NewLimitsController(l Limits) *LimitsController {
	return &LimitsController{limits: l}
}

// Reset forgets the equity peak.
func (c *LimitsController) Reset() { c.peak = 0 }

func (c *LimitsController) Evaluate(in Input) (Action, error) {
	if in.Equity > c.peak {
		c.peak = in.Equity
	}

	if c.limits.MaxDrawdown > 0 && c.peak > 0 {
		dd := (c.peak - in.Equity) / c.peak
		if dd >= c.limits.MaxDrawdown {
			return Action{Kind: CloseAll, Message: fmt.Sprintf("drawdown %.2f%% breached limit %.2f%%", dd*100, c.limits.MaxDrawdown*100)}, nil
		}
	}

	if c.limits.MaxDailyLoss > 0 && in.DailyPnL != nil && *in.DailyPnL < 0 {
		prior := in.Equity - *in.DailyPnL
		if prior > 0 && -*in.DailyPnL/prior >= c.limits.MaxDailyLoss {
			return Action{Kind: StopTrading, Message: fmt.Sprintf("daily loss %.2f breached limit %.2f%%", *in.DailyPnL, c.limits.MaxDailyLoss*100)}, nil
		}
	}

	if c.limits.MaxPositionWeight > 0 && in.Equity > 0 {
		syms := make([]string, 0, len(in.Positions))
		for s := range in.Positions {
			syms = append(syms, s)
		}
		sort.Strings(syms)
		for _, s := range syms {
			w := in.Positions[s].MarketValue / in.Equity
			if w > c.limits.MaxPositionWeight {
				return Action{Kind: ReducePosition, Message: fmt.Sprintf("%s weight %.2f%% above limit %.2f%%", s, w*100, c.limits.MaxPositionWeight*100)}, nil
			}
		}
	}

	return Action{Kind: None}, nil
}

package backtest

import (
	"fmt"
	"math"
	"time"

	"equity-backtest/internal/model"
)

// RejectReason says why a signal produced no trade.
type RejectReason string

const (
	RejectInvalidSignal    RejectReason = "invalid signal"
	RejectNoPrice          RejectReason = "no price for symbol today"
	RejectInsufficientCash RejectReason = "insufficient cash"
	RejectNoPosition       RejectReason = "no position to sell"
	RejectNonPositivePrice RejectReason = "non-positive reference price"
)

// Outcome is either an accepted trade or a rejection reason.
type Outcome struct {
	Trade  model.Trade
	Reason RejectReason
	Detail string
}

func Accepted(t model.Trade) Outcome { return Outcome{Trade: t} }

func Rejected(reason RejectReason, detail string) Outcome {
	return Outcome{Reason: reason, Detail: detail}
}

func (o Outcome) Accepted() bool { return o.Reason == "" }

func (o Outcome) String() string {
	if o.Accepted() {
		return fmt.Sprintf("%s %d %s @ %.4f", o.Trade.Action, o.Trade.Quantity, o.Trade.Symbol, o.Trade.Price)
	}
	if o.Detail == "" {
		return string(o.Reason)
	}
	return string(o.Reason) + ": " + o.Detail
}

// portfolio is the mutable state of one run.
type portfolio struct {
	cash   float64
	book   *PositionBook
	ledger *TradeLedger
}

func newPortfolio(cash float64) *portfolio {
	return &portfolio{cash: cash, book: NewPositionBook(), ledger: NewTradeLedger()}
}

func (p *portfolio) equity() float64 { return p.cash + p.book.MarketValue() }

// ExecutionSimulator fills signals at the reference price adjusted for
// slippage, charging commission on the fill value.
type ExecutionSimulator struct {
	CommissionRate float64
	SlippageBps    float64
}

func NewExecutionSimulator(commissionRate, slippageBps float64) *ExecutionSimulator {
	return &ExecutionSimulator{CommissionRate: commissionRate, SlippageBps: slippageBps}
}

// FillPrice applies slippage against the trader.
func (x *ExecutionSimulator) FillPrice(action model.Action, ref float64) float64 {
	adj := ref * x.SlippageBps / 10000
	if action == model.ActionSell {
		return ref - adj
	}
	return ref + adj
}

// Execute fills sig against p. A rejected outcome leaves p untouched.
func (x *ExecutionSimulator) Execute(p *portfolio, sig model.Signal, ref float64, date time.Time) Outcome {
	if err := sig.Validate(); err != nil {
		return Rejected(RejectInvalidSignal, err.Error())
	}
	if ref <= 0 || math.IsNaN(ref) || math.IsInf(ref, 0) {
		return Rejected(RejectNonPositivePrice, fmt.Sprintf("%s ref %v", sig.Symbol, ref))
	}
	fill := x.FillPrice(sig.Action, ref)
	if sig.Action == model.ActionBuy {
		return x.buy(p, sig, ref, fill, date)
	}
	return x.sell(p, sig, ref, fill, date)
}

// buy and sell leave the touched position marked at ref, so equity stays
// correct on later days without a bar for the symbol.
func (x *ExecutionSimulator) buy(p *portfolio, sig model.Signal, ref, fill float64, date time.Time) Outcome {
	qty := sig.Quantity
	value := float64(qty) * fill
	commission := value * x.CommissionRate
	if value+commission > p.cash {
		return Rejected(RejectInsufficientCash, fmt.Sprintf("need %.2f, have %.2f", value+commission, p.cash))
	}

	p.cash -= value + commission
	if pos := p.book.get(sig.Symbol); pos != nil {
		total := pos.Quantity + qty
		pos.AvgCost = (float64(pos.Quantity)*pos.AvgCost + float64(qty)*fill) / float64(total)
		pos.Quantity = total
		pos.Mark(ref, date)
	} else {
		p.book.open(sig.Symbol, qty, fill, ref, date)
	}

	t := x.record(p, sig, qty, fill, value, commission, 0, date)
	return Accepted(t)
}

func (x *ExecutionSimulator) sell(p *portfolio, sig model.Signal, ref, fill float64, date time.Time) Outcome {
	pos := p.book.get(sig.Symbol)
	if pos == nil || pos.Quantity <= 0 {
		return Rejected(RejectNoPosition, sig.Symbol)
	}
	qty := sig.Quantity
	if qty > pos.Quantity {
		qty = pos.Quantity
	}
	value := float64(qty) * fill
	commission := value * x.CommissionRate
	realized := (fill - pos.AvgCost) * float64(qty)

	p.cash += value - commission
	pos.RealizedPnL += realized
	pos.Quantity -= qty
	if pos.Quantity == 0 {
		p.book.remove(sig.Symbol)
	} else {
		pos.Mark(ref, date)
	}

	t := x.record(p, sig, qty, fill, value, commission, realized, date)
	return Accepted(t)
}

func (x *ExecutionSimulator) record(p *portfolio, sig model.Signal, qty int64, fill, value, commission, realized float64, date time.Time) model.Trade {
	t := model.Trade{
		Date:         date,
		Symbol:       sig.Symbol,
		Action:       sig.Action,
		Quantity:     qty,
		Price:        fill,
		Value:        value,
		Commission:   commission,
		RealizedPnL:  realized,
		SignalID:     signalID(sig, date, p.ledger.Len()+1),
		StrategyName: sig.StrategyName,
	}
	p.ledger.append(t)
	return t
}

// signalID uses the signal's signal_id metadata when it is a string and
// otherwise derives a deterministic id from the date and ledger sequence.
func signalID(sig model.Signal, date time.Time, seq int) string {
	if id, ok, err := sig.MetaString(model.MetaSignalID); err == nil && ok && id != "" {
		return id
	}
	return fmt.Sprintf("%s-%04d", date.Format("20060102"), seq)
}

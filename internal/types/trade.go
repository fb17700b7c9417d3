package types

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

type TradeSide string

const (
	TradeSideLong  TradeSide = "LONG"
	TradeSideShort TradeSide = "SHORT"
)

// Trade is one round-trip (or still-open) execution record. A trade is
// created when a fill opens a position and mutated exactly once to its
// closed state when the position returns to flat. Same-symbol same-direction
// entries merge into the open trade with a weighted entry price, so a close
// always resolves against one record per symbol.
type Trade struct {
	ID       string    `yaml:"id" json:"id" csv:"id"`
	Symbol   string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Side     TradeSide `yaml:"side" json:"side" csv:"side"`
	Quantity float64   `yaml:"quantity" json:"quantity" csv:"quantity"`

	EntryTime  time.Time `yaml:"entry_time" json:"entry_time" csv:"entry_time"`
	EntryPrice float64   `yaml:"entry_price" json:"entry_price" csv:"entry_price"`

	// ExitTime and ExitPrice are set by exactly one closing event.
	ExitTime  optional.Option[time.Time] `yaml:"exit_time" json:"exit_time" csv:"exit_time"`
	ExitPrice float64                    `yaml:"exit_price" json:"exit_price" csv:"exit_price"`

	Fees     float64 `yaml:"fees" json:"fees" csv:"fees"`
	Slippage float64 `yaml:"slippage" json:"slippage" csv:"slippage"`

	// RealizedPnL accumulates as partial reductions realize gains or losses;
	// it is final once IsOpen flips to false.
	RealizedPnL float64 `yaml:"realized_pnl" json:"realized_pnl" csv:"realized_pnl"`
	ReturnPct   float64 `yaml:"return_pct" json:"return_pct" csv:"return_pct"`

	IsOpen bool `yaml:"is_open" json:"is_open" csv:"is_open"`
}

// HoldingPeriod returns the time the trade was (or has been) held. For open
// trades the given now is used as the provisional exit.
func (t Trade) HoldingPeriod(now time.Time) time.Duration {
	if t.ExitTime.IsSome() {
		return t.ExitTime.Unwrap().Sub(t.EntryTime)
	}

	return now.Sub(t.EntryTime)
}

// EntryNotional returns quantity times entry price.
func (t Trade) EntryNotional() float64 {
	notional, _ := decimal.NewFromFloat(t.Quantity).Mul(decimal.NewFromFloat(t.EntryPrice)).Float64()

	return notional
}

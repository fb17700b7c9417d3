package types

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// MinPositionQuantity is the threshold below which a position is considered
// flat. A position exists iff |quantity| >= MinPositionQuantity.
const MinPositionQuantity = 1e-4

// Position is the net holding in one symbol. Quantity is signed: positive for
// long, negative for short. The average entry price is recomputed as a
// size-weighted blend on same-direction fills.
type Position struct {
	Symbol        string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Quantity      float64   `yaml:"quantity" json:"quantity" csv:"quantity"`
	AvgEntryPrice float64   `yaml:"avg_entry_price" json:"avg_entry_price" csv:"avg_entry_price"`
	UnrealizedPnL float64   `yaml:"unrealized_pnl" json:"unrealized_pnl" csv:"unrealized_pnl"`
	TotalFees     float64   `yaml:"total_fees" json:"total_fees" csv:"total_fees"`
	TotalSlippage float64   `yaml:"total_slippage" json:"total_slippage" csv:"total_slippage"`
	OpenTime      time.Time `yaml:"open_time" json:"open_time" csv:"open_time"`
}

// Exists reports whether the position is large enough to be tracked.
func (p Position) Exists() bool {
	return math.Abs(p.Quantity) >= MinPositionQuantity
}

// IsLong reports whether the position is net long.
func (p Position) IsLong() bool {
	return p.Quantity > 0
}

// MarketValue returns the position's signed mark-to-market value at the
// given price.
func (p Position) MarketValue(markPrice float64) float64 {
	value, _ := decimal.NewFromFloat(p.Quantity).Mul(decimal.NewFromFloat(markPrice)).Float64()

	return value
}

// UnrealizedAt returns the unrealized P&L if the position were marked at the
// given price. For shorts the sign flips: price below entry is a gain.
func (p Position) UnrealizedAt(markPrice float64) float64 {
	priceDelta := decimal.NewFromFloat(markPrice).Sub(decimal.NewFromFloat(p.AvgEntryPrice))
	pnl, _ := priceDelta.Mul(decimal.NewFromFloat(p.Quantity)).Float64()

	return pnl
}

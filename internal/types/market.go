package types

import (
	"time"

	"github.com/moznion/go-optional"
)

// MarketBar is one OHLCV+quote observation for a symbol at a timestamp.
// Bars are immutable: they are produced by a bar source and consumed once
// per simulation tick.
type MarketBar struct {
	Symbol string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Time   time.Time `yaml:"time" json:"time" csv:"time"`
	Open   float64   `yaml:"open" json:"open" csv:"open"`
	High   float64   `yaml:"high" json:"high" csv:"high"`
	Low    float64   `yaml:"low" json:"low" csv:"low"`
	Close  float64   `yaml:"close" json:"close" csv:"close"`
	Volume float64   `yaml:"volume" json:"volume" csv:"volume"`
	// Bid and Ask are the best quote at bar close. Zero means no quote was
	// recorded and execution falls back to the close price.
	Bid     float64 `yaml:"bid" json:"bid" csv:"bid"`
	Ask     float64 `yaml:"ask" json:"ask" csv:"ask"`
	BidSize float64 `yaml:"bid_size" json:"bid_size" csv:"bid_size"`
	AskSize float64 `yaml:"ask_size" json:"ask_size" csv:"ask_size"`
	// VWAP is the volume-weighted average price over the bar, when the feed
	// provides one.
	VWAP optional.Option[float64] `yaml:"vwap" json:"vwap" csv:"vwap"`
	// TradeCount is the number of trades aggregated into the bar, when the
	// feed provides one.
	TradeCount optional.Option[int64] `yaml:"trade_count" json:"trade_count" csv:"trade_count"`
}

// BuyQuote returns the price a buyer crosses the spread at: the ask when a
// quote is present, otherwise the close.
func (b MarketBar) BuyQuote() float64 {
	if b.Ask > 0 {
		return b.Ask
	}

	return b.Close
}

// SellQuote returns the price a seller crosses the spread at: the bid when a
// quote is present, otherwise the close.
func (b MarketBar) SellQuote() float64 {
	if b.Bid > 0 {
		return b.Bid
	}

	return b.Close
}

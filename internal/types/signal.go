package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
)

type SignalAction string

type OrderType string

type Urgency string

const (
	// SignalActionBuy opens or adds to a position
	SignalActionBuy SignalAction = "BUY"
	// SignalActionSell reduces or reverses a position
	SignalActionSell SignalAction = "SELL"
	// SignalActionClose closes the full position in the signal's symbol
	SignalActionClose SignalAction = "CLOSE"
	// SignalActionCloseAll closes every open position in the portfolio
	SignalActionCloseAll SignalAction = "CLOSE_ALL"
)

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

const (
	SignalReasonStrategy   string = "strategy"
	SignalReasonStopLoss   string = "stop_loss"
	SignalReasonTakeProfit string = "take_profit"
	SignalReasonEndOfRun   string = "end_of_run"
)

// SignalMeta is the closed, versioned metadata attached to a signal. The
// schema version lets a strategy family evolve the meaning of its tags
// without turning the field back into an open-ended dictionary.
type SignalMeta struct {
	SchemaVersion int      `yaml:"schema_version" json:"schema_version"`
	StrategyName  string   `yaml:"strategy_name" json:"strategy_name"`
	Reason        string   `yaml:"reason" json:"reason"`
	Tags          []string `yaml:"tags" json:"tags"`
}

// Signal is a strategy's trading instruction for one tick. It is created by
// the strategy callback and consumed immediately by the execution pricer;
// signals are never persisted.
type Signal struct {
	Time   time.Time    `yaml:"time" json:"time"`
	Action SignalAction `yaml:"action" json:"action" validate:"required,oneof=BUY SELL CLOSE CLOSE_ALL"`
	Symbol string       `yaml:"symbol" json:"symbol" validate:"required"`
	// Quantity is the requested size. None means "as much as the portfolio
	// allows" for BUY, or "the whole position" for SELL/CLOSE.
	Quantity  optional.Option[float64] `yaml:"quantity" json:"quantity"`
	OrderType OrderType                `yaml:"order_type" json:"order_type" validate:"required,oneof=MARKET LIMIT"`
	// LimitPrice is required for LIMIT orders. The simulation always fills
	// at the slippage-adjusted quote; a LIMIT order only selects the maker
	// fee rate, so the limit price is carried for the record, not enforced.
	LimitPrice optional.Option[float64] `yaml:"limit_price" json:"limit_price"`
	StopLoss   optional.Option[float64] `yaml:"stop_loss" json:"stop_loss"`
	TakeProfit optional.Option[float64] `yaml:"take_profit" json:"take_profit"`
	Urgency    Urgency                  `yaml:"urgency" json:"urgency"`
	Meta       SignalMeta               `yaml:"meta" json:"meta"`
}

// Validate validates the Signal struct.
func (s *Signal) Validate() error {
	validate := validator.New()
	if err := validate.Struct(s); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidSignal, "invalid signal", err)
	}

	if s.Quantity.IsSome() && s.Quantity.Unwrap() <= 0 {
		return errors.Newf(errors.ErrCodeInvalidQuantity, "signal quantity must be positive, got %f", s.Quantity.Unwrap())
	}

	if s.OrderType == OrderTypeLimit && s.LimitPrice.IsNone() {
		return errors.New(errors.ErrCodeInvalidPrice, "limit order requires a limit price")
	}

	return nil
}

package engine

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/fee"
	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/slippage"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/internal/utils"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
)

// Fill is the priced outcome of a signal against one bar. Quantity is
// always positive; Side carries the direction.
type Fill struct {
	Symbol   string
	Time     time.Time
	Side     types.SignalAction
	Price    float64
	Quantity float64
	// Fee is the total order fee in cash terms.
	Fee float64
	// Slippage is the cash cost of the price adjustment relative to the
	// unslipped quote.
	Slippage float64
}

// Notional returns the cash value of the fill before fees.
func (f Fill) Notional() float64 {
	return f.Price * f.Quantity
}

// ExecutionPricer turns signals into fills: slippage-adjusted price, fee,
// and a cash-constrained quantity. It holds no portfolio state and is safe
// for concurrent use.
type ExecutionPricer struct {
	slippageModel    slippage.Model
	feeModel         fee.Model
	decimalPrecision int
}

func NewExecutionPricer(slippageConfig slippage.Config, feeConfig fee.Config, decimalPrecision int) (*ExecutionPricer, error) {
	slippageModel, err := slippage.New(slippageConfig)
	if err != nil {
		return nil, err
	}

	feeModel, err := fee.New(feeConfig)
	if err != nil {
		return nil, err
	}

	if decimalPrecision <= 0 {
		decimalPrecision = 4
	}

	return &ExecutionPricer{
		slippageModel:    slippageModel,
		feeModel:         feeModel,
		decimalPrecision: decimalPrecision,
	}, nil
}

// Price computes the fill for a BUY, SELL or CLOSE signal. CLOSE_ALL must be
// expanded into per-symbol CLOSE signals by the driver before reaching here.
//
// A BUY whose affordable quantity rounds below the minimum position size
// returns an ErrCodeInsufficientCapital error so the caller can report the
// rejection instead of silently dropping it.
func (p *ExecutionPricer) Price(signal types.Signal, bar types.MarketBar, position optional.Option[types.Position], cash float64) (Fill, error) {
	switch signal.Action {
	case types.SignalActionBuy:
		return p.priceBuy(signal, bar, cash)
	case types.SignalActionSell, types.SignalActionClose:
		return p.priceSell(signal, bar, position)
	default:
		return Fill{}, errors.Newf(errors.ErrCodeInvalidSignal, "cannot price %s signal for %s", signal.Action, signal.Symbol)
	}
}

func (p *ExecutionPricer) priceBuy(signal types.Signal, bar types.MarketBar, cash float64) (Fill, error) {
	quote := bar.BuyQuote()
	if quote <= 0 {
		return Fill{}, errors.Newf(errors.ErrCodeInvalidPrice, "no positive buy quote for %s at %s", bar.Symbol, bar.Time.Format(time.RFC3339))
	}

	feeFor := func(notional float64) float64 {
		return p.feeModel.Fee(notional, signal.OrderType)
	}

	// Slippage is sized on the requested quantity. When the signal leaves
	// the quantity open, size it on the maximum the cash allows at the raw
	// quote.
	requested := signal.Quantity.TakeOr(utils.CalculateMaxQuantity(cash, quote, p.decimalPrecision, feeFor))
	if requested <= 0 {
		return Fill{}, errors.Newf(errors.ErrCodeInsufficientCapital,
			"buy %s rejected: cash %.4f affords no quantity at %.4f", signal.Symbol, cash, quote)
	}

	slip := p.slippageModel.Slippage(requested)
	fillPrice := quote * (1 + slip)

	quantity := utils.RoundToDecimalPrecision(requested, p.decimalPrecision)

	cost := fillPrice*quantity + feeFor(fillPrice*quantity)
	if cost > cash {
		quantity = utils.CalculateMaxQuantity(cash, fillPrice, p.decimalPrecision, feeFor)
	}

	if quantity < types.MinPositionQuantity {
		return Fill{}, errors.Newf(errors.ErrCodeInsufficientCapital,
			"buy %s rejected: affordable quantity %.6f below minimum %.4f", signal.Symbol, quantity, types.MinPositionQuantity)
	}

	return Fill{
		Symbol:   signal.Symbol,
		Time:     bar.Time,
		Side:     types.SignalActionBuy,
		Price:    fillPrice,
		Quantity: quantity,
		Fee:      feeFor(fillPrice * quantity),
		Slippage: (fillPrice - quote) * quantity,
	}, nil
}

func (p *ExecutionPricer) priceSell(signal types.Signal, bar types.MarketBar, position optional.Option[types.Position]) (Fill, error) {
	if position.IsNone() || !position.Unwrap().Exists() {
		return Fill{}, errors.Newf(errors.ErrCodeNoPositionToClose, "no open position in %s to %s", signal.Symbol, signal.Action)
	}

	quote := bar.SellQuote()
	if quote <= 0 {
		return Fill{}, errors.Newf(errors.ErrCodeInvalidPrice, "no positive sell quote for %s at %s", bar.Symbol, bar.Time.Format(time.RFC3339))
	}

	held := position.Unwrap().Quantity
	quantity := signal.Quantity.TakeOr(held)
	if quantity > held {
		quantity = held
	}

	quantity = utils.RoundToDecimalPrecision(quantity, p.decimalPrecision)
	if quantity < types.MinPositionQuantity {
		return Fill{}, errors.Newf(errors.ErrCodeInvalidQuantity,
			"sell %s rejected: quantity %.6f below minimum %.4f", signal.Symbol, quantity, types.MinPositionQuantity)
	}

	slip := p.slippageModel.Slippage(quantity)
	fillPrice := quote * (1 - slip)
	notional := fillPrice * quantity

	return Fill{
		Symbol:   signal.Symbol,
		Time:     bar.Time,
		Side:     types.SignalActionSell,
		Price:    fillPrice,
		Quantity: quantity,
		Fee:      p.feeModel.Fee(notional, signal.OrderType),
		Slippage: (quote - fillPrice) * quantity,
	}, nil
}

package fee

import (
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
)

// Model calculates the fee for a fill of the given notional value. The order
// type selects the taker rate (MARKET) or maker rate (LIMIT).
type Model interface {
	Fee(notional float64, orderType types.OrderType) float64
	Name() ModelName
}

type ModelName string

const (
	ModelTakerMaker ModelName = "taker_maker"
	ModelZero       ModelName = "zero"
)

// Config parameterizes the fee model for a run.
type Config struct {
	Model ModelName `yaml:"model" json:"model" jsonschema:"title=Fee Model"`
	// TakerRate is the fractional fee for market orders (0.001 = 10 bps).
	TakerRate float64 `yaml:"taker_rate" json:"taker_rate" jsonschema:"title=Taker Rate,minimum=0"`
	// MakerRate is the fractional fee for limit orders.
	MakerRate float64 `yaml:"maker_rate" json:"maker_rate" jsonschema:"title=Maker Rate,minimum=0"`
	// FixedFee is charged once per fill on top of the rate.
	FixedFee float64 `yaml:"fixed_fee" json:"fixed_fee" jsonschema:"title=Fixed Fee,minimum=0"`
}

// New builds the fee model selected by the config. An empty model name
// defaults to taker/maker.
func New(config Config) (Model, error) {
	switch config.Model {
	case ModelZero:
		return NewZeroFee(), nil
	case ModelTakerMaker, "":
		return NewTakerMakerFee(config.TakerRate, config.MakerRate, config.FixedFee), nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidFeeModel, "unknown fee model: %s", config.Model)
	}
}

// TakerMakerFee charges notional times the taker or maker rate plus a fixed
// per-fill fee.
type TakerMakerFee struct {
	takerRate float64
	makerRate float64
	fixedFee  float64
}

func NewTakerMakerFee(takerRate, makerRate, fixedFee float64) Model {
	return &TakerMakerFee{
		takerRate: takerRate,
		makerRate: makerRate,
		fixedFee:  fixedFee,
	}
}

func (f *TakerMakerFee) Fee(notional float64, orderType types.OrderType) float64 {
	rate := f.takerRate
	if orderType == types.OrderTypeLimit {
		rate = f.makerRate
	}

	return notional*rate + f.fixedFee
}

func (f *TakerMakerFee) Name() ModelName {
	return ModelTakerMaker
}

// ZeroFee charges nothing. Useful for isolating slippage effects in tests.
type ZeroFee struct{}

func NewZeroFee() Model {
	return &ZeroFee{}
}

func (f *ZeroFee) Fee(notional float64, orderType types.OrderType) float64 {
	return 0.0
}

func (f *ZeroFee) Name() ModelName {
	return ModelZero
}

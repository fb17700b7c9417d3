package slippage

import (
	"math"

	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
)

// Model computes the fractional slippage applied to a fill of the given
// quantity. The returned value is a fraction (10 bps = 0.001), applied
// upward for buys and downward for sells.
type Model interface {
	Slippage(quantity float64) float64
	Name() ModelName
}

type ModelName string

const (
	ModelFixed        ModelName = "fixed"
	ModelLinear       ModelName = "linear"
	ModelSquareRoot   ModelName = "square_root"
	ModelMarketImpact ModelName = "market_impact"
)

var AllModels = []any{
	ModelFixed,
	ModelLinear,
	ModelSquareRoot,
	ModelMarketImpact,
}

// Config selects and parameterizes a slippage model for a run.
type Config struct {
	Model ModelName `yaml:"model" json:"model" jsonschema:"title=Slippage Model,description=Which slippage curve to apply to fills"`
	// BaseBps is the size-independent slippage floor in basis points.
	BaseBps float64 `yaml:"base_bps" json:"base_bps" jsonschema:"title=Base Slippage,description=Size-independent slippage in basis points,minimum=0"`
	// ImpactCoefficient scales the size-dependent term for the linear and
	// square_root models.
	ImpactCoefficient float64 `yaml:"impact_coefficient" json:"impact_coefficient" jsonschema:"title=Impact Coefficient,minimum=0"`
	// LiquidityFactor dampens the impact term for the market_impact model.
	// 1.0 means no dampening; higher values model deeper books.
	LiquidityFactor float64 `yaml:"liquidity_factor" json:"liquidity_factor" jsonschema:"title=Liquidity Factor,minimum=0"`
}

// New builds the slippage model selected by the config.
func New(config Config) (Model, error) {
	switch config.Model {
	case ModelFixed:
		return &FixedSlippage{baseBps: config.BaseBps}, nil
	case ModelLinear:
		return &LinearSlippage{baseBps: config.BaseBps, impactCoeff: config.ImpactCoefficient}, nil
	case ModelSquareRoot:
		return &SquareRootSlippage{baseBps: config.BaseBps, impactCoeff: config.ImpactCoefficient}, nil
	case ModelMarketImpact:
		liquidity := config.LiquidityFactor
		if liquidity <= 0 {
			liquidity = 1.0
		}

		return &MarketImpactSlippage{baseBps: config.BaseBps, impactCoeff: config.ImpactCoefficient, liquidityFactor: liquidity}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidSlippageModel, "unknown slippage model: %s", config.Model)
	}
}

// FixedSlippage applies a constant fraction regardless of order size.
type FixedSlippage struct {
	baseBps float64
}

func (s *FixedSlippage) Slippage(quantity float64) float64 {
	return s.baseBps / 10000
}

func (s *FixedSlippage) Name() ModelName {
	return ModelFixed
}

// LinearSlippage grows linearly with order size.
type LinearSlippage struct {
	baseBps     float64
	impactCoeff float64
}

func (s *LinearSlippage) Slippage(quantity float64) float64 {
	return (s.baseBps + s.impactCoeff*quantity) / 10000
}

func (s *LinearSlippage) Name() ModelName {
	return ModelLinear
}

// SquareRootSlippage grows with the square root of order size, the usual
// empirical market-impact shape.
type SquareRootSlippage struct {
	baseBps     float64
	impactCoeff float64
}

func (s *SquareRootSlippage) Slippage(quantity float64) float64 {
	return (s.baseBps + s.impactCoeff*math.Sqrt(quantity)) / 10000
}

func (s *SquareRootSlippage) Name() ModelName {
	return ModelSquareRoot
}

// MarketImpactSlippage is the square-root curve dampened by a liquidity
// factor. Used by streaming runs where per-symbol liquidity differs.
type MarketImpactSlippage struct {
	baseBps         float64
	impactCoeff     float64
	liquidityFactor float64
}

func (s *MarketImpactSlippage) Slippage(quantity float64) float64 {
	return (s.baseBps + s.impactCoeff*math.Sqrt(quantity)/s.liquidityFactor) / 10000
}

func (s *MarketImpactSlippage) Name() ModelName {
	return ModelMarketImpact
}

package slippage

import (
	"math"
	"testing"

	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type SlippageTestSuite struct {
	suite.Suite
}

func TestSlippageSuite(t *testing.T) {
	suite.Run(t, new(SlippageTestSuite))
}

func (suite *SlippageTestSuite) TestFixed() {
	model, err := New(Config{Model: ModelFixed, BaseBps: 10})
	suite.Require().NoError(err)
	suite.Equal(ModelFixed, model.Name())

	// 10 bps regardless of size
	suite.InDelta(0.001, model.Slippage(1), 1e-12)
	suite.InDelta(0.001, model.Slippage(1e6), 1e-12)
}

func (suite *SlippageTestSuite) TestLinear() {
	model, err := New(Config{Model: ModelLinear, BaseBps: 5, ImpactCoefficient: 0.1})
	suite.Require().NoError(err)

	suite.InDelta((5+0.1*100)/10000, model.Slippage(100), 1e-12)
	suite.Greater(model.Slippage(200), model.Slippage(100))
}

func (suite *SlippageTestSuite) TestSquareRoot() {
	model, err := New(Config{Model: ModelSquareRoot, BaseBps: 5, ImpactCoefficient: 0.1})
	suite.Require().NoError(err)

	suite.InDelta((5+0.1*math.Sqrt(400))/10000, model.Slippage(400), 1e-12)
}

func (suite *SlippageTestSuite) TestMarketImpact() {
	model, err := New(Config{
		Model:             ModelMarketImpact,
		BaseBps:           5,
		ImpactCoefficient: 0.1,
		LiquidityFactor:   2,
	})
	suite.Require().NoError(err)

	suite.InDelta((5+0.1*math.Sqrt(400)/2)/10000, model.Slippage(400), 1e-12)
}

func (suite *SlippageTestSuite) TestMarketImpactDefaultsLiquidity() {
	model, err := New(Config{Model: ModelMarketImpact, BaseBps: 5, ImpactCoefficient: 0.1})
	suite.Require().NoError(err)

	// Zero liquidity factor falls back to 1.0 instead of dividing by zero
	suite.InDelta((5+0.1*math.Sqrt(100))/10000, model.Slippage(100), 1e-12)
}

func (suite *SlippageTestSuite) TestUnknownModel() {
	_, err := New(Config{Model: "parabolic"})
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidSlippageModel))
}

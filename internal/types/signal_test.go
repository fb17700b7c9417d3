package types

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type SignalTestSuite struct {
	suite.Suite
}

func TestSignalSuite(t *testing.T) {
	suite.Run(t, new(SignalTestSuite))
}

func (suite *SignalTestSuite) validSignal() Signal {
	return Signal{
		Time:      time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		Action:    SignalActionBuy,
		Symbol:    "AAPL",
		Quantity:  optional.Some(10.0),
		OrderType: OrderTypeMarket,
		Urgency:   UrgencyNormal,
		Meta: SignalMeta{
			SchemaVersion: 1,
			StrategyName:  "test_strategy",
			Reason:        SignalReasonStrategy,
		},
	}
}

func (suite *SignalTestSuite) TestValidateValidSignal() {
	signal := suite.validSignal()
	suite.NoError(signal.Validate())
}

func (suite *SignalTestSuite) TestValidateMissingSymbol() {
	signal := suite.validSignal()
	signal.Symbol = ""

	err := signal.Validate()
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidSignal))
}

func (suite *SignalTestSuite) TestValidateBadAction() {
	signal := suite.validSignal()
	signal.Action = "HOLD"

	err := signal.Validate()
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidSignal))
}

func (suite *SignalTestSuite) TestValidateNegativeQuantity() {
	signal := suite.validSignal()
	signal.Quantity = optional.Some(-5.0)

	err := signal.Validate()
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidQuantity))
}

func (suite *SignalTestSuite) TestValidateLimitWithoutPrice() {
	signal := suite.validSignal()
	signal.OrderType = OrderTypeLimit
	signal.LimitPrice = optional.None[float64]()

	err := signal.Validate()
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidPrice))
}

func (suite *SignalTestSuite) TestValidateLimitWithPrice() {
	signal := suite.validSignal()
	signal.OrderType = OrderTypeLimit
	signal.LimitPrice = optional.Some(99.5)

	suite.NoError(signal.Validate())
}

func (suite *SignalTestSuite) TestValidateNoQuantityIsAllowed() {
	// None means "as much as the portfolio allows"
	signal := suite.validSignal()
	signal.Quantity = optional.None[float64]()

	suite.NoError(signal.Validate())
}

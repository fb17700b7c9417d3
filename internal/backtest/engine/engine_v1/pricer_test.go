package engine

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/fee"
	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/slippage"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
)

type PricerTestSuite struct {
	suite.Suite
	pricer *ExecutionPricer
}

func TestPricerSuite(t *testing.T) {
	suite.Run(t, new(PricerTestSuite))
}

func (suite *PricerTestSuite) SetupTest() {
	pricer, err := NewExecutionPricer(
		slippage.Config{Model: slippage.ModelFixed, BaseBps: 10},
		fee.Config{Model: fee.ModelTakerMaker, TakerRate: 0.001, MakerRate: 0.0005},
		4,
	)
	suite.Require().NoError(err)
	suite.pricer = pricer
}

func (suite *PricerTestSuite) bar(close float64) types.MarketBar {
	return types.MarketBar{
		Symbol: "AAPL",
		Time:   time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC),
		Open:   close,
		High:   close,
		Low:    close,
		Close:  close,
		Volume: 1000,
	}
}

func (suite *PricerTestSuite) TestBuyFixedSlippage() {
	signal := types.Signal{
		Action:    types.SignalActionBuy,
		Symbol:    "AAPL",
		Quantity:  optional.Some(10.0),
		OrderType: types.OrderTypeMarket,
	}

	fill, err := suite.pricer.Price(signal, suite.bar(100), optional.None[types.Position](), 10000)
	suite.Require().NoError(err)

	suite.InDelta(100.1, fill.Price, 1e-9)
	suite.InDelta(10.0, fill.Quantity, 1e-9)
	suite.InDelta(1.001, fill.Fee, 1e-9)
	suite.InDelta(1.0, fill.Slippage, 1e-9)
	suite.Equal(types.SignalActionBuy, fill.Side)
}

func (suite *PricerTestSuite) TestBuyUsesAskQuote() {
	bar := suite.bar(100)
	bar.Bid = 99.9
	bar.Ask = 100.2

	signal := types.Signal{
		Action:    types.SignalActionBuy,
		Symbol:    "AAPL",
		Quantity:  optional.Some(1.0),
		OrderType: types.OrderTypeMarket,
	}

	fill, err := suite.pricer.Price(signal, bar, optional.None[types.Position](), 10000)
	suite.Require().NoError(err)
	suite.InDelta(100.2*1.001, fill.Price, 1e-9)
}

func (suite *PricerTestSuite) TestBuyClipsToCash() {
	signal := types.Signal{
		Action:    types.SignalActionBuy,
		Symbol:    "AAPL",
		Quantity:  optional.Some(1000.0),
		OrderType: types.OrderTypeMarket,
	}

	fill, err := suite.pricer.Price(signal, suite.bar(100), optional.None[types.Position](), 1000)
	suite.Require().NoError(err)

	suite.Less(fill.Quantity, 1000.0)
	suite.LessOrEqual(fill.Notional()+fill.Fee, 1000.0+1e-9)
	// quantity floors at 4 decimals
	suite.InDelta(fill.Quantity, float64(int64(fill.Quantity*1e4))/1e4, 1e-12)
}

func (suite *PricerTestSuite) TestBuyOpenQuantityFillsMaxAffordable() {
	signal := types.Signal{
		Action:    types.SignalActionBuy,
		Symbol:    "AAPL",
		OrderType: types.OrderTypeMarket,
	}

	fill, err := suite.pricer.Price(signal, suite.bar(100), optional.None[types.Position](), 10000)
	suite.Require().NoError(err)

	suite.Greater(fill.Quantity, 0.0)
	suite.LessOrEqual(fill.Notional()+fill.Fee, 10000.0+1e-9)
}

func (suite *PricerTestSuite) TestBuyRejectedWhenBroke() {
	signal := types.Signal{
		Action:    types.SignalActionBuy,
		Symbol:    "AAPL",
		Quantity:  optional.Some(10.0),
		OrderType: types.OrderTypeMarket,
	}

	_, err := suite.pricer.Price(signal, suite.bar(100), optional.None[types.Position](), 0.005)
	suite.Require().Error(err)
	suite.True(errors.IsRejection(err))
}

func (suite *PricerTestSuite) TestSellAppliesSlippageDownward() {
	position := types.Position{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100.1}
	signal := types.Signal{
		Action:    types.SignalActionClose,
		Symbol:    "AAPL",
		OrderType: types.OrderTypeMarket,
	}

	fill, err := suite.pricer.Price(signal, suite.bar(110), optional.Some(position), 0)
	suite.Require().NoError(err)

	suite.InDelta(110*0.999, fill.Price, 1e-9)
	suite.InDelta(10.0, fill.Quantity, 1e-9)
	suite.InDelta(110*0.999*10*0.001, fill.Fee, 1e-9)
	suite.InDelta(110*0.001*10, fill.Slippage, 1e-9)
}

func (suite *PricerTestSuite) TestSellCapsAtPosition() {
	position := types.Position{Symbol: "AAPL", Quantity: 5, AvgEntryPrice: 100}
	signal := types.Signal{
		Action:    types.SignalActionSell,
		Symbol:    "AAPL",
		Quantity:  optional.Some(50.0),
		OrderType: types.OrderTypeMarket,
	}

	fill, err := suite.pricer.Price(signal, suite.bar(100), optional.Some(position), 0)
	suite.Require().NoError(err)
	suite.InDelta(5.0, fill.Quantity, 1e-9)
}

func (suite *PricerTestSuite) TestSellWithoutPosition() {
	signal := types.Signal{
		Action:    types.SignalActionSell,
		Symbol:    "AAPL",
		OrderType: types.OrderTypeMarket,
	}

	_, err := suite.pricer.Price(signal, suite.bar(100), optional.None[types.Position](), 10000)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeNoPositionToClose))
}

func (suite *PricerTestSuite) TestLimitOrderUsesMakerRate() {
	signal := types.Signal{
		Action:     types.SignalActionBuy,
		Symbol:     "AAPL",
		Quantity:   optional.Some(10.0),
		OrderType:  types.OrderTypeLimit,
		LimitPrice: optional.Some(100.0),
	}

	fill, err := suite.pricer.Price(signal, suite.bar(100), optional.None[types.Position](), 10000)
	suite.Require().NoError(err)
	suite.InDelta(10*100.1*0.0005, fill.Fee, 1e-9)
}

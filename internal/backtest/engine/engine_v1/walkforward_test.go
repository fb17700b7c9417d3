package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-portfolio/internal/strategy"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
)

type WalkForwardTestSuite struct {
	suite.Suite
	start time.Time
}

func TestWalkForwardSuite(t *testing.T) {
	suite.Run(t, new(WalkForwardTestSuite))
}

func (suite *WalkForwardTestSuite) SetupTest() {
	suite.start = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
}

// dailyBars produces one bar per day with a linearly rising close.
func (suite *WalkForwardTestSuite) dailyBars(symbol string, days int) []types.MarketBar {
	bars := make([]types.MarketBar, 0, days)
	for i := 0; i < days; i++ {
		close := 100.0 + float64(i)
		bars = append(bars, types.MarketBar{
			Symbol: symbol,
			Time:   suite.start.Add(time.Duration(i) * 24 * time.Hour),
			Open:   close,
			High:   close,
			Low:    close,
			Close:  close,
			Volume: 1000,
		})
	}

	return bars
}

// roundTripFactory returns a fresh strategy per fold that buys one unit on
// its first bar and closes on its fifth, recording the training windows it
// was handed.
func (suite *WalkForwardTestSuite) roundTripFactory(trainWindows *[][2]time.Time) StrategyFactory {
	return func(trainStart, trainEnd time.Time) (strategy.Strategy, error) {
		*trainWindows = append(*trainWindows, [2]time.Time{trainStart, trainEnd})

		return &scriptedStrategy{script: func(call int, bar types.MarketBar, _ strategy.PortfolioView) (optional.Option[types.Signal], error) {
			switch call {
			case 1:
				return optional.Some(types.Signal{
					Time:      bar.Time,
					Action:    types.SignalActionBuy,
					Symbol:    bar.Symbol,
					Quantity:  optional.Some(1.0),
					OrderType: types.OrderTypeMarket,
				}), nil
			case 5:
				return optional.Some(types.Signal{
					Time:      bar.Time,
					Action:    types.SignalActionClose,
					Symbol:    bar.Symbol,
					OrderType: types.OrderTypeMarket,
				}), nil
			}

			return optional.None[types.Signal](), nil
		}}, nil
	}
}

func (suite *WalkForwardTestSuite) TestRollingFoldsAggregate() {
	config := TestConfig("AAPL", 10000)
	config.CloseOnFinish = false

	source := datasource.NewMemorySource(suite.dailyBars("AAPL", 40))

	wf := WalkForwardConfig{
		TrainPeriod: 10 * 24 * time.Hour,
		TestPeriod:  10 * 24 * time.Hour,
	}

	var trainWindows [][2]time.Time

	result, err := RunWalkForward(context.Background(), config, wf, source, suite.roundTripFactory(&trainWindows))
	suite.Require().NoError(err)
	suite.Require().Len(result.Windows, 2)

	day := 24 * time.Hour

	// step defaults to the test period, so folds tile the range
	suite.Equal([][2]time.Time{
		{suite.start, suite.start.Add(10 * day)},
		{suite.start.Add(10 * day), suite.start.Add(20 * day)},
	}, trainWindows)

	for i, window := range result.Windows {
		suite.Equal(trainWindows[i][0], window.TrainStart)
		suite.Equal(trainWindows[i][1], window.TrainEnd)
		suite.Equal(window.TrainEnd, window.TestStart)
		suite.Equal(window.TestStart.Add(10*day), window.TestEnd)

		suite.Require().NotNil(window.Result)

		// half-open test window: exactly ten daily bars per fold
		suite.Len(window.Result.EquityCurve, 10)
		suite.Len(window.Result.Trades, 1)
		suite.Greater(window.Result.Trades[0].RealizedPnL, 0.0)
	}

	first := result.Windows[0].Result.Metrics
	second := result.Windows[1].Result.Metrics

	suite.InDelta((first.TotalReturn+second.TotalReturn)/2, result.AvgReturn, 1e-12)
	suite.InDelta((first.SharpeRatio+second.SharpeRatio)/2, result.AvgSharpe, 1e-12)
	suite.InDelta((first.WinRate+second.WinRate)/2, result.AvgWinRate, 1e-12)
	suite.InDelta(math.Abs(first.SharpeRatio-second.SharpeRatio)/2, result.Consistency, 1e-12)
}

func (suite *WalkForwardTestSuite) TestFoldsDoNotSharePortfolioState() {
	config := TestConfig("AAPL", 10000)
	config.CloseOnFinish = false

	source := datasource.NewMemorySource(suite.dailyBars("AAPL", 40))

	wf := WalkForwardConfig{
		TrainPeriod: 10 * 24 * time.Hour,
		TestPeriod:  10 * 24 * time.Hour,
	}

	var trainWindows [][2]time.Time

	result, err := RunWalkForward(context.Background(), config, wf, source, suite.roundTripFactory(&trainWindows))
	suite.Require().NoError(err)

	// every fold starts from the configured capital, not the prior fold's
	// final equity
	for _, window := range result.Windows {
		suite.InDelta(10000.0, window.Result.EquityCurve[0].Equity, 1e-9)
	}
}

func (suite *WalkForwardTestSuite) TestRangeShorterThanOneFoldFails() {
	config := TestConfig("AAPL", 10000)

	source := datasource.NewMemorySource(suite.dailyBars("AAPL", 5))

	wf := WalkForwardConfig{
		TrainPeriod: 10 * 24 * time.Hour,
		TestPeriod:  10 * 24 * time.Hour,
	}

	var trainWindows [][2]time.Time

	result, err := RunWalkForward(context.Background(), config, wf, source, suite.roundTripFactory(&trainWindows))
	suite.Require().Error(err)
	suite.Nil(result)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidDateRange))
	suite.Empty(trainWindows)
}

func (suite *WalkForwardTestSuite) TestConfigValidation() {
	suite.Error(WalkForwardConfig{TestPeriod: time.Hour}.Validate())
	suite.Error(WalkForwardConfig{TrainPeriod: time.Hour}.Validate())
	suite.Error(WalkForwardConfig{TrainPeriod: time.Hour, TestPeriod: time.Hour, Step: -time.Hour}.Validate())
	suite.NoError(WalkForwardConfig{TrainPeriod: time.Hour, TestPeriod: time.Hour}.Validate())
}

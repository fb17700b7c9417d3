package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	backtest "github.com/rxtech-lab/argo-portfolio/internal/backtest/engine"
	engine_v1 "github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1"
	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-portfolio/internal/strategy"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
)

const streamTestConfig = `
initial_capital: 10000
symbols: [AAPL, MSFT]
slippage:
  model: fixed
  base_bps: 10
fees:
  model: taker_maker
  taker_rate: 0.001
  maker_rate: 0.0005
chunk_size: 16
parallel_workers: 4
output_buffer_size: 8
`

type StreamEngineTestSuite struct {
	suite.Suite
	start time.Time
}

func TestStreamEngineSuite(t *testing.T) {
	suite.Run(t, new(StreamEngineTestSuite))
}

func (suite *StreamEngineTestSuite) SetupTest() {
	suite.start = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
}

func (suite *StreamEngineTestSuite) syntheticSource() datasource.BarSource {
	return datasource.NewSyntheticSource(datasource.SyntheticConfig{
		Symbols:    []string{"AAPL", "MSFT"},
		Start:      suite.start,
		Bars:       300,
		Interval:   time.Hour,
		StartPrice: 100,
		Drift:      0.0002,
		Volatility: 0.01,
		Seed:       11,
	})
}

func (suite *StreamEngineTestSuite) smaStrategy() strategy.Strategy {
	strat := strategy.NewSMACrossStrategy()
	suite.Require().NoError(strat.Initialize("fast_period: 5\nslow_period: 20\n"))

	return strat
}

func (suite *StreamEngineTestSuite) newStreamEngine() backtest.Engine {
	engine := NewBacktestEngineV2()
	suite.Require().NoError(engine.Initialize(streamTestConfig))
	suite.Require().NoError(engine.SetBarSource(suite.syntheticSource()))
	suite.Require().NoError(engine.LoadStrategy(suite.smaStrategy()))

	return engine
}

// The streaming driver must be a faster shape of the same computation: over
// identical data and strategy it produces the same trades, equity curve and
// metrics as the synchronous driver.
func (suite *StreamEngineTestSuite) TestParityWithSynchronousDriver() {
	syncEngine := engine_v1.NewBacktestEngineV1()
	suite.Require().NoError(syncEngine.Initialize(streamTestConfig))
	suite.Require().NoError(syncEngine.SetBarSource(suite.syntheticSource()))
	suite.Require().NoError(syncEngine.LoadStrategy(suite.smaStrategy()))

	syncResult, err := syncEngine.Run(context.Background(), backtest.LifecycleCallbacks{})
	suite.Require().NoError(err)

	streamResult, err := suite.newStreamEngine().Run(context.Background(), backtest.LifecycleCallbacks{})
	suite.Require().NoError(err)

	suite.Equal(syncResult.Metrics, streamResult.Metrics)
	suite.Equal(syncResult.Risk, streamResult.Risk)
	suite.Equal(syncResult.RejectedSignals, streamResult.RejectedSignals)
	suite.Require().Equal(len(syncResult.Trades), len(streamResult.Trades))

	for i, trade := range syncResult.Trades {
		suite.Equal(trade.Symbol, streamResult.Trades[i].Symbol)
		suite.InDelta(trade.RealizedPnL, streamResult.Trades[i].RealizedPnL, 1e-9)
	}

	suite.Require().Equal(len(syncResult.EquityCurve), len(streamResult.EquityCurve))

	for i, point := range syncResult.EquityCurve {
		suite.True(point.Time.Equal(streamResult.EquityCurve[i].Time))
		suite.InDelta(point.Equity, streamResult.EquityCurve[i].Equity, 1e-9)
	}
}

func (suite *StreamEngineTestSuite) TestResultHandleResolvesOnce() {
	engine := NewBacktestEngineV2()
	suite.Require().NoError(engine.Initialize(streamTestConfig))
	suite.Require().NoError(engine.SetBarSource(suite.syntheticSource()))
	suite.Require().NoError(engine.LoadStrategy(suite.smaStrategy()))

	handle, err := engine.Start(context.Background(), backtest.LifecycleCallbacks{})
	suite.Require().NoError(err)
	suite.NotEmpty(handle.RunID())

	first, err := handle.Result()
	suite.Require().NoError(err)

	// Result is a future: repeated calls return the resolved value
	second, err := handle.Result()
	suite.Require().NoError(err)
	suite.Same(first, second)
}

func (suite *StreamEngineTestSuite) TestStartTwiceFails() {
	engine := NewBacktestEngineV2()
	suite.Require().NoError(engine.Initialize(streamTestConfig))
	suite.Require().NoError(engine.SetBarSource(suite.syntheticSource()))
	suite.Require().NoError(engine.LoadStrategy(suite.smaStrategy()))

	handle, err := engine.Start(context.Background(), backtest.LifecycleCallbacks{})
	suite.Require().NoError(err)

	_, err = engine.Start(context.Background(), backtest.LifecycleCallbacks{})
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeRunAlreadyStarted))

	_, err = handle.Result()
	suite.Require().NoError(err)
}

func (suite *StreamEngineTestSuite) TestCancellation() {
	engine := suite.newStreamEngine()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Run(ctx, backtest.LifecycleCallbacks{})
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeRunCancelled))
	suite.NotNil(result)
}

func (suite *StreamEngineTestSuite) TestUnknownSymbolFailsRun() {
	engine := NewBacktestEngineV2()
	suite.Require().NoError(engine.Initialize(streamTestConfig))
	suite.Require().NoError(engine.SetBarSource(datasource.NewSyntheticSource(datasource.SyntheticConfig{
		Symbols:    []string{"AAPL"},
		Start:      suite.start,
		Bars:       10,
		Interval:   time.Hour,
		StartPrice: 100,
		Volatility: 0.01,
		Seed:       1,
	})))
	suite.Require().NoError(engine.LoadStrategy(suite.smaStrategy()))

	// config names MSFT but the source only carries AAPL
	_, err := engine.Run(context.Background(), backtest.LifecycleCallbacks{})
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeSymbolNotFound))
}

func (suite *StreamEngineTestSuite) TestCallbacksObserveStreamedOutput() {
	engine := suite.newStreamEngine()

	var (
		trades    int
		equityPts int
		started   bool
		ended     bool
	)

	onStart := backtest.OnRunStartCallback(func(runID string, symbols []string, totalBars int) error {
		started = true

		suite.NotEmpty(runID)
		suite.Equal([]string{"AAPL", "MSFT"}, symbols)
		suite.Positive(totalBars)

		return nil
	})
	onEnd := backtest.OnRunEndCallback(func(string, error) {
		ended = true
	})
	onTrade := backtest.OnTradeCallback(func(types.Trade) {
		trades++
	})
	onEquity := backtest.OnEquityCallback(func(types.EquityPoint) {
		equityPts++
	})

	result, err := engine.Run(context.Background(), backtest.LifecycleCallbacks{
		OnRunStart: &onStart,
		OnRunEnd:   &onEnd,
		OnTrade:    &onTrade,
		OnEquity:   &onEquity,
	})
	suite.Require().NoError(err)

	suite.True(started)
	suite.True(ended)
	suite.Equal(len(result.EquityCurve), equityPts)
	suite.NotEmpty(result.EquityCurve)

	closed := 0

	for _, trade := range result.Trades {
		if !trade.IsOpen {
			closed++
		}
	}

	suite.Equal(closed, trades)
}

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type DrawdownTestSuite struct {
	suite.Suite
	tracker *DrawdownTracker
	now     time.Time
}

func TestDrawdownSuite(t *testing.T) {
	suite.Run(t, new(DrawdownTestSuite))
}

func (suite *DrawdownTestSuite) SetupTest() {
	suite.tracker = NewDrawdownTracker(10000)
	suite.now = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
}

func (suite *DrawdownTestSuite) observe(equities ...float64) []float64 {
	drawdowns := make([]float64, 0, len(equities))
	for _, equity := range equities {
		drawdowns = append(drawdowns, suite.tracker.Observe(suite.now, equity))
		suite.now = suite.now.Add(24 * time.Hour)
	}

	return drawdowns
}

func (suite *DrawdownTestSuite) TestNoDrawdownWhileRising() {
	drawdowns := suite.observe(10000, 10500, 11000)

	for _, drawdown := range drawdowns {
		suite.Zero(drawdown)
	}

	suite.Empty(suite.tracker.Periods())
	suite.InDelta(11000.0, suite.tracker.HighWaterMark(), 1e-9)
}

func (suite *DrawdownTestSuite) TestEpisodeOpensAndCloses() {
	suite.observe(10000, 11000, 9900, 9350, 11200)

	periods := suite.tracker.Periods()
	suite.Require().Len(periods, 1)

	period := periods[0]
	suite.False(period.IsOpen())
	suite.True(period.EndTime.IsSome())
	suite.True(period.RecoveryTime.IsSome())
	suite.InDelta((11000.0-9350.0)/11000.0, period.MaxDrawdown, 1e-9)
	suite.Equal(2*24*time.Hour, period.Duration)

	suite.Zero(suite.tracker.Current())
	suite.InDelta(11200.0, suite.tracker.HighWaterMark(), 1e-9)
}

func (suite *DrawdownTestSuite) TestOpenEpisodeReported() {
	suite.observe(10000, 9000)

	periods := suite.tracker.Periods()
	suite.Require().Len(periods, 1)
	suite.True(periods[0].IsOpen())
	suite.InDelta(0.1, suite.tracker.Current(), 1e-9)
	suite.InDelta(0.1, suite.tracker.MaxDrawdown(), 1e-9)
}

func (suite *DrawdownTestSuite) TestHighWaterMarkMonotone() {
	previous := 0.0
	for _, equity := range []float64{10000, 9000, 9500, 12000, 8000, 13000, 12500} {
		suite.tracker.Observe(suite.now, equity)
		suite.now = suite.now.Add(time.Hour)

		suite.GreaterOrEqual(suite.tracker.HighWaterMark(), previous)
		previous = suite.tracker.HighWaterMark()
	}
}

func (suite *DrawdownTestSuite) TestMaxDrawdownAcrossEpisodes() {
	suite.observe(10000, 9000, 10500, 10290, 11000)

	suite.Require().Len(suite.tracker.Periods(), 2)
	suite.InDelta(0.1, suite.tracker.MaxDrawdown(), 1e-9)
}

func (suite *DrawdownTestSuite) TestDrawdownBounded() {
	drawdowns := suite.observe(10000, 1, 5000, 0.5)

	for _, drawdown := range drawdowns {
		suite.GreaterOrEqual(drawdown, 0.0)
		suite.Less(drawdown, 1.0)
	}
}

package engine

import (
	"context"
	"math"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine"
	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-portfolio/internal/logger"
	"github.com/rxtech-lab/argo-portfolio/internal/strategy"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
	"go.uber.org/zap"
)

// WalkForwardConfig splits the configured date range into rolling
// train/test folds. Step defaults to TestPeriod, giving adjacent,
// non-overlapping test windows.
type WalkForwardConfig struct {
	TrainPeriod time.Duration `yaml:"train_period" json:"train_period" jsonschema:"title=Training Window"`
	TestPeriod  time.Duration `yaml:"test_period" json:"test_period" jsonschema:"title=Test Window"`
	Step        time.Duration `yaml:"step" json:"step" jsonschema:"title=Window Step"`
}

func (c WalkForwardConfig) Validate() error {
	if c.TrainPeriod <= 0 {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "train period must be positive, got %s", c.TrainPeriod)
	}

	if c.TestPeriod <= 0 {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "test period must be positive, got %s", c.TestPeriod)
	}

	if c.Step < 0 {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "step must not be negative, got %s", c.Step)
	}

	return nil
}

func (c WalkForwardConfig) step() time.Duration {
	if c.Step > 0 {
		return c.Step
	}

	return c.TestPeriod
}

// StrategyFactory builds one fold's strategy from its training window.
// Implementations typically fit parameters on bars inside
// [trainStart, trainEnd) and return a strategy ready to trade the test
// window.
type StrategyFactory func(trainStart, trainEnd time.Time) (strategy.Strategy, error)

// WalkForwardWindow is one fold's bounds and its out-of-sample result.
// Windows are half-open: a bar exactly on a boundary lands in exactly one
// fold.
type WalkForwardWindow struct {
	TrainStart time.Time `yaml:"train_start" json:"train_start"`
	TrainEnd   time.Time `yaml:"train_end" json:"train_end"`
	TestStart  time.Time `yaml:"test_start" json:"test_start"`
	TestEnd    time.Time `yaml:"test_end" json:"test_end"`

	Result *types.BacktestResult `yaml:"result" json:"result"`
}

// WalkForwardResult aggregates the per-fold out-of-sample metrics.
// Consistency is the population standard deviation of the per-fold Sharpe
// ratios; a strategy that only works in some regimes shows up as a high
// Consistency even when AvgSharpe looks good.
type WalkForwardResult struct {
	Windows []WalkForwardWindow `yaml:"windows" json:"windows"`

	AvgSharpe      float64 `yaml:"avg_sharpe" json:"avg_sharpe"`
	AvgReturn      float64 `yaml:"avg_return" json:"avg_return"`
	AvgMaxDrawdown float64 `yaml:"avg_max_drawdown" json:"avg_max_drawdown"`
	AvgWinRate     float64 `yaml:"avg_win_rate" json:"avg_win_rate"`
	Consistency    float64 `yaml:"consistency" json:"consistency"`
}

// RunWalkForward rolls train/test folds across the configured date range,
// builds a fresh strategy per fold from the factory, replays each test
// window on its own engine with its own portfolio, and aggregates the
// per-fold metrics. The range comes from the engine config's start and end
// times when set, otherwise from the source's metadata across the
// configured symbols.
func RunWalkForward(ctx context.Context, config BacktestEngineV1Config, wf WalkForwardConfig, source datasource.BarSource, factory StrategyFactory) (*WalkForwardResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := wf.Validate(); err != nil {
		return nil, err
	}

	if source == nil {
		return nil, errors.New(errors.ErrCodeDataSourceUnavailable, "no bar source set")
	}

	if factory == nil {
		return nil, errors.New(errors.ErrCodeStrategyNotLoaded, "no strategy factory provided")
	}

	log, err := logger.NewLogger()
	if err != nil {
		return nil, err
	}

	log = log.Named("walkforward")

	start, end, err := dateRange(config, source)
	if err != nil {
		return nil, err
	}

	if start.Add(wf.TrainPeriod + wf.TestPeriod).After(end) {
		return nil, errors.Newf(errors.ErrCodeInvalidDateRange,
			"date range %s to %s is shorter than one train+test fold", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	log.Info("walk-forward analysis starting",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Duration("train_period", wf.TrainPeriod),
		zap.Duration("test_period", wf.TestPeriod),
		zap.Duration("step", wf.step()),
	)

	var windows []WalkForwardWindow

	for windowStart := start; !windowStart.Add(wf.TrainPeriod + wf.TestPeriod).After(end); windowStart = windowStart.Add(wf.step()) {
		trainEnd := windowStart.Add(wf.TrainPeriod)
		testEnd := trainEnd.Add(wf.TestPeriod)

		log.Info("walk-forward fold",
			zap.Time("train_start", windowStart),
			zap.Time("train_end", trainEnd),
			zap.Time("test_end", testEnd),
		)

		strat, err := factory(windowStart, trainEnd)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeStrategyFailed, "strategy factory failed", err)
		}

		result, err := runFold(ctx, config, log, source, strat, trainEnd, testEnd)
		if err != nil {
			return nil, err
		}

		windows = append(windows, WalkForwardWindow{
			TrainStart: windowStart,
			TrainEnd:   trainEnd,
			TestStart:  trainEnd,
			TestEnd:    testEnd,
			Result:     result,
		})
	}

	log.Info("walk-forward analysis complete", zap.Int("windows", len(windows)))

	return aggregateWalkForward(windows), nil
}

// runFold replays one half-open test window [testStart, testEnd) on a
// fresh engine so folds never share portfolio state.
func runFold(ctx context.Context, config BacktestEngineV1Config, log *logger.Logger, source datasource.BarSource, strat strategy.Strategy, testStart, testEnd time.Time) (*types.BacktestResult, error) {
	foldConfig := config
	foldConfig.StartTime = optional.Some(testStart)
	foldConfig.EndTime = optional.Some(testEnd.Add(-time.Nanosecond))

	fold := &BacktestEngineV1{
		config:   foldConfig,
		log:      log,
		strategy: strat,
		source:   source,
	}

	return fold.Run(ctx, engine.LifecycleCallbacks{})
}

// dateRange resolves the overall analysis bounds: the engine config's
// explicit times win, the union of the symbols' metadata fills the gaps.
func dateRange(config BacktestEngineV1Config, source datasource.BarSource) (time.Time, time.Time, error) {
	var start, end time.Time

	if config.StartTime.IsSome() {
		start = config.StartTime.Unwrap()
	}

	if config.EndTime.IsSome() {
		end = config.EndTime.Unwrap()
	}

	if !start.IsZero() && !end.IsZero() {
		return start, end, nil
	}

	for _, symbol := range config.Symbols {
		meta, err := source.Metadata(symbol)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}

		if config.StartTime.IsNone() && (start.IsZero() || meta.FirstBar.Before(start)) {
			start = meta.FirstBar
		}

		if config.EndTime.IsNone() && meta.LastBar.After(end) {
			end = meta.LastBar
		}
	}

	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return time.Time{}, time.Time{}, errors.New(errors.ErrCodeInvalidDateRange, "no usable date range for walk-forward analysis")
	}

	return start, end, nil
}

func aggregateWalkForward(windows []WalkForwardWindow) *WalkForwardResult {
	aggregated := &WalkForwardResult{Windows: windows}

	if len(windows) == 0 {
		return aggregated
	}

	n := float64(len(windows))

	for _, window := range windows {
		aggregated.AvgSharpe += window.Result.Metrics.SharpeRatio
		aggregated.AvgReturn += window.Result.Metrics.TotalReturn
		aggregated.AvgMaxDrawdown += window.Result.Metrics.MaxDrawdown
		aggregated.AvgWinRate += window.Result.Metrics.WinRate
	}

	aggregated.AvgSharpe /= n
	aggregated.AvgReturn /= n
	aggregated.AvgMaxDrawdown /= n
	aggregated.AvgWinRate /= n

	var variance float64
	for _, window := range windows {
		deviation := window.Result.Metrics.SharpeRatio - aggregated.AvgSharpe
		variance += deviation * deviation
	}

	aggregated.Consistency = math.Sqrt(variance / n)

	return aggregated
}

package engine

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine"
	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-portfolio/internal/logger"
	"github.com/rxtech-lab/argo-portfolio/internal/strategy"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// BacktestEngineV1 is the single-threaded driver: the full bar series is
// buffered up front and every signal resolves before the next symbol or
// timestamp is processed, so runs are deterministic.
type BacktestEngineV1 struct {
	config        BacktestEngineV1Config
	configYAML    string
	log           *logger.Logger
	strategy      strategy.Strategy
	source        datasource.BarSource
	resultsFolder string
}

func NewBacktestEngineV1() engine.Engine {
	return &BacktestEngineV1{
		config: EmptyConfig(),
	}
}

// Initialize implements engine.Engine.
func (b *BacktestEngineV1) Initialize(config string) error {
	if err := yaml.Unmarshal([]byte(config), &b.config); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse engine config", err)
	}

	if err := b.config.Validate(); err != nil {
		return err
	}

	b.configYAML = config

	var loggerError error

	b.log, loggerError = logger.NewLogger()
	if loggerError != nil {
		return loggerError
	}

	b.log.Debug("backtest engine initialized",
		zap.Float64("initial_capital", b.config.InitialCapital),
		zap.Strings("symbols", b.config.Symbols),
	)

	return nil
}

// SetBarSource implements engine.Engine.
func (b *BacktestEngineV1) SetBarSource(source datasource.BarSource) error {
	if source == nil {
		return errors.New(errors.ErrCodeDataSourceUnavailable, "bar source is nil")
	}

	b.source = source

	return nil
}

// LoadStrategy implements engine.Engine.
func (b *BacktestEngineV1) LoadStrategy(s strategy.Strategy) error {
	if s == nil {
		return errors.New(errors.ErrCodeStrategyNotLoaded, "strategy is nil")
	}

	b.strategy = s
	b.log.Debug("strategy loaded", zap.String("name", s.Name()))

	return nil
}

// SetResultsFolder implements engine.Engine.
func (b *BacktestEngineV1) SetResultsFolder(folder string) error {
	b.resultsFolder = folder

	return nil
}

// GetConfigSchema implements engine.Engine.
func (b *BacktestEngineV1) GetConfigSchema() (string, error) {
	return b.config.GenerateSchemaJSON()
}

func (b *BacktestEngineV1) preRunCheck() error {
	if b.log == nil {
		return errors.New(errors.ErrCodeInvalidConfiguration, "engine is not initialized")
	}

	if b.strategy == nil {
		return errors.New(errors.ErrCodeStrategyNotLoaded, "no strategy loaded")
	}

	if b.source == nil {
		return errors.New(errors.ErrCodeDataSourceUnavailable, "no bar source set")
	}

	return b.config.Validate()
}

// timeSlice is all bars sharing one timestamp, keyed by symbol.
type timeSlice struct {
	at   time.Time
	bars map[string]types.MarketBar
}

// Run implements engine.Engine.
func (b *BacktestEngineV1) Run(ctx context.Context, callbacks engine.LifecycleCallbacks) (*types.BacktestResult, error) {
	if err := b.preRunCheck(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	startedAt := time.Now()

	run, err := newPortfolioRun(b.config, b.log, callbacks)
	if err != nil {
		return nil, err
	}

	slices, totalBars, err := b.buildTimeline()
	if err != nil {
		return nil, err
	}

	b.log.Info("backtest run starting",
		zap.String("run_id", runID),
		zap.Int("time_slices", len(slices)),
		zap.Int("bars", totalBars),
	)

	if callbacks.OnRunStart != nil {
		if err := (*callbacks.OnRunStart)(runID, b.config.Symbols, len(slices)); err != nil {
			return nil, err
		}
	}

	runErr := b.replay(ctx, run, slices)

	if runErr == nil {
		runErr = run.finish(ctx, b.strategy)
	}

	result := run.result(runID, startedAt, b.configYAML)

	if callbacks.OnRunEnd != nil {
		defer (*callbacks.OnRunEnd)(runID, runErr)
	}

	if runErr != nil {
		// surface the error alongside the partial results collected so far
		return result, runErr
	}

	if b.resultsFolder != "" {
		if err := b.saveResults(result); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (b *BacktestEngineV1) replay(ctx context.Context, run *portfolioRun, slices []timeSlice) error {
	for i, slice := range slices {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(errors.ErrCodeRunCancelled, "run cancelled", err)
		}

		if err := run.processSlice(ctx, b.strategy, slice); err != nil {
			return err
		}

		if run.callbacks.OnProcessData != nil {
			if err := (*run.callbacks.OnProcessData)(i+1, len(slices)); err != nil {
				return err
			}
		}
	}

	return nil
}

// buildTimeline materializes every configured symbol's bars and joins them
// into the sorted union of distinct timestamps. The join is sparse: a slice
// holds only the symbols that actually have a bar at that timestamp.
func (b *BacktestEngineV1) buildTimeline() ([]timeSlice, int, error) {
	bySymbol := make(map[string][]types.MarketBar, len(b.config.Symbols))

	totalBars := 0

	for _, symbol := range b.config.Symbols {
		bars, err := b.source.GetBars(symbol, b.config.StartTime, b.config.EndTime)
		if err != nil {
			return nil, 0, err
		}

		bySymbol[symbol] = bars
		totalBars += len(bars)
	}

	grouped := make(map[time.Time]map[string]types.MarketBar)

	for symbol, bars := range bySymbol {
		for _, bar := range bars {
			slice, ok := grouped[bar.Time]
			if !ok {
				slice = make(map[string]types.MarketBar)
				grouped[bar.Time] = slice
			}

			slice[symbol] = bar
		}
	}

	slices := make([]timeSlice, 0, len(grouped))
	for at, bars := range grouped {
		slices = append(slices, timeSlice{at: at, bars: bars})
	}

	sort.Slice(slices, func(i, j int) bool {
		return slices[i].at.Before(slices[j].at)
	})

	return slices, totalBars, nil
}

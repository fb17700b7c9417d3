package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	backtest "github.com/rxtech-lab/argo-portfolio/internal/backtest/engine"
	engine_v1 "github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1"
	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-portfolio/internal/logger"
	"github.com/rxtech-lab/argo-portfolio/internal/strategy"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"
)

// BacktestEngineV2 is the streaming driver. Bars are never buffered whole:
// per-symbol feeder goroutines drain the source lazily into chunked queues,
// a merge loop joins queue heads into synchronized time slices, and
// execution pricing runs on a bounded worker pool. Trades and equity points
// stream out over bounded channels while the run is still in progress.
//
// The replay itself folds slices in timestamp order through one portfolio,
// so a streaming run produces the same fills, trades and metrics as the
// synchronous driver over the same data.
type BacktestEngineV2 struct {
	config        engine_v1.BacktestEngineV1Config
	configYAML    string
	log           *logger.Logger
	strategy      strategy.Strategy
	source        datasource.BarSource
	resultsFolder string

	mu      sync.Mutex
	started bool
}

func NewBacktestEngineV2() *BacktestEngineV2 {
	return &BacktestEngineV2{
		config: engine_v1.EmptyConfig(),
	}
}

// Initialize implements engine.Engine.
func (b *BacktestEngineV2) Initialize(config string) error {
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

	b.log.Debug("streaming backtest engine initialized",
		zap.Float64("initial_capital", b.config.InitialCapital),
		zap.Strings("symbols", b.config.Symbols),
		zap.Int("chunk_size", b.config.ChunkSize),
		zap.Int("parallel_workers", b.config.ParallelWorkers),
	)

	return nil
}

// SetBarSource implements engine.Engine.
func (b *BacktestEngineV2) SetBarSource(source datasource.BarSource) error {
	if source == nil {
		return errors.New(errors.ErrCodeDataSourceUnavailable, "bar source is nil")
	}

	b.source = source

	return nil
}

// LoadStrategy implements engine.Engine.
func (b *BacktestEngineV2) LoadStrategy(s strategy.Strategy) error {
	if s == nil {
		return errors.New(errors.ErrCodeStrategyNotLoaded, "strategy is nil")
	}

	b.strategy = s

	return nil
}

// SetResultsFolder implements engine.Engine.
func (b *BacktestEngineV2) SetResultsFolder(folder string) error {
	b.resultsFolder = folder

	return nil
}

// GetConfigSchema implements engine.Engine.
func (b *BacktestEngineV2) GetConfigSchema() (string, error) {
	return b.config.GenerateSchemaJSON()
}

func (b *BacktestEngineV2) preRunCheck() error {
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

// RunHandle is the future for an in-flight streaming run. Trades and
// equity points travel over the run's bounded channels and surface through
// the lifecycle callbacks as they happen; Result blocks until the run has
// fully resolved.
type RunHandle struct {
	runID  string
	trades chan types.Trade
	equity chan types.EquityPoint

	done   chan struct{}
	result *types.BacktestResult
	err    error
}

// RunID returns the identifier assigned to this run.
func (h *RunHandle) RunID() string { return h.runID }

// Result blocks until the run completes and returns its outcome. On
// failure the partial result collected so far is returned alongside the
// error.
func (h *RunHandle) Result() (*types.BacktestResult, error) {
	<-h.done

	return h.result, h.err
}

// Run implements engine.Engine: it starts the pipeline and blocks on the
// result future.
func (b *BacktestEngineV2) Run(ctx context.Context, callbacks backtest.LifecycleCallbacks) (*types.BacktestResult, error) {
	handle, err := b.Start(ctx, callbacks)
	if err != nil {
		return nil, err
	}

	return handle.Result()
}

// Start launches the streaming pipeline and returns immediately with a
// handle. An engine instance runs at most once.
func (b *BacktestEngineV2) Start(ctx context.Context, callbacks backtest.LifecycleCallbacks) (*RunHandle, error) {
	if err := b.preRunCheck(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.started {
		b.mu.Unlock()

		return nil, errors.New(errors.ErrCodeRunAlreadyStarted, "engine has already been started")
	}

	b.started = true
	b.mu.Unlock()

	totalBars, err := b.source.Count(b.config.StartTime, b.config.EndTime)
	if err != nil {
		return nil, err
	}

	handle := &RunHandle{
		runID:  uuid.NewString(),
		trades: make(chan types.Trade, b.config.OutputBufferSize),
		equity: make(chan types.EquityPoint, b.config.OutputBufferSize),
		done:   make(chan struct{}),
	}

	go b.pipeline(ctx, callbacks, handle, totalBars)

	return handle, nil
}

// pipeline owns the whole run: feeders, merge loop, metrics consumer,
// teardown. It resolves the handle exactly once.
func (b *BacktestEngineV2) pipeline(ctx context.Context, callbacks backtest.LifecycleCallbacks, handle *RunHandle, totalBars int) {
	startedAt := time.Now()

	b.log.Info("streaming backtest run starting",
		zap.String("run_id", handle.runID),
		zap.Int("bars", totalBars),
	)

	run, runErr := newStreamRun(b.config, b.log, handle)
	if runErr != nil {
		handle.result, handle.err = nil, runErr
		close(handle.trades)
		close(handle.equity)
		close(handle.done)

		return
	}

	if callbacks.OnRunStart != nil {
		if err := (*callbacks.OnRunStart)(handle.runID, b.config.Symbols, totalBars); err != nil {
			handle.result, handle.err = nil, err
			run.pool.Close()
			close(handle.trades)
			close(handle.equity)
			close(handle.done)

			return
		}
	}

	if callbacks.OnProcessData != nil {
		run.onProcess = func(current int) error {
			return (*callbacks.OnProcessData)(current, totalBars)
		}
	}

	// metrics consumer: drains the output channels, mirrors them into the
	// caller's callbacks, and accumulates the equity curve for analytics
	consumed := newMetricsConsumer(callbacks)
	consumed.start(handle.trades, handle.equity)

	runErr = b.replay(ctx, run)
	if runErr == nil {
		runErr = run.finish(ctx, b.strategy)
	}

	// in-flight pricing requests drain before the outputs close
	run.pool.Close()
	close(handle.trades)
	close(handle.equity)
	consumed.wait()

	result := run.result(handle.runID, startedAt, b.configYAML, consumed.curve)

	if runErr == nil && b.resultsFolder != "" {
		runErr = b.saveResults(result)
	}

	if callbacks.OnRunEnd != nil {
		(*callbacks.OnRunEnd)(handle.runID, runErr)
	}

	handle.result = result
	handle.err = runErr
	close(handle.done)
}

// replay runs the feeders and the merge loop until the sources are
// exhausted, a stage fails, or the context is cancelled.
func (b *BacktestEngineV2) replay(ctx context.Context, run *streamRun) error {
	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()

	group, feedCtx := errgroup.WithContext(feedCtx)

	cursors := make([]*symbolCursor, 0, len(b.config.Symbols))

	for _, symbol := range b.config.Symbols {
		queue := make(chan []types.MarketBar, 2)
		cursors = append(cursors, &symbolCursor{symbol: symbol, queue: queue})

		group.Go(func() error {
			return b.feed(feedCtx, symbol, queue)
		})
	}

	mergeErr := b.merge(ctx, run, cursors)

	// unblock feeders still waiting to hand off a chunk
	cancelFeed()

	for _, cursor := range cursors {
		cursor.drain()
	}

	feedErr := group.Wait()

	if mergeErr != nil {
		return mergeErr
	}

	if feedErr != nil && !errors.HasCode(feedErr, errors.ErrCodeRunCancelled) {
		return feedErr
	}

	return nil
}

// feed drains one symbol's bars from the source into its chunked queue.
func (b *BacktestEngineV2) feed(ctx context.Context, symbol string, queue chan<- []types.MarketBar) error {
	defer close(queue)

	chunkSize := b.config.ChunkSize
	if chunkSize < 1 {
		chunkSize = 1
	}

	chunk := make([]types.MarketBar, 0, chunkSize)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}

		select {
		case queue <- chunk:
			chunk = make([]types.MarketBar, 0, chunkSize)

			return nil
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCodeRunCancelled, "feeder cancelled", ctx.Err())
		}
	}

	for bar, err := range b.source.ReadAll(symbol, b.config.StartTime, b.config.EndTime) {
		if err != nil {
			return err
		}

		chunk = append(chunk, bar)

		if len(chunk) == chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	return flush()
}

// merge joins queue heads by timestamp into synchronized slices and folds
// them through the run in time order.
func (b *BacktestEngineV2) merge(ctx context.Context, run *streamRun, cursors []*symbolCursor) error {
	barsDone := 0

	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(errors.ErrCodeRunCancelled, "run cancelled", err)
		}

		var (
			at      time.Time
			haveMin bool
		)

		for _, cursor := range cursors {
			bar, ok := cursor.peek()
			if !ok {
				continue
			}

			if !haveMin || bar.Time.Before(at) {
				at = bar.Time
				haveMin = true
			}
		}

		if !haveMin {
			return nil
		}

		bars := make(map[string]types.MarketBar)

		for _, cursor := range cursors {
			bar, ok := cursor.peek()
			if !ok || !bar.Time.Equal(at) {
				continue
			}

			bars[cursor.symbol] = bar

			cursor.advance()
			barsDone++
		}

		if err := run.processSlice(ctx, b.strategy, at, bars); err != nil {
			return err
		}

		if run.onProcess != nil {
			if err := run.onProcess(barsDone); err != nil {
				return err
			}
		}
	}
}

func (b *BacktestEngineV2) saveResults(result *types.BacktestResult) error {
	store, err := engine_v1.NewResultStore()
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			b.log.Warn("failed to close result store", zap.Error(closeErr))
		}
	}()

	return store.Save(b.resultsFolder, b.config.Symbols, result)
}

// symbolCursor reads one symbol's chunk queue and exposes its head bar.
type symbolCursor struct {
	symbol string
	queue  chan []types.MarketBar

	chunk []types.MarketBar
	index int
	done  bool
}

func (c *symbolCursor) peek() (types.MarketBar, bool) {
	for !c.done && c.index >= len(c.chunk) {
		chunk, ok := <-c.queue
		if !ok {
			c.done = true

			break
		}

		c.chunk = chunk
		c.index = 0
	}

	if c.done || c.index >= len(c.chunk) {
		return types.MarketBar{}, false
	}

	return c.chunk[c.index], true
}

func (c *symbolCursor) advance() {
	c.index++
}

// drain discards whatever the feeder still has queued so it can observe
// cancellation and exit.
func (c *symbolCursor) drain() {
	for range c.queue {
	}
}

// metricsConsumer drains the bounded output channels on a dedicated
// goroutine, forwarding to the caller's callbacks and accumulating the
// equity curve for final analytics.
type metricsConsumer struct {
	callbacks backtest.LifecycleCallbacks

	curve []types.EquityPoint
	wg    sync.WaitGroup
}

func newMetricsConsumer(callbacks backtest.LifecycleCallbacks) *metricsConsumer {
	return &metricsConsumer{callbacks: callbacks}
}

func (m *metricsConsumer) start(trades <-chan types.Trade, equity <-chan types.EquityPoint) {
	m.wg.Add(2)

	go func() {
		defer m.wg.Done()

		for trade := range trades {
			if m.callbacks.OnTrade != nil {
				(*m.callbacks.OnTrade)(trade)
			}
		}
	}()

	go func() {
		defer m.wg.Done()

		for point := range equity {
			m.curve = append(m.curve, point)

			if m.callbacks.OnEquity != nil {
				(*m.callbacks.OnEquity)(point)
			}
		}
	}()
}

func (m *metricsConsumer) wait() {
	m.wg.Wait()
}

var _ backtest.Engine = (*BacktestEngineV2)(nil)

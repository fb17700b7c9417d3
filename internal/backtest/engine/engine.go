package engine

import (
	"context"

	"github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-portfolio/internal/strategy"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
)

// Lifecycle callback types for backtest phases.
// Callbacks with an error return can abort the run by returning an error.

// OnRunStartCallback is called once before the first tick. runID is the
// unique identifier generated for this run.
type OnRunStartCallback func(runID string, symbols []string, totalBars int) error

// OnRunEndCallback is called when the run completes (always called via defer).
type OnRunEndCallback func(runID string, err error)

// OnProcessDataCallback is called for each processed time slice.
type OnProcessDataCallback func(current int, total int) error

// OnTradeCallback is called when a trade closes.
type OnTradeCallback func(trade types.Trade)

// OnEquityCallback is called for each recorded equity point.
type OnEquityCallback func(point types.EquityPoint)

// LifecycleCallbacks holds all lifecycle callback functions for a backtest
// run. All fields are pointers - nil means no callback will be invoked.
type LifecycleCallbacks struct {
	OnRunStart    *OnRunStartCallback
	OnRunEnd      *OnRunEndCallback
	OnProcessData *OnProcessDataCallback
	OnTrade       *OnTradeCallback
	OnEquity      *OnEquityCallback
}

// Engine replays market bars through a strategy against a simulated
// portfolio and produces a BacktestResult.
type Engine interface {
	// Initialize configures the engine from a YAML document.
	Initialize(config string) error
	// SetBarSource sets the market data source for the run.
	SetBarSource(source datasource.BarSource) error
	// LoadStrategy sets the trading strategy to drive.
	LoadStrategy(strategy strategy.Strategy) error
	// SetResultsFolder sets the output directory for persisted results.
	// Empty means results are not written to disk.
	SetResultsFolder(folder string) error
	// Run executes the backtest. The context cancels the run; on
	// cancellation the partial result collected so far is returned alongside
	// the cancellation error.
	Run(ctx context.Context, callbacks LifecycleCallbacks) (*types.BacktestResult, error)
	// GetConfigSchema returns the JSON schema of the engine configuration.
	GetConfigSchema() (string, error)
}

package strategy

import (
	"context"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
)

// PortfolioView is the read-only capital state handed to strategy callbacks.
// The ledger behind it keeps mutating between callbacks, so a strategy must
// not retain the view's snapshots across ticks.
type PortfolioView interface {
	Cash() float64
	Equity() float64
	InitialCapital() float64
	GetPosition(symbol string) optional.Option[types.Position]
	Positions() []types.Position
	OpenPositionCount() int
	Trades() []types.Trade
}

// Strategy is the trading logic consumed by the simulation drivers. OnBar is
// called once per bar in ascending time order; returning None means no
// action this tick. An error from any callback aborts the run.
type Strategy interface {
	// Initialize configures the strategy from a YAML document. Called once
	// before the first bar.
	Initialize(config string) error
	// Name identifies the strategy in signal metadata and logs.
	Name() string
	// OnBar reacts to one bar with the current portfolio state.
	OnBar(ctx context.Context, bar types.MarketBar, portfolio PortfolioView) (optional.Option[types.Signal], error)
	// OnFinish runs after the last bar, before end-of-run position closing.
	OnFinish(ctx context.Context, portfolio PortfolioView) error
}

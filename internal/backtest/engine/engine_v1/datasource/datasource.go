package datasource

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
)

// Metadata describes one symbol's bar series without materializing it.
type Metadata struct {
	Symbol    string    `yaml:"symbol" json:"symbol"`
	FirstBar  time.Time `yaml:"first_bar" json:"first_bar"`
	LastBar   time.Time `yaml:"last_bar" json:"last_bar"`
	TotalBars int       `yaml:"total_bars" json:"total_bars"`
	// Frequency is the modal spacing between consecutive bars. Zero when the
	// series has fewer than two bars.
	Frequency time.Duration `yaml:"frequency" json:"frequency"`
}

// BarSource supplies time-ordered bars per symbol. GetBars materializes a
// symbol's series for the synchronous driver; ReadAll yields bars lazily for
// the streaming driver.
type BarSource interface {
	// Symbols returns all distinct symbols in the source, sorted.
	Symbols() ([]string, error)
	// GetBars returns the symbol's bars in ascending time order, bounded by
	// the optional start and end (inclusive).
	GetBars(symbol string, start optional.Option[time.Time], end optional.Option[time.Time]) ([]types.MarketBar, error)
	// ReadAll yields the symbol's bars in ascending time order without
	// materializing the full series.
	ReadAll(symbol string, start optional.Option[time.Time], end optional.Option[time.Time]) func(yield func(types.MarketBar, error) bool)
	// Metadata returns the series description for one symbol.
	Metadata(symbol string) (Metadata, error)
	// Count returns the number of bars across all symbols in the bounds.
	Count(start optional.Option[time.Time], end optional.Option[time.Time]) (int, error)
	// Close releases any resources held by the source.
	Close() error
}

func withinBounds(at time.Time, start optional.Option[time.Time], end optional.Option[time.Time]) bool {
	if start.IsSome() && at.Before(start.Unwrap()) {
		return false
	}

	if end.IsSome() && at.After(end.Unwrap()) {
		return false
	}

	return true
}

// modalFrequency returns the most common spacing between consecutive bars.
func modalFrequency(bars []types.MarketBar) time.Duration {
	if len(bars) < 2 {
		return 0
	}

	counts := make(map[time.Duration]int)
	for i := 1; i < len(bars); i++ {
		counts[bars[i].Time.Sub(bars[i-1].Time)]++
	}

	var best time.Duration

	bestCount := 0
	for gap, count := range counts {
		if count > bestCount || (count == bestCount && gap < best) {
			best = gap
			bestCount = count
		}
	}

	return best
}

package datasource

import (
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
)

// MemorySource serves bars from fully materialized in-memory series. It is
// the source behind the synthetic generator and most tests.
type MemorySource struct {
	bars map[string][]types.MarketBar
}

// NewMemorySource groups the given bars by symbol and sorts each series by
// time. The input slice is not retained.
func NewMemorySource(bars []types.MarketBar) *MemorySource {
	grouped := make(map[string][]types.MarketBar)
	for _, bar := range bars {
		grouped[bar.Symbol] = append(grouped[bar.Symbol], bar)
	}

	for symbol := range grouped {
		series := grouped[symbol]
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Time.Before(series[j].Time)
		})
	}

	return &MemorySource{bars: grouped}
}

// Symbols implements BarSource.
func (s *MemorySource) Symbols() ([]string, error) {
	symbols := make([]string, 0, len(s.bars))
	for symbol := range s.bars {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	return symbols, nil
}

// GetBars implements BarSource.
func (s *MemorySource) GetBars(symbol string, start optional.Option[time.Time], end optional.Option[time.Time]) ([]types.MarketBar, error) {
	series, ok := s.bars[symbol]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeSymbolNotFound, "symbol %s not in source", symbol)
	}

	result := make([]types.MarketBar, 0, len(series))
	for _, bar := range series {
		if withinBounds(bar.Time, start, end) {
			result = append(result, bar)
		}
	}

	return result, nil
}

// ReadAll implements BarSource.
func (s *MemorySource) ReadAll(symbol string, start optional.Option[time.Time], end optional.Option[time.Time]) func(yield func(types.MarketBar, error) bool) {
	return func(yield func(types.MarketBar, error) bool) {
		series, ok := s.bars[symbol]
		if !ok {
			yield(types.MarketBar{}, errors.Newf(errors.ErrCodeSymbolNotFound, "symbol %s not in source", symbol))

			return
		}

		for _, bar := range series {
			if !withinBounds(bar.Time, start, end) {
				continue
			}

			if !yield(bar, nil) {
				return
			}
		}
	}
}

// Metadata implements BarSource.
func (s *MemorySource) Metadata(symbol string) (Metadata, error) {
	series, ok := s.bars[symbol]
	if !ok {
		return Metadata{}, errors.Newf(errors.ErrCodeSymbolNotFound, "symbol %s not in source", symbol)
	}

	if len(series) == 0 {
		return Metadata{Symbol: symbol}, nil
	}

	return Metadata{
		Symbol:    symbol,
		FirstBar:  series[0].Time,
		LastBar:   series[len(series)-1].Time,
		TotalBars: len(series),
		Frequency: modalFrequency(series),
	}, nil
}

// Count implements BarSource.
func (s *MemorySource) Count(start optional.Option[time.Time], end optional.Option[time.Time]) (int, error) {
	count := 0
	for _, series := range s.bars {
		for _, bar := range series {
			if withinBounds(bar.Time, start, end) {
				count++
			}
		}
	}

	return count, nil
}

// Close implements BarSource.
func (s *MemorySource) Close() error {
	return nil
}

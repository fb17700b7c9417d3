package strategy

import (
	"context"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
	"gopkg.in/yaml.v2"
)

// SMACrossConfig configures the moving-average crossover strategy.
type SMACrossConfig struct {
	FastPeriod int `yaml:"fast_period" json:"fast_period" jsonschema:"title=Fast Period,minimum=1"`
	SlowPeriod int `yaml:"slow_period" json:"slow_period" jsonschema:"title=Slow Period,minimum=2"`
	// Quantity per entry. Zero buys as much as cash allows.
	Quantity float64 `yaml:"quantity" json:"quantity" jsonschema:"title=Quantity,minimum=0"`
}

// SMACrossStrategy buys a symbol when its fast moving average crosses above
// the slow one and closes the position on the reverse cross.
type SMACrossStrategy struct {
	config SMACrossConfig
	closes map[string][]float64
}

func NewSMACrossStrategy() *SMACrossStrategy {
	return &SMACrossStrategy{
		closes: make(map[string][]float64),
	}
}

// Initialize implements Strategy.
func (s *SMACrossStrategy) Initialize(config string) error {
	if err := yaml.Unmarshal([]byte(config), &s.config); err != nil {
		return errors.Wrap(errors.ErrCodeStrategyConfigError, "failed to parse sma_cross config", err)
	}

	if s.config.FastPeriod <= 0 || s.config.SlowPeriod <= s.config.FastPeriod {
		return errors.Newf(errors.ErrCodeStrategyConfigError,
			"sma_cross requires 0 < fast_period < slow_period, got %d/%d", s.config.FastPeriod, s.config.SlowPeriod)
	}

	return nil
}

// Name implements Strategy.
func (s *SMACrossStrategy) Name() string {
	return "sma_cross"
}

// OnBar implements Strategy.
func (s *SMACrossStrategy) OnBar(_ context.Context, bar types.MarketBar, portfolio PortfolioView) (optional.Option[types.Signal], error) {
	window := append(s.closes[bar.Symbol], bar.Close)
	if len(window) > s.config.SlowPeriod+1 {
		window = window[1:]
	}

	s.closes[bar.Symbol] = window

	if len(window) <= s.config.SlowPeriod {
		return optional.None[types.Signal](), nil
	}

	fastNow := average(window[len(window)-s.config.FastPeriod:])
	slowNow := average(window[len(window)-s.config.SlowPeriod:])
	fastPrev := average(window[len(window)-s.config.FastPeriod-1 : len(window)-1])
	slowPrev := average(window[len(window)-s.config.SlowPeriod-1 : len(window)-1])

	holding := portfolio.GetPosition(bar.Symbol).IsSome()

	meta := types.SignalMeta{
		SchemaVersion: 1,
		StrategyName:  s.Name(),
		Reason:        types.SignalReasonStrategy,
	}

	// golden cross opens, death cross closes
	if fastPrev <= slowPrev && fastNow > slowNow && !holding {
		quantity := optional.None[float64]()
		if s.config.Quantity > 0 {
			quantity = optional.Some(s.config.Quantity)
		}

		return optional.Some(types.Signal{
			Time:      bar.Time,
			Action:    types.SignalActionBuy,
			Symbol:    bar.Symbol,
			Quantity:  quantity,
			OrderType: types.OrderTypeMarket,
			Urgency:   types.UrgencyNormal,
			Meta:      meta,
		}), nil
	}

	if fastPrev >= slowPrev && fastNow < slowNow && holding {
		return optional.Some(types.Signal{
			Time:      bar.Time,
			Action:    types.SignalActionClose,
			Symbol:    bar.Symbol,
			OrderType: types.OrderTypeMarket,
			Urgency:   types.UrgencyNormal,
			Meta:      meta,
		}), nil
	}

	return optional.None[types.Signal](), nil
}

// OnFinish implements Strategy.
func (s *SMACrossStrategy) OnFinish(_ context.Context, _ PortfolioView) error {
	return nil
}

func average(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

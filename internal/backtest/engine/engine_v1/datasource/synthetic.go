package datasource

import (
	"math"
	"math/rand"
	"time"

	"github.com/rxtech-lab/argo-portfolio/internal/types"
)

// SyntheticConfig parameterizes the random-walk bar generator.
type SyntheticConfig struct {
	Symbols    []string      `yaml:"symbols" json:"symbols"`
	Start      time.Time     `yaml:"start" json:"start"`
	Bars       int           `yaml:"bars" json:"bars"`
	Interval   time.Duration `yaml:"interval" json:"interval"`
	StartPrice float64       `yaml:"start_price" json:"start_price"`
	// Drift is the per-bar expected log return.
	Drift float64 `yaml:"drift" json:"drift"`
	// Volatility is the per-bar log return standard deviation.
	Volatility float64 `yaml:"volatility" json:"volatility"`
	// SpreadBps is the half-spread applied around close to produce bid/ask.
	SpreadBps float64 `yaml:"spread_bps" json:"spread_bps"`
	Seed      int64   `yaml:"seed" json:"seed"`
}

// NewSyntheticSource generates a deterministic geometric random walk per
// symbol and serves it from a MemorySource. The same seed always produces
// the same series, which keeps replays byte-identical.
func NewSyntheticSource(config SyntheticConfig) *MemorySource {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}

	if config.StartPrice <= 0 {
		config.StartPrice = 100
	}

	rng := rand.New(rand.NewSource(config.Seed))
	bars := make([]types.MarketBar, 0, len(config.Symbols)*config.Bars)

	for _, symbol := range config.Symbols {
		price := config.StartPrice

		for i := 0; i < config.Bars; i++ {
			at := config.Start.Add(time.Duration(i) * config.Interval)

			logReturn := config.Drift + config.Volatility*rng.NormFloat64()
			next := price * math.Exp(logReturn)

			high := math.Max(price, next) * (1 + math.Abs(config.Volatility*rng.NormFloat64())/2)
			low := math.Min(price, next) * (1 - math.Abs(config.Volatility*rng.NormFloat64())/2)
			volume := 1000 + rng.Float64()*9000

			halfSpread := next * config.SpreadBps / 10000

			bars = append(bars, types.MarketBar{
				Symbol: symbol,
				Time:   at,
				Open:   price,
				High:   high,
				Low:    low,
				Close:  next,
				Volume: volume,
				Bid:    next - halfSpread,
				Ask:    next + halfSpread,
			})

			price = next
		}
	}

	return NewMemorySource(bars)
}

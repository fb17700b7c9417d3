package types

import (
	"time"

	"github.com/moznion/go-optional"
)

// EquityPoint is one sample of the equity curve, appended once per simulated
// tick and never mutated.
type EquityPoint struct {
	Time time.Time `yaml:"time" json:"time" csv:"time"`
	// Equity is cash plus the mark-to-market value of all open positions.
	Equity float64 `yaml:"equity" json:"equity" csv:"equity"`
	// Drawdown is the fractional decline from the running high-water mark,
	// in [0, 1).
	Drawdown      float64 `yaml:"drawdown" json:"drawdown" csv:"drawdown"`
	OpenPositions int     `yaml:"open_positions" json:"open_positions" csv:"open_positions"`
	// DailyReturn is set on the first sample after a calendar-day boundary.
	DailyReturn optional.Option[float64] `yaml:"daily_return" json:"daily_return" csv:"daily_return"`
}

// DrawdownPeriod is one episode of equity below its prior peak. A period
// opens when drawdown transitions from zero to positive and closes when
// equity makes a new high.
type DrawdownPeriod struct {
	StartTime time.Time `yaml:"start_time" json:"start_time" csv:"start_time"`
	// EndTime is None while the episode is still open.
	EndTime optional.Option[time.Time] `yaml:"end_time" json:"end_time" csv:"end_time"`
	// MaxDrawdown is the deepest drawdown observed within the episode.
	MaxDrawdown float64       `yaml:"max_drawdown" json:"max_drawdown" csv:"max_drawdown"`
	Duration    time.Duration `yaml:"duration" json:"duration" csv:"duration"`
	// RecoveryTime is the timestamp at which equity regained its prior peak.
	RecoveryTime optional.Option[time.Time] `yaml:"recovery_time" json:"recovery_time" csv:"recovery_time"`
}

// IsOpen reports whether the episode has not yet recovered.
func (d DrawdownPeriod) IsOpen() bool {
	return d.EndTime.IsNone()
}

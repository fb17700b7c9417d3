package engine

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
)

type drawdownState int

const (
	stateAtHighWaterMark drawdownState = iota
	stateInDrawdown
)

// DrawdownTracker derives the running high-water mark, current drawdown and
// discrete drawdown episodes from the equity sequence. The high-water mark
// never decreases and at most one episode is open at a time.
type DrawdownTracker struct {
	state         drawdownState
	highWaterMark float64
	current       float64
	open          optional.Option[types.DrawdownPeriod]
	history       []types.DrawdownPeriod
}

func NewDrawdownTracker(initialEquity float64) *DrawdownTracker {
	return &DrawdownTracker{
		state:         stateAtHighWaterMark,
		highWaterMark: initialEquity,
	}
}

// Observe folds one equity sample into the tracker and returns the drawdown
// fraction at that sample.
func (t *DrawdownTracker) Observe(at time.Time, equity float64) float64 {
	if equity >= t.highWaterMark {
		t.highWaterMark = equity

		if t.state == stateInDrawdown {
			period := t.open.Unwrap()
			period.EndTime = optional.Some(at)
			period.RecoveryTime = optional.Some(at)
			period.Duration = at.Sub(period.StartTime)
			t.history = append(t.history, period)

			t.open = optional.None[types.DrawdownPeriod]()
			t.state = stateAtHighWaterMark
		}

		t.current = 0

		return 0
	}

	drawdown := (t.highWaterMark - equity) / t.highWaterMark
	t.current = drawdown

	if t.state == stateAtHighWaterMark {
		t.state = stateInDrawdown
		t.open = optional.Some(types.DrawdownPeriod{
			StartTime:   at,
			MaxDrawdown: drawdown,
		})

		return drawdown
	}

	period := t.open.Unwrap()
	if drawdown > period.MaxDrawdown {
		period.MaxDrawdown = drawdown
	}
	period.Duration = at.Sub(period.StartTime)
	t.open = optional.Some(period)

	return drawdown
}

// Current returns the drawdown fraction at the last observed sample.
func (t *DrawdownTracker) Current() float64 {
	return t.current
}

// HighWaterMark returns the running equity peak.
func (t *DrawdownTracker) HighWaterMark() float64 {
	return t.highWaterMark
}

// MaxDrawdown returns the deepest drawdown seen over the whole run,
// including a still-open episode.
func (t *DrawdownTracker) MaxDrawdown() float64 {
	max := 0.0
	for _, period := range t.history {
		if period.MaxDrawdown > max {
			max = period.MaxDrawdown
		}
	}

	if t.open.IsSome() && t.open.Unwrap().MaxDrawdown > max {
		max = t.open.Unwrap().MaxDrawdown
	}

	return max
}

// Periods returns all drawdown episodes in order, the still-open one last.
func (t *DrawdownTracker) Periods() []types.DrawdownPeriod {
	periods := make([]types.DrawdownPeriod, len(t.history))
	copy(periods, t.history)

	if t.open.IsSome() {
		periods = append(periods, t.open.Unwrap())
	}

	return periods
}

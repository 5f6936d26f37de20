package schedule

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Bounds of the default polling delay.
const (
	DefaultMinInterval = 45 * time.Second
	DefaultMaxInterval = 120 * time.Second
)

// Interval draws the delay between the end of one cycle and the start of the next.
type Interval struct {
	Min time.Duration
	Max time.Duration
	// Rand returns a value in [0, n). Nil uses math/rand/v2.
	Rand func(n int64) int64
}

// DefaultInterval returns the 45s to 120s window.
func DefaultInterval() Interval {
	return Interval{Min: DefaultMinInterval, Max: DefaultMaxInterval}
}

// Validate rejects windows that cannot produce a delay.
func (i Interval) Validate() error {
	if i.Min < time.Millisecond {
		return fmt.Errorf("min interval %s must be at least 1ms", i.Min)
	}
	if i.Max < i.Min {
		return fmt.Errorf("max interval %s is below min interval %s", i.Max, i.Min)
	}
	return nil
}

// Next returns a delay uniformly distributed over [Min, Max] at millisecond resolution,
// both ends inclusive.
func (i Interval) Next() time.Duration {
	lo := i.Min.Milliseconds()
	hi := i.Max.Milliseconds()
	if hi <= lo {
		return time.Duration(lo) * time.Millisecond
	}
	draw := i.Rand
	if draw == nil {
		draw = rand.Int64N
	}
	return time.Duration(lo+draw(hi-lo+1)) * time.Millisecond
}

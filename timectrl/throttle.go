package timectrl

import "time"

// Throttle admits at most one call per Interval of session time.
// It is not safe for concurrent use; the session goroutine owns it.
type Throttle struct {
	Interval time.Duration
	last     time.Time
	primed   bool
}

// NewThrottle returns a throttle that admits its first call immediately.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{Interval: interval}
}

// Allow reports whether now is at least Interval after the last admitted call,
// recording now when it is.
func (t *Throttle) Allow(now time.Time) bool {
	if t.primed && now.Sub(t.last) < t.Interval {
		return false
	}
	t.last = now
	t.primed = true
	return true
}

// Reset makes the next call pass regardless of timing.
func (t *Throttle) Reset() {
	t.primed = false
}

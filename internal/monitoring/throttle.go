package monitoring

import (
	"sync"
	"time"

	"github.com/rubot-data/signpilot/internal/timeutil"
)

// Throttle rate-limits log output per category. Within the configured window
// at most one message per category is emitted; repeats are dropped silently.
// The control loop uses one category per mapping branch so state transitions
// still surface promptly at 10 Hz without flooding the log.
type Throttle struct {
	clock  timeutil.Clock
	window time.Duration

	mu       sync.Mutex
	lastEmit map[string]time.Time
}

// NewThrottle creates a Throttle with the given rolling window. A nil clock
// uses the real clock; a non-positive window disables throttling.
func NewThrottle(clock timeutil.Clock, window time.Duration) *Throttle {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Throttle{
		clock:    clock,
		window:   window,
		lastEmit: make(map[string]time.Time),
	}
}

// Logf emits a message through the package logger unless another message with
// the same category was emitted within the window.
func (t *Throttle) Logf(category, format string, v ...any) {
	if !t.Allow(category) {
		return
	}
	Logf(format, v...)
}

// Allow reports whether a message for the category may be emitted now, and if
// so records the emission time.
func (t *Throttle) Allow(category string) bool {
	if t.window <= 0 {
		return true
	}

	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.lastEmit[category]; ok && now.Sub(last) < t.window {
		return false
	}
	t.lastEmit[category] = now
	return true
}

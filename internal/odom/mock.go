package odom

import (
	"io"
	"time"
)

// mockPort replays a fixture line periodically, simulating a robot base
// streaming odometry. Used in dev mode when no hardware is attached.
type mockPort struct {
	io.Reader
	w io.Closer
}

func (m *mockPort) Write(p []byte) (int, error) { return len(p), nil }
func (m *mockPort) Close() error                { return m.w.Close() }

// NewMockSource creates a Source backed by a synthetic port that emits the
// given line every interval.
func NewMockSource(line string, interval time.Duration, pub Publisher) *Source {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	r, w := io.Pipe()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := w.Write([]byte(line + "\n")); err != nil {
				return
			}
		}
	}()

	return NewSource(&mockPort{Reader: r, w: w}, pub)
}

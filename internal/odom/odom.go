// Package odom reads robot odometry from a serial feed and publishes pose
// updates on the node bus. Multiple consumers see the same stream via the
// bus; the serial port itself has a single reader.
package odom

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rubot-data/signpilot/internal/bus"
	"github.com/rubot-data/signpilot/internal/monitoring"
)

// Pose is the robot's planar position as reported by odometry.
type Pose struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Porter is the minimal interface the source needs from a serial port.
// The abstraction enables unit testing without real serial hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// Publisher is the outbound side of the message bus poses are published to.
type Publisher interface {
	Publish(topic string, payload any)
}

// Source reads odometry lines from a port and publishes parsed poses.
type Source struct {
	port Porter
	pub  Publisher
}

// NewSource wraps an open port.
func NewSource(port Porter, pub Publisher) *Source {
	return &Source{port: port, pub: pub}
}

// ParsePose parses an odometry line of the form "x,y" or "x,y,theta".
// The optional heading field is accepted and discarded; the node only
// tracks position.
func ParsePose(line string) (Pose, error) {
	segments := strings.Split(strings.TrimSpace(line), ",")
	if len(segments) < 2 || len(segments) > 3 {
		return Pose{}, fmt.Errorf("invalid pose line %q: expected 2 or 3 fields", line)
	}

	x, err := strconv.ParseFloat(strings.TrimSpace(segments[0]), 64)
	if err != nil {
		return Pose{}, fmt.Errorf("failed to parse x: %w", err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(segments[1]), 64)
	if err != nil {
		return Pose{}, fmt.Errorf("failed to parse y: %w", err)
	}
	if len(segments) == 3 {
		if _, err := strconv.ParseFloat(strings.TrimSpace(segments[2]), 64); err != nil {
			return Pose{}, fmt.Errorf("failed to parse theta: %w", err)
		}
	}

	return Pose{X: x, Y: y}, nil
}

// Monitor reads lines from the port until the context is cancelled or the
// port reaches EOF, publishing each parsed pose on bus.TopicPose. Malformed
// lines are logged and skipped.
func (s *Source) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the outer loop
	// can await lines and context cancellation together.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				return scan.Err()
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			pose, err := ParsePose(line)
			if err != nil {
				monitoring.Logf("[odom] dropping line: %v", err)
				continue
			}
			s.pub.Publish(bus.TopicPose, pose)
		}
	}
}

// Close closes the underlying port.
func (s *Source) Close() error {
	return s.port.Close()
}

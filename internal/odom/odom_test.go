package odom

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rubot-data/signpilot/internal/bus"
	"github.com/rubot-data/signpilot/internal/monitoring"
)

// testPort feeds canned data to the source and then blocks until closed.
type testPort struct {
	mu       sync.Mutex
	readData []byte
	offset   int
	closed   bool
}

func (p *testPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.EOF
	}
	if p.offset >= len(p.readData) {
		return 0, io.EOF
	}
	n := copy(buf, p.readData[p.offset:])
	p.offset += n
	return n, nil
}

func (p *testPort) Write(data []byte) (int, error) { return len(data), nil }

func (p *testPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type poseRecorder struct {
	mu    sync.Mutex
	poses []Pose
}

func (r *poseRecorder) Publish(topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if topic == bus.TopicPose {
		if p, ok := payload.(Pose); ok {
			r.poses = append(r.poses, p)
		}
	}
}

func (r *poseRecorder) Poses() []Pose {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Pose, len(r.poses))
	copy(out, r.poses)
	return out
}

func TestParsePose(t *testing.T) {
	tests := []struct {
		line    string
		want    Pose
		wantErr bool
	}{
		{"1.5,2.25", Pose{X: 1.5, Y: 2.25}, false},
		{"0,0", Pose{}, false},
		{"-3.1, 4.2", Pose{X: -3.1, Y: 4.2}, false},
		{"1.0,2.0,0.78", Pose{X: 1.0, Y: 2.0}, false},
		{"  0.5,0.5  ", Pose{X: 0.5, Y: 0.5}, false},
		{"1.5", Pose{}, true},
		{"a,b", Pose{}, true},
		{"1,2,3,4", Pose{}, true},
		{"1,nope", Pose{}, true},
		{"1,2,bad", Pose{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParsePose(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePose(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParsePose(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestMonitorPublishesPoses(t *testing.T) {
	monitoring.SetLogger(nil)
	defer monitoring.SetLogger(nil)

	port := &testPort{readData: []byte("1.0,2.0\n3.0,4.0\n")}
	rec := &poseRecorder{}
	src := NewSource(port, rec)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := src.Monitor(ctx); err != nil {
		t.Fatalf("Monitor returned error: %v", err)
	}

	poses := rec.Poses()
	if len(poses) != 2 {
		t.Fatalf("expected 2 poses, got %d", len(poses))
	}
	if poses[0] != (Pose{X: 1.0, Y: 2.0}) {
		t.Errorf("first pose = %+v", poses[0])
	}
	if poses[1] != (Pose{X: 3.0, Y: 4.0}) {
		t.Errorf("second pose = %+v", poses[1])
	}
}

func TestMonitorSkipsMalformedLines(t *testing.T) {
	monitoring.SetLogger(nil)
	defer monitoring.SetLogger(nil)

	port := &testPort{readData: []byte("garbage\n1.0,1.0\n\n2.0,2.0\n")}
	rec := &poseRecorder{}
	src := NewSource(port, rec)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := src.Monitor(ctx); err != nil {
		t.Fatalf("Monitor returned error: %v", err)
	}

	if got := len(rec.Poses()); got != 2 {
		t.Errorf("expected 2 poses after skipping bad lines, got %d", got)
	}
}

func TestPortOptionsNormalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if opts.BaudRate != 115200 || opts.DataBits != 8 || opts.StopBits != 1 || opts.Parity != "N" {
		t.Errorf("unexpected defaults: %+v", opts)
	}

	if _, err := (PortOptions{DataBits: 3}).Normalize(); err == nil {
		t.Error("expected error for invalid data bits")
	}
	if _, err := (PortOptions{StopBits: 3}).Normalize(); err == nil {
		t.Error("expected error for invalid stop bits")
	}
	if _, err := (PortOptions{Parity: "X"}).Normalize(); err == nil {
		t.Error("expected error for invalid parity")
	}

	opts, err = PortOptions{Parity: "even"}.Normalize()
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if opts.Parity != "E" {
		t.Errorf("parity = %q, want E", opts.Parity)
	}
}

func TestSerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "O"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode failed: %v", err)
	}
	if mode.BaudRate != 9600 {
		t.Errorf("baud = %d, want 9600", mode.BaudRate)
	}
}

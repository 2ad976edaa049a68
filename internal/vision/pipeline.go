// Package vision implements the perception pipeline: incoming camera frames
// are decoded, scaled to the classifier's input size, classified, and the
// resulting label is published for the behavior side to consume.
package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"

	"github.com/rubot-data/signpilot/internal/bus"
	"github.com/rubot-data/signpilot/internal/fsutil"
	"github.com/rubot-data/signpilot/internal/monitoring"
	"github.com/rubot-data/signpilot/internal/signs"
	"github.com/rubot-data/signpilot/internal/timeutil"
)

// ErrDecode marks frames that could not be converted to the classifier's
// expected format. Such frames are logged and dropped; the pipeline
// continues with the next frame.
var ErrDecode = errors.New("failed to decode frame")

// Publisher is the outbound side of the message bus labels are published to.
type Publisher interface {
	Publish(topic string, payload any)
}

// Pipeline turns frames into published labels. One instance serves the
// node's single camera stream; classification calls are serialized
// internally so concurrent frame delivery cannot overlap inference.
type Pipeline struct {
	classifier signs.Classifier
	pub        Publisher
	clock      timeutil.Clock

	debugInterval uint64
	frameCount    atomic.Uint64

	classifyMu sync.Mutex

	captureMu       sync.Mutex
	captureEnabled  bool
	captureInterval time.Duration
	lastCapture     time.Time
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	// Classifier runs inference on prepared tensors. Required.
	Classifier signs.Classifier
	// Publisher receives labels on bus.TopicLabels. Required.
	Publisher Publisher
	// Clock drives capture-gate bookkeeping; nil uses the real clock.
	Clock timeutil.Clock
	// DebugInterval samples one diagnostic line every N frames; zero
	// defaults to 10.
	DebugInterval int
	// CaptureInterval is the minimum spacing between capture marks; zero
	// defaults to 1s.
	CaptureInterval time.Duration
}

// NewPipeline creates a perception pipeline. The capture gate starts
// enabled, matching the robot's boot behavior.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	debugInterval := cfg.DebugInterval
	if debugInterval < 1 {
		debugInterval = 10
	}
	captureInterval := cfg.CaptureInterval
	if captureInterval <= 0 {
		captureInterval = time.Second
	}
	return &Pipeline{
		classifier:      cfg.Classifier,
		pub:             cfg.Publisher,
		clock:           clock,
		debugInterval:   uint64(debugInterval),
		captureEnabled:  true,
		captureInterval: captureInterval,
		lastCapture:     clock.Now(),
	}
}

// EnsureCaptureDirs creates one subdirectory per label under the capture
// output directory, ready for the frame-save step.
func EnsureCaptureDirs(fs fsutil.FileSystem, dir string, labels []signs.Label) error {
	for _, label := range labels {
		path := filepath.Join(dir, string(label))
		if err := fs.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create capture dir %s: %w", path, err)
		}
	}
	return nil
}

// HandleFrame processes one delivered frame: decode, scale, classify,
// publish. Decode and classification failures are logged and the frame is
// dropped; the label stream simply skips a beat and the previous command
// stays in force.
func (p *Pipeline) HandleFrame(ctx context.Context, frame bus.Frame) {
	count := p.frameCount.Add(1)

	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		monitoring.Logf("[vision] frame #%d: %v: %v", count, ErrDecode, err)
		return
	}

	w, h := p.classifier.InputSize()
	tensor := prepare(img, w, h)

	p.classifyMu.Lock()
	result, err := p.classifier.Classify(ctx, tensor)
	p.classifyMu.Unlock()
	if err != nil {
		monitoring.Logf("[vision] frame #%d: classification failed: %v", count, err)
		return
	}

	if count%p.debugInterval == 0 {
		monitoring.Logf("[vision] frame #%d - class: %s (%.2f)", count, result.Label, result.Confidence)
	}

	// Label publication is unconditional; the capture gate only governs the
	// frame-save bookkeeping.
	p.pub.Publish(bus.TopicLabels, result.Label)
	p.pub.Publish(bus.TopicDetections, signs.Detection{
		Frame:      count,
		Label:      result.Label,
		Confidence: result.Confidence,
	})

	p.markCapture()
}

// HandleCaptureToggle replaces the capture gate flag and logs the
// transition. The flag has no effect on label publication or velocity
// mapping.
func (p *Pipeline) HandleCaptureToggle(enabled bool) {
	p.captureMu.Lock()
	p.captureEnabled = enabled
	p.captureMu.Unlock()

	state := "DISABLED"
	if enabled {
		state = "ENABLED"
	}
	monitoring.Logf("[vision] automatic capture %s", state)
}

// CaptureEnabled reports the current gate state.
func (p *Pipeline) CaptureEnabled() bool {
	p.captureMu.Lock()
	defer p.captureMu.Unlock()
	return p.captureEnabled
}

// FrameCount returns the number of frames received so far.
func (p *Pipeline) FrameCount() uint64 {
	return p.frameCount.Load()
}

// Run consumes frame and toggle messages from the given subscriptions until
// the context is cancelled or both channels close.
func (p *Pipeline) Run(ctx context.Context, frames, toggles <-chan bus.Message) error {
	for frames != nil || toggles != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			if frame, ok := msg.Payload.(bus.Frame); ok {
				p.HandleFrame(ctx, frame)
			}
		case msg, ok := <-toggles:
			if !ok {
				toggles = nil
				continue
			}
			if enabled, ok := msg.Payload.(bool); ok {
				p.HandleCaptureToggle(enabled)
			}
		}
	}
	return nil
}

// markCapture advances the capture timestamp when the gate is enabled and
// the interval has elapsed. The frame-save step is not wired yet.
func (p *Pipeline) markCapture() {
	p.captureMu.Lock()
	defer p.captureMu.Unlock()
	if !p.captureEnabled {
		return
	}
	if now := p.clock.Now(); now.Sub(p.lastCapture) >= p.captureInterval {
		p.lastCapture = now
	}
}

// prepare scales img to w x h and normalizes pixels to [0,1] RGB floats.
func prepare(img image.Image, w, h int) signs.Tensor {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	pix := make([]float32, w*h*3)
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := dst.At(x, y).RGBA()
			pix[i] = float32(r) / 0xffff
			pix[i+1] = float32(g) / 0xffff
			pix[i+2] = float32(b) / 0xffff
			i += 3
		}
	}
	return signs.Tensor{Width: w, Height: h, Pix: pix}
}

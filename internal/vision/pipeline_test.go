package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubot-data/signpilot/internal/bus"
	"github.com/rubot-data/signpilot/internal/fsutil"
	"github.com/rubot-data/signpilot/internal/monitoring"
	"github.com/rubot-data/signpilot/internal/signs"
	"github.com/rubot-data/signpilot/internal/timeutil"
)

// fakeClassifier returns a fixed result or error and records invocations.
type fakeClassifier struct {
	mu     sync.Mutex
	result signs.Result
	err    error
	calls  int
	inputs []signs.Tensor
}

func (f *fakeClassifier) InputSize() (int, int) { return 8, 8 }

func (f *fakeClassifier) Classify(_ context.Context, t signs.Tensor) (signs.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, t)
	return f.result, f.err
}

func (f *fakeClassifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type labelRecorder struct {
	mu         sync.Mutex
	topics     []string
	labels     []signs.Label
	detections []signs.Detection
}

func (r *labelRecorder) Publish(topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	switch p := payload.(type) {
	case signs.Label:
		r.labels = append(r.labels, p)
	case signs.Detection:
		r.detections = append(r.detections, p)
	}
}

func (r *labelRecorder) Labels() []signs.Label {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]signs.Label, len(r.labels))
	copy(out, r.labels)
	return out
}

// encodeTestFrame produces a PNG-encoded solid-color frame.
func encodeTestFrame(t *testing.T, w, h int) bus.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return bus.Frame{Data: buf.Bytes(), Seq: 1, Time: time.Now()}
}

func newTestPipeline(t *testing.T, c signs.Classifier) (*Pipeline, *labelRecorder) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	rec := &labelRecorder{}
	p := NewPipeline(PipelineConfig{
		Classifier: c,
		Publisher:  rec,
		Clock:      timeutil.NewMockClock(time.Unix(0, 0)),
	})
	return p, rec
}

func TestHandleFramePublishesLabel(t *testing.T) {
	fc := &fakeClassifier{result: signs.Result{Label: signs.LabelStop, Confidence: 0.93}}
	p, rec := newTestPipeline(t, fc)

	p.HandleFrame(context.Background(), encodeTestFrame(t, 32, 24))

	require.Equal(t, 1, fc.Calls())
	require.Len(t, rec.Labels(), 1)
	assert.Equal(t, signs.LabelStop, rec.Labels()[0])

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, bus.TopicLabels, rec.topics[0])
}

func TestHandleFramePublishesDetection(t *testing.T) {
	fc := &fakeClassifier{result: signs.Result{Label: signs.LabelGiveWay, Confidence: 0.81}}
	p, rec := newTestPipeline(t, fc)

	p.HandleFrame(context.Background(), encodeTestFrame(t, 32, 24))
	p.HandleFrame(context.Background(), encodeTestFrame(t, 32, 24))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.detections, 2)
	assert.Equal(t, signs.LabelGiveWay, rec.detections[0].Label)
	assert.InDelta(t, 0.81, rec.detections[0].Confidence, 1e-9)
	assert.Equal(t, uint64(1), rec.detections[0].Frame)
	assert.Equal(t, uint64(2), rec.detections[1].Frame)
}

func TestHandleFrameResizesToClassifierInput(t *testing.T) {
	fc := &fakeClassifier{result: signs.Result{Label: signs.LabelNothing}}
	p, _ := newTestPipeline(t, fc)

	p.HandleFrame(context.Background(), encodeTestFrame(t, 64, 48))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.Len(t, fc.inputs, 1)
	in := fc.inputs[0]
	assert.Equal(t, 8, in.Width)
	assert.Equal(t, 8, in.Height)
	assert.Len(t, in.Pix, 8*8*3)
	// Normalized values stay in [0,1].
	for _, v := range in.Pix {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestHandleFrameDropsUndecodableFrame(t *testing.T) {
	fc := &fakeClassifier{result: signs.Result{Label: signs.LabelStop}}
	p, rec := newTestPipeline(t, fc)

	var logged []string
	monitoring.SetLogger(func(format string, v ...any) {
		logged = append(logged, format)
	})

	p.HandleFrame(context.Background(), bus.Frame{Data: []byte("not an image")})

	assert.Equal(t, 0, fc.Calls(), "classifier must not run on undecodable frames")
	assert.Empty(t, rec.Labels(), "no label published for a dropped frame")
	require.NotEmpty(t, logged)

	// The pipeline keeps working afterwards.
	monitoring.SetLogger(nil)
	p.HandleFrame(context.Background(), encodeTestFrame(t, 16, 16))
	assert.Len(t, rec.Labels(), 1)
}

func TestHandleFrameDropsOnClassifierError(t *testing.T) {
	fc := &fakeClassifier{err: errors.New("bad input shape")}
	p, rec := newTestPipeline(t, fc)

	p.HandleFrame(context.Background(), encodeTestFrame(t, 16, 16))

	assert.Equal(t, 1, fc.Calls())
	assert.Empty(t, rec.Labels())
	assert.Equal(t, uint64(1), p.FrameCount())
}

func TestDebugSampling(t *testing.T) {
	fc := &fakeClassifier{result: signs.Result{Label: signs.LabelNothing, Confidence: 0.5}}

	var mu sync.Mutex
	var logged []string
	monitoring.SetLogger(func(format string, v ...any) {
		mu.Lock()
		logged = append(logged, format)
		mu.Unlock()
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	rec := &labelRecorder{}
	p := NewPipeline(PipelineConfig{
		Classifier:    fc,
		Publisher:     rec,
		Clock:         timeutil.NewMockClock(time.Unix(0, 0)),
		DebugInterval: 3,
	})

	frame := encodeTestFrame(t, 16, 16)
	for i := 0; i < 9; i++ {
		p.HandleFrame(context.Background(), frame)
	}

	mu.Lock()
	defer mu.Unlock()
	count := 0
	for _, line := range logged {
		if strings.Contains(line, "class:") {
			count++
		}
	}
	assert.Equal(t, 3, count, "one diagnostic line per 3 frames")
}

func TestCaptureToggleDoesNotAffectPublication(t *testing.T) {
	fc := &fakeClassifier{result: signs.Result{Label: signs.LabelTurnLeft}}
	p, rec := newTestPipeline(t, fc)

	assert.True(t, p.CaptureEnabled(), "gate starts enabled")

	frame := encodeTestFrame(t, 16, 16)
	p.HandleFrame(context.Background(), frame)

	p.HandleCaptureToggle(false)
	assert.False(t, p.CaptureEnabled())
	p.HandleFrame(context.Background(), frame)

	p.HandleCaptureToggle(true)
	p.HandleFrame(context.Background(), frame)

	// Labels published for every frame regardless of the gate.
	assert.Len(t, rec.Labels(), 3)
}

func TestEnsureCaptureDirs(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	labels := []signs.Label{signs.LabelStop, signs.LabelGiveWay, signs.LabelNothing}

	require.NoError(t, EnsureCaptureDirs(mfs, "/captures", labels))

	for _, l := range labels {
		assert.True(t, mfs.Exists("/captures/"+string(l)), "missing dir for %s", l)
	}
}

func TestRunConsumesFramesAndToggles(t *testing.T) {
	fc := &fakeClassifier{result: signs.Result{Label: signs.LabelStop}}
	p, rec := newTestPipeline(t, fc)

	b := bus.New()
	defer b.Close()
	_, frames := b.Subscribe(bus.TopicFrames, 4)
	_, toggles := b.Subscribe(bus.TopicCaptureToggle, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, frames, toggles) }()

	b.Publish(bus.TopicFrames, encodeTestFrame(t, 16, 16))
	b.Publish(bus.TopicCaptureToggle, false)

	waitFor(t, func() bool {
		return len(rec.Labels()) == 1 && !p.CaptureEnabled()
	})

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

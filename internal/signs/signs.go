// Package signs defines the traffic-sign label vocabulary and the classifier
// capability the perception pipeline drives.
package signs

import (
	"context"
	"fmt"
	"strings"

	"github.com/rubot-data/signpilot/internal/fsutil"
)

// Label identifies a detected traffic sign. The classifier boundary is
// string-valued: these constants cover the trained vocabulary, but consumers
// must tolerate arbitrary strings and treat anything unrecognized as unknown.
type Label string

const (
	LabelStop      Label = "Stop"
	LabelGiveWay   Label = "Give_Way"
	LabelTurnLeft  Label = "Turn_Left"
	LabelTurnRight Label = "Turn_Right"

	// LabelNothing is the sentinel for "no sign detected".
	LabelNothing Label = "Nothing"
)

// Result is a single classification outcome. Confidence is informational
// only and never gates control decisions.
type Result struct {
	Label      Label
	Confidence float64
}

// Detection pairs a classification outcome with the frame that produced it,
// for the observation log and live observers.
type Detection struct {
	Frame      uint64  `json:"frame"`
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Tensor is a classifier input: RGB pixels row-major, channel-interleaved,
// normalized to [0,1].
type Tensor struct {
	Width  int
	Height int
	Pix    []float32
}

// Classifier converts a prepared image tensor into a labelled result.
// Implementations may fail (bad input shape, backend error); callers drop the
// frame and continue.
type Classifier interface {
	// InputSize returns the width and height the model expects.
	InputSize() (w, h int)

	// Classify runs inference on a single tensor.
	Classify(ctx context.Context, t Tensor) (Result, error)
}

// LoadLabels reads an ordered label list from a labels file. Each line is
// "<index> <name>"; the line order must match the model's output vector.
func LoadLabels(fs fsutil.FileSystem, path string) ([]Label, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels file: %w", err)
	}

	var labels []Label
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		_, name, found := strings.Cut(line, " ")
		if !found || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("malformed labels line %d: %q", i+1, line)
		}
		labels = append(labels, Label(strings.TrimSpace(name)))
	}

	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s contains no labels", path)
	}
	return labels, nil
}

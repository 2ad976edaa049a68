package signs

import (
	"context"
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/rubot-data/signpilot/internal/fsutil"
)

// modelFile is the on-disk shape of a linear sign model: one weight vector
// and bias per class, applied to the flattened RGB tensor.
type modelFile struct {
	Width   int          `json:"width"`
	Height  int          `json:"height"`
	Classes []modelClass `json:"classes"`
}

type modelClass struct {
	Label   string    `json:"label"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// LoadModel reads a linear model artifact and returns a classifier over its
// classes. The class order in the file defines the label order.
func LoadModel(fs fsutil.FileSystem, path string) (*VectorClassifier, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}

	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse model %s: %w", path, err)
	}
	if mf.Width <= 0 || mf.Height <= 0 {
		return nil, fmt.Errorf("model %s has invalid input size %dx%d", path, mf.Width, mf.Height)
	}
	if len(mf.Classes) == 0 {
		return nil, fmt.Errorf("model %s has no classes", path)
	}

	want := mf.Width * mf.Height * 3
	labels := make([]Label, len(mf.Classes))
	weights := make([][]float64, len(mf.Classes))
	biases := make([]float64, len(mf.Classes))
	for i, class := range mf.Classes {
		if class.Label == "" {
			return nil, fmt.Errorf("model %s class %d has no label", path, i)
		}
		if len(class.Weights) != want {
			return nil, fmt.Errorf("model %s class %q has %d weights, expected %d",
				path, class.Label, len(class.Weights), want)
		}
		labels[i] = Label(class.Label)
		weights[i] = class.Weights
		biases[i] = class.Bias
	}

	score := func(ctx context.Context, t Tensor) ([]float64, error) {
		pix := make([]float64, len(t.Pix))
		for i, v := range t.Pix {
			pix[i] = float64(v)
		}
		scores := make([]float64, len(weights))
		for i := range weights {
			scores[i] = floats.Dot(weights[i], pix) + biases[i]
		}
		return scores, nil
	}

	return NewVectorClassifier(labels, mf.Width, mf.Height, score)
}

package signs

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ScoreFunc produces the model's raw per-class score vector for a tensor.
// The vector is index-correlated with the label list the classifier was
// built with.
type ScoreFunc func(ctx context.Context, t Tensor) ([]float64, error)

// VectorClassifier adapts a score-vector model into a Classifier: the
// winning class is the argmax of the scores, and confidence is the winning
// score normalized by the vector sum.
type VectorClassifier struct {
	labels []Label
	width  int
	height int
	score  ScoreFunc
}

// NewVectorClassifier builds a VectorClassifier over the given ordered label
// list and expected input dimensions.
func NewVectorClassifier(labels []Label, width, height int, score ScoreFunc) (*VectorClassifier, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("label list is empty")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid input size %dx%d", width, height)
	}
	if score == nil {
		return nil, fmt.Errorf("score function is nil")
	}
	return &VectorClassifier{labels: labels, width: width, height: height, score: score}, nil
}

// InputSize returns the width and height the model expects.
func (c *VectorClassifier) InputSize() (int, int) {
	return c.width, c.height
}

// Classify runs the score function and maps the winning index to its label.
func (c *VectorClassifier) Classify(ctx context.Context, t Tensor) (Result, error) {
	if t.Width != c.width || t.Height != c.height {
		return Result{}, fmt.Errorf("input tensor is %dx%d, model expects %dx%d",
			t.Width, t.Height, c.width, c.height)
	}

	scores, err := c.score(ctx, t)
	if err != nil {
		return Result{}, fmt.Errorf("model inference failed: %w", err)
	}
	if len(scores) != len(c.labels) {
		return Result{}, fmt.Errorf("model returned %d scores for %d labels",
			len(scores), len(c.labels))
	}

	idx := floats.MaxIdx(scores)
	confidence := scores[idx]
	if sum := floats.Sum(scores); sum > 0 {
		confidence = scores[idx] / sum
	}
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	return Result{Label: c.labels[idx], Confidence: confidence}, nil
}

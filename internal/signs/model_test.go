package signs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubot-data/signpilot/internal/fsutil"
)

func TestLoadModelClassifies(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	// 1x1 input, two classes: one keyed to red, one to blue.
	model := `{
		"width": 1,
		"height": 1,
		"classes": [
			{"label": "Stop", "weights": [1, 0, 0], "bias": 0},
			{"label": "Nothing", "weights": [0, 0, 1], "bias": 0}
		]
	}`
	require.NoError(t, fs.WriteFile("model.json", []byte(model), 0644))

	classifier, err := LoadModel(fs, "model.json")
	require.NoError(t, err)

	w, h := classifier.InputSize()
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)

	red := Tensor{Width: 1, Height: 1, Pix: []float32{1, 0, 0}}
	result, err := classifier.Classify(context.Background(), red)
	require.NoError(t, err)
	assert.Equal(t, LabelStop, result.Label)

	blue := Tensor{Width: 1, Height: 1, Pix: []float32{0, 0, 1}}
	result, err = classifier.Classify(context.Background(), blue)
	require.NoError(t, err)
	assert.Equal(t, LabelNothing, result.Label)
}

func TestLoadModelErrors(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()

	cases := []struct {
		name    string
		content string
	}{
		{"missing file", ""},
		{"bad json", `{"width": 1`},
		{"zero size", `{"width": 0, "height": 1, "classes": [{"label": "Stop", "weights": []}]}`},
		{"no classes", `{"width": 1, "height": 1, "classes": []}`},
		{"wrong weight count", `{"width": 1, "height": 1, "classes": [{"label": "Stop", "weights": [1, 2]}]}`},
		{"unnamed class", `{"width": 1, "height": 1, "classes": [{"label": "", "weights": [1, 2, 3]}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := "model.json"
			if tc.content != "" {
				require.NoError(t, fs.WriteFile(path, []byte(tc.content), 0644))
			} else {
				path = "absent.json"
			}
			_, err := LoadModel(fs, path)
			assert.Error(t, err)
		})
	}
}

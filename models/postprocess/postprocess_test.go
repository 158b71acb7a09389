package postprocess

import (
	"testing"

	"github.com/nvr-ai/aovek/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeGrid(t *testing.T) {
	grid := []float32{
		0.5, 0.5, 0.2, 0.2, 0.6, 1,
		0.1, 0.1, 0.1, 0.1, 0.2, 1,
		0.7, 0.3, 0.1, 0.3, 0.9, 1,
		0.2, 0.8, 0.1, 0.1, 0.5, 0,
	}

	results, err := DecodeGrid(grid, 6, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 2, results[0].Cell)
	assert.Equal(t, float32(0.9), results[0].Score)
	assert.Equal(t, common.CenterBox{CX: 0.7, CY: 0.3, W: 0.1, H: 0.3}, results[0].Box)
	assert.Equal(t, 0, results[1].Cell)
	assert.Equal(t, 3, results[2].Cell, "threshold is inclusive")

	boxes := Boxes(results)
	assert.Len(t, boxes, 3)
	assert.Equal(t, results[1].Box, boxes[1])
}

func TestDecodeGridClasses(t *testing.T) {
	grid := []float32{0.5, 0.5, 0.2, 0.2, 0.8, 0.1, 0.7, 0.2}

	results, err := DecodeGrid(grid, 8, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Class)
}

func TestDecodeGridBadWidth(t *testing.T) {
	_, err := DecodeGrid(make([]float32, 7), 6, 0.5)
	assert.True(t, errors.Is(err, ErrGridWidth))

	_, err = DecodeGrid(make([]float32, 8), 4, 0.5)
	assert.True(t, errors.Is(err, ErrGridWidth))
}

// TestApplyGreedyNMS validates suppression of overlapping detections.
//
// @example
// go test -v -run TestApplyGreedyNMS
func TestApplyGreedyNMS(t *testing.T) {
	detections := []Result{
		{Box: common.CenterBox{CX: 0.5, CY: 0.5, W: 0.2, H: 0.2}, Score: 0.9, Class: 0},
		{Box: common.CenterBox{CX: 0.51, CY: 0.5, W: 0.2, H: 0.2}, Score: 0.8, Class: 0},
		{Box: common.CenterBox{CX: 0.2, CY: 0.2, W: 0.1, H: 0.1}, Score: 0.7, Class: 0},
		{Box: common.CenterBox{CX: 0.5, CY: 0.51, W: 0.2, H: 0.2}, Score: 0.6, Class: 1},
	}

	tests := []struct {
		name     string
		config   NMSConfig
		expected []float32
	}{
		{
			name:     "class agnostic",
			config:   NMSConfig{IoUThreshold: 0.5},
			expected: []float32{0.9, 0.7},
		},
		{
			name:     "class aware",
			config:   NMSConfig{IoUThreshold: 0.5, ClassAware: true},
			expected: []float32{0.9, 0.7, 0.6},
		},
		{
			name:     "threshold above every overlap",
			config:   NMSConfig{IoUThreshold: 0.99},
			expected: []float32{0.9, 0.8, 0.7, 0.6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyGreedyNMS(detections, &tt.config)
			scores := make([]float32, len(got))
			for i, r := range got {
				scores[i] = r.Score
			}
			assert.Equal(t, tt.expected, scores)
		})
	}

	assert.Nil(t, ApplyGreedyNMS(nil, &NMSConfig{IoUThreshold: 0.5}))
}

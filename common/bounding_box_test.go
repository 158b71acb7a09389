package common

import (
	"image"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCenterBoxToCorners verifies center-form to corner-form conversion in pixel units.
//
// @example
// go test -v -run TestCenterBoxToCorners
func TestCenterBoxToCorners(t *testing.T) {
	tests := []struct {
		name     string
		box      CenterBox
		size     int
		expected BoundingBox
	}{
		{
			name:     "centered person on a 100px image",
			box:      CenterBox{CX: 0.5, CY: 0.5, W: 0.2, H: 0.2},
			size:     100,
			expected: BoundingBox{X1: 40, Y1: 40, X2: 60, Y2: 60},
		},
		{
			name:     "zero size collapses to a point",
			box:      CenterBox{CX: 0.25, CY: 0.75, W: 0, H: 0},
			size:     200,
			expected: BoundingBox{X1: 50, Y1: 150, X2: 50, Y2: 150},
		},
		{
			name:     "negative size swaps endpoints without clamping",
			box:      CenterBox{CX: 0.5, CY: 0.5, W: -0.2, H: 0.2},
			size:     100,
			expected: BoundingBox{X1: 60, Y1: 40, X2: 40, Y2: 60},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.box.ToCorners(tt.size)
			assert.InDelta(t, tt.expected.X1, got.X1, 1e-4)
			assert.InDelta(t, tt.expected.Y1, got.Y1, 1e-4)
			assert.InDelta(t, tt.expected.X2, got.X2, 1e-4)
			assert.InDelta(t, tt.expected.Y2, got.Y2, 1e-4)
		})
	}
}

// TestIoU validates IoU against known overlaps and its invariants.
//
// @example
// go test -v -run TestIoU
func TestIoU(t *testing.T) {
	tests := []struct {
		name     string
		a, b     BoundingBox
		expected float32
	}{
		{
			name:     "identical boxes",
			a:        BoundingBox{X1: 40, Y1: 40, X2: 60, Y2: 60},
			b:        BoundingBox{X1: 40, Y1: 40, X2: 60, Y2: 60},
			expected: 1,
		},
		{
			name:     "no overlap",
			a:        BoundingBox{X1: 40, Y1: 40, X2: 60, Y2: 60},
			b:        BoundingBox{X1: 70, Y1: 70, X2: 90, Y2: 90},
			expected: 0,
		},
		{
			name:     "touching edges",
			a:        BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100},
			b:        BoundingBox{X1: 100, Y1: 0, X2: 200, Y2: 100},
			expected: 0,
		},
		{
			name:     "partial overlap",
			a:        BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100},
			b:        BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150},
			expected: 2500.0 / 17500.0,
		},
		{
			name:     "one inside the other",
			a:        BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100},
			b:        BoundingBox{X1: 25, Y1: 25, X2: 75, Y2: 75},
			expected: 0.25,
		},
		{
			name:     "zero width box",
			a:        BoundingBox{X1: 10, Y1: 0, X2: 10, Y2: 100},
			b:        BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100},
			expected: 0,
		},
		{
			name:     "two empty boxes",
			a:        BoundingBox{X1: 5, Y1: 5, X2: 5, Y2: 5},
			b:        BoundingBox{X1: 5, Y1: 5, X2: 5, Y2: 5},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IoU(tt.a, tt.b)
			assert.InDelta(t, tt.expected, got, 1e-5)
			assert.InDelta(t, got, IoU(tt.b, tt.a), 1e-6, "IoU should be symmetric")
			assert.GreaterOrEqual(t, got, float32(0))
			assert.LessOrEqual(t, got, float32(1))
		})
	}
}

func TestIoUEndpointSwap(t *testing.T) {
	a := BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}
	b := BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}
	swapped := BoundingBox{X1: 150, Y1: 150, X2: 50, Y2: 50}

	assert.InDelta(t, IoU(a, b), IoU(a, swapped), 1e-6)
	assert.Equal(t, b.Normalize().X1, swapped.Normalize().X1)
	assert.Equal(t, float32(10000), swapped.Area())
}

func TestBatchIoU(t *testing.T) {
	a := []BoundingBox{
		{X1: 40, Y1: 40, X2: 60, Y2: 60},
		{X1: 0, Y1: 0, X2: 100, Y2: 100},
	}
	b := []BoundingBox{
		{X1: 40, Y1: 40, X2: 60, Y2: 60},
		{X1: 200, Y1: 200, X2: 300, Y2: 300},
	}

	got, err := BatchIoU(a, b)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 1.0, got[0], 1e-6)
	assert.InDelta(t, 0.0, got[1], 1e-6)

	_, err = BatchIoU(a, b[:1])
	assert.True(t, errors.Is(err, ErrBatchLength))
}

func TestBoundingBoxToRect(t *testing.T) {
	box := BoundingBox{X1: 100, Y1: 100, X2: 0, Y2: 10.7}
	assert.Equal(t, image.Rect(0, 10, 100, 100), box.ToRect())
}

func TestBoundingBoxString(t *testing.T) {
	box := BoundingBox{Label: "person", Confidence: 0.95, X1: 100.123, Y1: 200.456, X2: 300.789, Y2: 400.012}
	assert.Equal(t, "Object person (confidence 0.950000): (100.12, 200.46), (300.79, 400.01)", box.String())
}

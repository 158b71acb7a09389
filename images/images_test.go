package images

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/aovek/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func getTestImage() image.Image {
	// A 100x100 red image with a blue top-left pixel.
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 0, A: 255})
		}
	}
	img.Set(0, 0, color.RGBA{R: 0, G: 0, B: 255, A: 255})
	return img
}

func getPNGBytes(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, getTestImage()))
	return buf.Bytes()
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path     string
		expected ImageFormat
		err      bool
	}{
		{path: "a/b/frame-1.jpg", expected: FormatJPEG},
		{path: "frame.JPEG", expected: FormatJPEG},
		{path: "frame.png", expected: FormatPNG},
		{path: "frame.webp", expected: FormatWebP},
		{path: "frame.bmp", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatOf(tt.path)
			if tt.err {
				assert.True(t, errors.Is(err, ErrUnsupportedFormat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDecode(t *testing.T) {
	img, err := Decode(getPNGBytes(t), FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 100), img.Bounds())

	_, err = Decode([]byte("not a png"), FormatPNG)
	assert.Error(t, err)

	_, err = Decode(nil, FormatPNG)
	assert.Error(t, err)

	_, err = Decode(getPNGBytes(t), ImageFormat("gif"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestToTensor(t *testing.T) {
	got := ToTensor(getTestImage())
	assert.Equal(t, tensor.Shape{1, 100, 100, 3}, got.Shape())

	data := got.Data().([]float32)
	assert.Equal(t, []float32{0, 0, 1}, data[0:3])
	assert.Equal(t, []float32{1, 0, 0}, data[3:6])
}

func TestResizeSquare(t *testing.T) {
	got := ResizeSquare(getTestImage(), 32)
	assert.Equal(t, 32, got.Bounds().Dx())
	assert.Equal(t, 32, got.Bounds().Dy())
}

func TestLoadTensor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame-1.png")
	require.NoError(t, os.WriteFile(path, getPNGBytes(t), 0o644))

	got, err := LoadTensor(path, 16)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 16, 16, 3}, got.Shape())
	for _, v := range got.Data().([]float32) {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}

	_, err = LoadTensor(filepath.Join(t.TempDir(), "missing.png"), 16)
	assert.Error(t, err)
}

func TestFromTensor(t *testing.T) {
	img, err := FromTensor(ToTensor(getTestImage()))
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0, G: 0, B: 255, A: 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 255, G: 0, B: 0, A: 255}, img.RGBAAt(50, 50))

	gray := tensor.New(tensor.WithShape(1, 1, 2, 1), tensor.WithBacking([]float32{0.5, 2}))
	img, err = FromTensor(gray)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 128, G: 128, B: 128, A: 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, img.RGBAAt(1, 0))

	_, err = FromTensor(tensor.New(tensor.WithShape(2, 3), tensor.WithBacking(make([]float32, 6))))
	assert.Error(t, err)
}

func TestRectangles(t *testing.T) {
	boxes := []common.BoundingBox{
		{X1: 40, Y1: 40, X2: 60, Y2: 60, Confidence: 0.9},
		{X1: -10, Y1: 90, X2: 20, Y2: 120, Confidence: 0.8},
		{X1: 150, Y1: 150, X2: 200, Y2: 200, Confidence: 0.7},
		{X1: 60, Y1: 60, X2: 40, Y2: 40, Confidence: 0.6},
	}

	got := rectangles(boxes, 100)
	require.Len(t, got, 3)
	assert.Equal(t, image.Rect(40, 40, 60, 60), got[0].Rect)
	assert.Equal(t, image.Rect(0, 90, 20, 100), got[1].Rect)
	assert.Equal(t, float32(0.8), got[1].Box.Confidence)
	assert.Equal(t, image.Rect(40, 40, 60, 60), got[2].Rect)
	assert.Equal(t, float32(0.6), got[2].Box.Confidence)
}

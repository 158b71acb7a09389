package onnx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/aovek/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Network.Predict.NMSThreshold = 0.4
	cfg.Network.ONNXRuntimeLibrary = "/opt/ort/libonnxruntime.so"

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, "model.onnx", opts.ModelPath)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", opts.LibraryPath)
	assert.Equal(t, "input", opts.InputName)
	assert.Equal(t, 448*448*3, opts.inputSize())
	assert.Equal(t, 14*14*6, opts.outputSize())
	assert.Equal(t, float32(0.4), opts.NMSThreshold)
}

func TestDecode(t *testing.T) {
	grid := []float32{
		0.5, 0.5, 0.2, 0.2, 0.9, 1,
		0.51, 0.5, 0.2, 0.2, 0.8, 1,
		0.1, 0.1, 0.1, 0.1, 0.7, 1,
		0.9, 0.9, 0.1, 0.1, 0.1, 1,
	}
	opts := Options{CellWidth: 6, ProbThreshold: 0.5}

	results, err := Decode(grid, opts)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	opts.NMSThreshold = 0.5
	results, err = Decode(grid, opts)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, float32(0.9), results[0].Score)
	assert.Equal(t, float32(0.7), results[1].Score)
}

func TestNewModelMissingFile(t *testing.T) {
	_, err := NewModel(Options{ModelPath: filepath.Join(t.TempDir(), "model.onnx")})
	assert.Error(t, err)
}

func TestClosedModel(t *testing.T) {
	m := &Model{opts: Options{ImageSize: 1, ColorChannels: 3, GridSize: 1, CellWidth: 6}}
	require.NoError(t, m.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.PredictGrid(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

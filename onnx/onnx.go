// Package onnx - Grid detector backed by an ONNX Runtime session.
package onnx

import (
	"context"
	"os"
	"sync"

	"github.com/nvr-ai/aovek/common"
	"github.com/nvr-ai/aovek/models/postprocess"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// ErrInputShape is returned when an image does not match the model input.
var ErrInputShape = errors.New("image does not match model input")

// Model runs the exported grid detector.
//
// The session binds preallocated tensors, so one Run executes at a time.
type Model struct {
	opts    Options
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewModel creates an ONNX Runtime session for the model.
//
// Order of operations:
//  1. Library path check.
//  2. Environment setup, once per process.
//  3. Tensor allocation for the (1, S, S, C) input and (1, G, G, W) output.
//  4. Session creation binding the tensors.
//
// Arguments:
//   - opts: The model options.
//
// Returns:
//   - *Model: The model. Close releases its native resources.
//   - error: An error if the session creation fails.
//
// @example
// model, err := onnx.NewModel(onnx.OptionsFromConfig(cfg))
// defer model.Close()
func NewModel(opts Options) (*Model, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model file %s", opts.ModelPath)
	}

	libPath := opts.LibraryPath
	if libPath == "" {
		libPath = GetSharedLibPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return nil, errors.Wrapf(err, "ONNX Runtime library %q", libPath)
	}

	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "initializing ORT environment")
		}
	}

	input, err := ort.NewEmptyTensor[float32](
		ort.NewShape(1, int64(opts.ImageSize), int64(opts.ImageSize), int64(opts.ColorChannels)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](
		ort.NewShape(1, int64(opts.GridSize), int64(opts.GridSize), int64(opts.CellWidth)),
	)
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "creating output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "creating ORT session options")
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "creating ORT session")
	}

	return &Model{opts: opts, session: session, input: input, output: output}, nil
}

// PredictGrid runs the model on a batch of one image.
//
// Arguments:
//   - ctx: Checked before the run.
//   - image: The image, 1 x S x S x C float32.
//
// Returns:
//   - *tensor.Dense: The raw output, 1 x cells x cellWidth.
//   - error: ErrInputShape or a runtime error.
func (m *Model) PredictGrid(ctx context.Context, image *tensor.Dense) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := image.Data().([]float32)
	if !ok || len(data) != m.opts.inputSize() {
		return nil, errors.Wrapf(ErrInputShape, "got %v %v", image.Dtype(), image.Shape())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, errors.New("model closed")
	}

	copy(m.input.GetData(), data)
	if err := m.session.Run(); err != nil {
		return nil, errors.Wrap(err, "running ORT session")
	}

	out := make([]float32, m.opts.outputSize())
	copy(out, m.output.GetData())
	cells := m.opts.GridSize * m.opts.GridSize
	return tensor.New(tensor.WithShape(1, cells, m.opts.CellWidth), tensor.WithBacking(out)), nil
}

// Detect runs the model and decodes its output into scored detections.
func (m *Model) Detect(ctx context.Context, image *tensor.Dense) ([]postprocess.Result, error) {
	grid, err := m.PredictGrid(ctx, image)
	if err != nil {
		return nil, err
	}
	return Decode(grid.Data().([]float32), m.opts)
}

// PredictBoxes returns the normalized center-form boxes the model finds in the image.
func (m *Model) PredictBoxes(ctx context.Context, image *tensor.Dense) ([]common.CenterBox, error) {
	results, err := m.Detect(ctx, image)
	if err != nil {
		return nil, err
	}
	return postprocess.Boxes(results), nil
}

// Decode thresholds a grid output and, when enabled, applies greedy NMS.
func Decode(grid []float32, opts Options) ([]postprocess.Result, error) {
	results, err := postprocess.DecodeGrid(grid, opts.CellWidth, opts.ProbThreshold)
	if err != nil {
		return nil, err
	}
	if opts.NMSThreshold > 0 {
		results = postprocess.ApplyGreedyNMS(results, &postprocess.NMSConfig{IoUThreshold: opts.NMSThreshold})
	}
	return results, nil
}

// Close releases the session and its tensors.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.input != nil {
		m.input.Destroy()
		m.input = nil
	}
	if m.output != nil {
		m.output.Destroy()
		m.output = nil
	}
	if m.session != nil {
		err := m.session.Destroy()
		m.session = nil
		if err != nil {
			return errors.Wrap(err, "destroying ORT session")
		}
	}
	return nil
}

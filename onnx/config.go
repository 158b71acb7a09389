package onnx

import (
	"github.com/nvr-ai/aovek/config"
)

// Options configures an ONNX grid detector.
type Options struct {
	// ModelPath is the path of the exported ONNX model.
	ModelPath string
	// LibraryPath overrides the platform default ONNX Runtime shared library.
	LibraryPath string
	// InputName and OutputName are the model's node names.
	InputName  string
	OutputName string
	// ImageSize and ColorChannels give the NHWC input shape (1, S, S, C).
	ImageSize     int
	ColorChannels int
	// GridSize and CellWidth give the output shape (1, G, G, W).
	GridSize  int
	CellWidth int
	// ProbThreshold is the minimum objectness of a detection.
	ProbThreshold float32
	// NMSThreshold enables greedy NMS when greater than zero.
	NMSThreshold float32
}

// OptionsFromConfig builds the detector options from the application configuration.
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		ModelPath:     c.Network.ModelBinaryDataFile,
		LibraryPath:   c.Network.ONNXRuntimeLibrary,
		InputName:     c.Network.Predict.InputName,
		OutputName:    c.Network.Predict.OutputName,
		ImageSize:     c.ImageInfo.ImageSize,
		ColorChannels: c.ImageInfo.ColorChannels,
		GridSize:      c.LabelInfo.GridSize,
		CellWidth:     c.CellWidth(),
		ProbThreshold: c.Network.Predict.ProbThreshold,
		NMSThreshold:  c.Network.Predict.NMSThreshold,
	}
}

// inputSize returns the number of values of one input image.
func (o Options) inputSize() int {
	return o.ImageSize * o.ImageSize * o.ColorChannels
}

// outputSize returns the number of values of one grid output.
func (o Options) outputSize() int {
	return o.GridSize * o.GridSize * o.CellWidth
}

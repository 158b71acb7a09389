// Package config - JSON configuration shared by evaluation, prediction and the loss.
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

var (
	// ErrMissingKey is returned when a required configuration key is absent or zero.
	ErrMissingKey = errors.New("missing configuration key")
	// ErrInvalidValue is returned when a configuration key holds an out-of-range value.
	ErrInvalidValue = errors.New("invalid configuration value")
)

// BoxAnnotations is the number of box values leading every cell (x, y, w, h).
// Objectness always follows them.
const BoxAnnotations = 4

// Split names, in the order they are evaluated.
const (
	SplitTrain      = "train"
	SplitValidation = "validation"
	SplitTest       = "test"
)

// Config is the root of the JSON configuration file.
type Config struct {
	// ImageInfo describes the network input images.
	ImageInfo ImageInfo `json:"image_info"`
	// LabelInfo describes the per-cell label layout.
	LabelInfo LabelInfo `json:"label_info"`
	// Network holds prediction, training and model file settings.
	Network Network `json:"network"`
	// Dataset holds the persisted split locations.
	Dataset Dataset `json:"dataset"`
}

// ImageInfo describes the square network input.
type ImageInfo struct {
	// ImageSize is the side of the square input in pixels.
	ImageSize int `json:"image_size"`
	// ColorChannels is the number of channels per pixel.
	ColorChannels int `json:"color_channels"`
}

// LabelInfo describes the grid and the width of every label cell.
type LabelInfo struct {
	// GridSize is the number of cells along one side of the output grid.
	GridSize int `json:"grid_size"`
	// NumberOfClasses is the number of class probabilities per cell.
	NumberOfClasses int `json:"number_of_classes"`
	// NumberOfAnnotations is the number of box values per cell (cx, cy, w, h).
	NumberOfAnnotations int `json:"number_of_annotations"`
}

// Network groups the model settings.
type Network struct {
	Predict Predict `json:"predict"`
	Train   Train   `json:"train"`
	// ModelBinaryDataFile is the path of the exported ONNX model.
	ModelBinaryDataFile string `json:"model_binary_data_file"`
	// JSONModelStructure is the path of the model structure description.
	JSONModelStructure string `json:"json_model_structure"`
	// ONNXRuntimeLibrary overrides the platform default shared library path.
	ONNXRuntimeLibrary string `json:"onnxruntime_library"`
}

// Predict holds prediction and evaluation thresholds.
type Predict struct {
	// IoUThreshold is the minimum IoU for a ground truth to count as matched.
	IoUThreshold float32 `json:"iou_threshold"`
	// ProbThreshold is the minimum objectness for a cell to become a detection.
	ProbThreshold float32 `json:"prob_threshold"`
	// NMSThreshold enables greedy NMS on decoded detections when greater than zero.
	NMSThreshold float32 `json:"nms_threshold"`
	// Workers bounds evaluation parallelism (0 = GOMAXPROCS).
	Workers int `json:"workers"`
	// InputName is the ONNX input node name.
	InputName string `json:"input_name"`
	// OutputName is the ONNX output node name.
	OutputName string `json:"output_name"`
}

// Train holds the training hyperparameters.
type Train struct {
	BatchSize      int       `json:"batch_size"`
	NumberOfEpochs int       `json:"number_of_epochs"`
	Loss           Loss      `json:"loss"`
	Optimizer      Optimizer `json:"optimizer"`
}

// Loss holds the loss term weights.
type Loss struct {
	AlphaCoord float32 `json:"alpha_coord"`
	AlphaNoObj float32 `json:"alpha_noobj"`
}

// Optimizer holds the SGD settings.
type Optimizer struct {
	LearningRate float64 `json:"learning_rate"`
	Momentum     float64 `json:"momentum"`
	Decay        float64 `json:"decay"`
}

// Dataset holds the persisted split locations.
type Dataset struct {
	PickleName SplitFiles `json:"pickle_name"`
}

// SplitFiles maps every split to its archive path.
type SplitFiles struct {
	Train      string `json:"train"`
	Validation string `json:"validation"`
	Test       string `json:"test"`
}

// SplitPath names the archive of one split.
type SplitPath struct {
	Name string
	Path string
}

// DefaultConfig returns the configuration of the reference person detector.
//
// Returns:
//   - *Config: A valid configuration.
//
// @example
// cfg := DefaultConfig()
// cfg.Network.ModelBinaryDataFile = "model.onnx"
func DefaultConfig() *Config {
	return &Config{
		ImageInfo: ImageInfo{ImageSize: 448, ColorChannels: 3},
		LabelInfo: LabelInfo{GridSize: 14, NumberOfClasses: 1, NumberOfAnnotations: 4},
		Network: Network{
			Predict: Predict{
				IoUThreshold:  0.5,
				ProbThreshold: 0.5,
				InputName:     "input",
				OutputName:    "output",
			},
			Train: Train{
				BatchSize:      32,
				NumberOfEpochs: 100,
				Loss:           Loss{AlphaCoord: 5, AlphaNoObj: 0.5},
				Optimizer:      Optimizer{LearningRate: 0.001, Momentum: 0.9, Decay: 0.0005},
			},
			ModelBinaryDataFile: "model.onnx",
			JSONModelStructure:  "model.json",
		},
		Dataset: Dataset{
			PickleName: SplitFiles{
				Train:      "train.npz",
				Validation: "validation.npz",
				Test:       "test.npz",
			},
		},
	}
}

// Load reads and validates a JSON configuration file.
//
// Arguments:
//   - path: The configuration file path.
//
// Returns:
//   - *Config: The validated configuration.
//   - error: A read, decode or validation error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	return Parse(data)
}

// Parse decodes and validates a JSON configuration.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Network.Predict.InputName == "" {
		c.Network.Predict.InputName = "input"
	}
	if c.Network.Predict.OutputName == "" {
		c.Network.Predict.OutputName = "output"
	}
}

// Validate reports the first missing or out-of-range required key.
//
// Returns:
//   - error: ErrMissingKey or ErrInvalidValue wrapped with the key name, or nil.
func (c *Config) Validate() error {
	positive := []struct {
		key   string
		value int
	}{
		{"image_info.image_size", c.ImageInfo.ImageSize},
		{"image_info.color_channels", c.ImageInfo.ColorChannels},
		{"label_info.grid_size", c.LabelInfo.GridSize},
		{"label_info.number_of_annotations", c.LabelInfo.NumberOfAnnotations},
		{"network.train.batch_size", c.Network.Train.BatchSize},
	}
	for _, p := range positive {
		if p.value == 0 {
			return errors.Wrap(ErrMissingKey, p.key)
		}
		if p.value < 0 {
			return errors.Wrapf(ErrInvalidValue, "%s: %d", p.key, p.value)
		}
	}

	if c.LabelInfo.NumberOfAnnotations != BoxAnnotations {
		return errors.Wrapf(ErrInvalidValue, "label_info.number_of_annotations: %d, want %d",
			c.LabelInfo.NumberOfAnnotations, BoxAnnotations)
	}
	if c.LabelInfo.NumberOfClasses < 0 {
		return errors.Wrapf(ErrInvalidValue, "label_info.number_of_classes: %d", c.LabelInfo.NumberOfClasses)
	}
	if c.Network.Predict.Workers < 0 {
		return errors.Wrapf(ErrInvalidValue, "network.predict.workers: %d", c.Network.Predict.Workers)
	}

	thresholds := []struct {
		key   string
		value float32
	}{
		{"network.predict.iou_threshold", c.Network.Predict.IoUThreshold},
		{"network.predict.prob_threshold", c.Network.Predict.ProbThreshold},
	}
	for _, th := range thresholds {
		if th.value == 0 {
			return errors.Wrap(ErrMissingKey, th.key)
		}
		if th.value < 0 || th.value > 1 {
			return errors.Wrapf(ErrInvalidValue, "%s: %v", th.key, th.value)
		}
	}
	if c.Network.Predict.NMSThreshold < 0 || c.Network.Predict.NMSThreshold > 1 {
		return errors.Wrapf(ErrInvalidValue, "network.predict.nms_threshold: %v", c.Network.Predict.NMSThreshold)
	}

	if c.Network.Train.Loss.AlphaCoord < 0 {
		return errors.Wrapf(ErrInvalidValue, "network.train.loss.alpha_coord: %v", c.Network.Train.Loss.AlphaCoord)
	}
	if c.Network.Train.Loss.AlphaNoObj < 0 {
		return errors.Wrapf(ErrInvalidValue, "network.train.loss.alpha_noobj: %v", c.Network.Train.Loss.AlphaNoObj)
	}

	if c.Network.ModelBinaryDataFile == "" {
		return errors.Wrap(ErrMissingKey, "network.model_binary_data_file")
	}
	for _, s := range c.SplitPaths() {
		if s.Path == "" {
			return errors.Wrap(ErrMissingKey, "dataset.pickle_name."+s.Name)
		}
	}
	return nil
}

// Cells returns the number of grid cells per image.
func (c *Config) Cells() int {
	return c.LabelInfo.GridSize * c.LabelInfo.GridSize
}

// CellWidth returns the number of values per label cell: box, objectness and classes.
func (c *Config) CellWidth() int {
	return c.LabelInfo.NumberOfAnnotations + 1 + c.LabelInfo.NumberOfClasses
}

// SplitPaths returns the split archives in evaluation order.
func (c *Config) SplitPaths() []SplitPath {
	return []SplitPath{
		{Name: SplitTrain, Path: c.Dataset.PickleName.Train},
		{Name: SplitValidation, Path: c.Dataset.PickleName.Validation},
		{Name: SplitTest, Path: c.Dataset.PickleName.Test},
	}
}

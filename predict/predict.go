// Package predict - Renders model predictions for dataset splits and image folders.
package predict

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nvr-ai/aovek/common"
	"github.com/nvr-ai/aovek/config"
	"github.com/nvr-ai/aovek/dataset"
	"github.com/nvr-ai/aovek/evaluation"
	"github.com/nvr-ai/aovek/images"
	"github.com/nvr-ai/aovek/models/postprocess"
	"github.com/nvr-ai/aovek/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// Label is the class name drawn on every detection.
const Label = "person"

// Detector produces scored detections for a batch of one image.
type Detector interface {
	Detect(ctx context.Context, image *tensor.Dense) ([]postprocess.Result, error)
}

// RenderFunc draws predictions and ground truth on an image and writes it to out.
type RenderFunc func(img *tensor.Dense, predictions, groundTruth []common.BoundingBox, out string) error

// Runner writes annotated prediction images.
type Runner struct {
	Config    *config.Config
	Model     Detector
	Logger    *logrus.Logger
	OutputDir string
	// Render defaults to images.Annotate.
	Render RenderFunc
}

// NewRunner creates a runner writing PNG files under outputDir.
func NewRunner(cfg *config.Config, model Detector, logger *logrus.Logger, outputDir string) *Runner {
	return &Runner{Config: cfg, Model: model, Logger: logger, OutputDir: outputDir, Render: images.Annotate}
}

// Predictions converts detections to pixel corner-form boxes carrying their score.
func Predictions(results []postprocess.Result, imageSize int) []common.BoundingBox {
	out := make([]common.BoundingBox, len(results))
	for i, r := range results {
		box := r.Box.ToCorners(imageSize)
		box.Label = Label
		box.Confidence = r.Score
		out[i] = box
	}
	return out
}

// RunSplit renders every image of the split with its predictions and ground truth.
//
// Files are written to OutputDir/<split>/<index>.png.
//
// Arguments:
//   - ctx: Cancels the run between images.
//   - split: The split to render.
//
// Returns:
//   - int: The number of images written.
//   - error: A prediction, label or write error.
func (r *Runner) RunSplit(ctx context.Context, split *dataset.Split) (int, error) {
	dir := filepath.Join(r.OutputDir, split.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.Wrapf(err, "creating %s", dir)
	}

	size := r.Config.ImageInfo.ImageSize
	for i := 0; i < split.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		img, err := split.Image(i)
		if err != nil {
			return i, err
		}
		rows, err := split.LabelRows(i, r.Config.CellWidth())
		if err != nil {
			return i, err
		}
		out := filepath.Join(dir, strconv.Itoa(i)+".png")
		if err := r.render(ctx, img, evaluation.GroundTruth(rows, size), out); err != nil {
			return i, errors.Wrapf(err, "split %s image %d", split.Name, i)
		}
	}

	r.Logger.WithFields(logrus.Fields{"split": split.Name, "images": split.Len(), "dir": dir}).Info("Predictions written")
	return split.Len(), nil
}

// RunDirectory renders every image file of a directory with its predictions.
//
// Files are written to OutputDir/<name>.png.
func (r *Runner) RunDirectory(ctx context.Context, dir string) (int, error) {
	files, err := util.LoadDirectoryImageFiles(dir)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return 0, errors.Wrapf(err, "creating %s", r.OutputDir)
	}

	for n, f := range files {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		format, err := images.FormatOf(f.Path)
		if err != nil {
			return n, err
		}
		img, err := images.DecodeTensor(f.Data, format, r.Config.ImageInfo.ImageSize)
		if err != nil {
			return n, errors.Wrap(err, f.Path)
		}
		out := filepath.Join(r.OutputDir, f.Name()+".png")
		if err := r.render(ctx, img, nil, out); err != nil {
			return n, errors.Wrap(err, f.Path)
		}
	}

	r.Logger.WithFields(logrus.Fields{"dir": dir, "images": len(files), "output": r.OutputDir}).Info("Predictions written")
	return len(files), nil
}

func (r *Runner) render(ctx context.Context, img *tensor.Dense, groundTruth []common.BoundingBox, out string) error {
	results, err := r.Model.Detect(ctx, img)
	if err != nil {
		return errors.Wrap(err, "predicting")
	}
	predictions := Predictions(results, r.Config.ImageInfo.ImageSize)

	r.Logger.WithFields(logrus.Fields{"file": out, "detections": len(predictions)}).Debug("Rendering")
	for _, p := range predictions {
		r.Logger.Debug(p.String())
	}

	render := r.Render
	if render == nil {
		render = images.Annotate
	}
	return render(img, predictions, groundTruth, out)
}

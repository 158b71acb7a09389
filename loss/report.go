package loss

import (
	"context"

	"github.com/nvr-ai/aovek/dataset"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// GridPredictor produces the raw grid output for a batch of one image.
type GridPredictor interface {
	PredictGrid(ctx context.Context, image *tensor.Dense) (*tensor.Dense, error)
}

// Reporter evaluates the loss of a model over whole dataset splits.
type Reporter struct {
	Config    Config
	BatchSize int
	Model     GridPredictor
	Logger    *logrus.Logger
}

// Report sums the loss of every batch of the split.
//
// Arguments:
//   - ctx: Cancels the report between images.
//   - split: The split to evaluate.
//
// Returns:
//   - Value: The per-term loss summed over all batches.
//   - error: A prediction or shape error.
func (r *Reporter) Report(ctx context.Context, split *dataset.Split) (Value, error) {
	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = split.Len()
	}

	var total Value
	for start := 0; start < split.Len(); start += batchSize {
		end := min(start+batchSize, split.Len())

		v, err := r.batch(ctx, split, start, end)
		if err != nil {
			return Value{}, errors.Wrapf(err, "split %s batch [%d, %d)", split.Name, start, end)
		}
		r.Logger.WithFields(logrus.Fields{
			"split": split.Name,
			"start": start,
			"end":   end,
			"loss":  v.Total,
		}).Debug("Batch loss")
		total = total.Add(v)
	}

	r.Logger.WithFields(logrus.Fields{
		"split": split.Name,
		"loss":  total.Total,
		"coord": total.Coord,
		"dim":   total.Dim,
		"obj":   total.Obj,
		"noobj": total.NoObj,
		"class": total.Class,
	}).Info("Split loss")
	return total, nil
}

func (r *Reporter) batch(ctx context.Context, split *dataset.Split, start, end int) (Value, error) {
	truth, err := split.LabelBatch(start, end)
	if err != nil {
		return Value{}, err
	}
	per := truth.Shape()[1]

	backing := make([]float32, 0, (end-start)*per)
	for i := start; i < end; i++ {
		if err := ctx.Err(); err != nil {
			return Value{}, err
		}
		img, err := split.Image(i)
		if err != nil {
			return Value{}, err
		}
		out, err := r.Model.PredictGrid(ctx, img)
		if err != nil {
			return Value{}, errors.Wrapf(err, "predicting image %d", i)
		}
		grid := out.Data().([]float32)
		if len(grid) != per {
			return Value{}, errors.Wrapf(ErrShapeMismatch, "image %d: output has %d values, labels %d", i, len(grid), per)
		}
		backing = append(backing, grid...)
	}

	pred := tensor.New(tensor.WithShape(end-start, per), tensor.WithBacking(backing))
	return Compute(r.Config, truth, pred)
}

package evaluation

import (
	"context"
	"fmt"
	"io"

	"github.com/nvr-ai/aovek/common"
	"github.com/nvr-ai/aovek/config"
	"github.com/nvr-ai/aovek/dataset"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// Predictor produces normalized center-form boxes for a batch of one image.
type Predictor interface {
	PredictBoxes(ctx context.Context, image *tensor.Dense) ([]common.CenterBox, error)
}

// Result is the outcome of evaluating one split.
type Result struct {
	Split   string
	Counts  Counts
	Summary Summary
	// Err is set when the split could not be evaluated or its metrics are undefined.
	Err error
}

// Evaluator runs the matcher over dataset splits and reports their metrics.
type Evaluator struct {
	Config    *config.Config
	Predictor Predictor
	Logger    *logrus.Logger
	// Out receives the human-readable summary lines. Nil disables them.
	Out io.Writer
}

// NewEvaluator creates an evaluator.
//
// Arguments:
//   - cfg: The validated configuration.
//   - predictor: The model producing boxes.
//   - logger: The logger receiving per-split results.
//
// Returns:
//   - *Evaluator: The evaluator.
func NewEvaluator(cfg *config.Config, predictor Predictor, logger *logrus.Logger) *Evaluator {
	return &Evaluator{Config: cfg, Predictor: predictor, Logger: logger}
}

// MatchSplitImage predicts image i of the split and matches it against its labels.
func (e *Evaluator) MatchSplitImage(ctx context.Context, split *dataset.Split, i int) (Counts, error) {
	img, err := split.Image(i)
	if err != nil {
		return Counts{}, err
	}
	boxes, err := e.Predictor.PredictBoxes(ctx, img)
	if err != nil {
		return Counts{}, errors.Wrapf(err, "predicting image %d", i)
	}
	rows, err := split.LabelRows(i, e.Config.CellWidth())
	if err != nil {
		return Counts{}, err
	}

	size := e.Config.ImageInfo.ImageSize
	return MatchImage(GroundTruth(rows, size), ScalePredictions(boxes, size), e.Config.Network.Predict.IoUThreshold)
}

// EvaluateSplit aggregates the matcher over every image of a split and computes its metrics.
//
// Returns:
//   - Counts: The split totals, also set when the metrics are undefined.
//   - Summary: The metrics.
//   - error: A prediction error, or ErrUndefinedMetric.
func (e *Evaluator) EvaluateSplit(ctx context.Context, split *dataset.Split) (Counts, Summary, error) {
	counts, err := Aggregate(ctx, split.Len(), e.Config.Network.Predict.Workers, func(ctx context.Context, i int) (Counts, error) {
		return e.MatchSplitImage(ctx, split, i)
	})
	if err != nil {
		return Counts{}, Summary{}, errors.Wrapf(err, "evaluating split %s", split.Name)
	}

	summary, err := Calculate(counts)
	if err != nil {
		return counts, Summary{}, errors.Wrapf(err, "split %s (%s)", split.Name, counts)
	}
	return counts, summary, nil
}

// EvaluateAll evaluates the splits in order, logging each result.
//
// A split whose metrics are undefined is logged and skipped. Any other error
// stops the evaluation.
//
// Arguments:
//   - ctx: Cancels the evaluation.
//   - splits: The splits, usually train, validation and test.
//
// Returns:
//   - []Result: One result per evaluated split.
//   - error: The first error that is not ErrUndefinedMetric.
func (e *Evaluator) EvaluateAll(ctx context.Context, splits ...*dataset.Split) ([]Result, error) {
	results := make([]Result, 0, len(splits))
	for _, split := range splits {
		counts, summary, err := e.EvaluateSplit(ctx, split)
		res := Result{Split: split.Name, Counts: counts, Summary: summary, Err: err}

		if err != nil {
			if !errors.Is(err, ErrUndefinedMetric) {
				return results, err
			}
			e.Logger.WithError(err).WithField("split", split.Name).Warn("Metrics undefined, skipping split")
			results = append(results, res)
			continue
		}

		e.Logger.WithFields(logrus.Fields{
			"split":     split.Name,
			"iou":       summary.AvgIoU,
			"accuracy":  summary.Accuracy,
			"precision": summary.Precision,
			"recall":    summary.Recall,
			"f1":        summary.F1,
			"tp":        counts.TP,
			"fp":        counts.FP,
			"fn":        counts.FN,
		}).Info("Split evaluated")
		if e.Out != nil {
			fmt.Fprintf(e.Out, "%s:\n%s\n", splitTitle(split.Name), summary)
		}
		results = append(results, res)
	}
	return results, nil
}

func splitTitle(name string) string {
	switch name {
	case config.SplitTrain:
		return "Train"
	case config.SplitValidation:
		return "Validation"
	case config.SplitTest:
		return "Test"
	}
	return name
}

package evaluation

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUndefinedMetric is returned when a metric's denominator is zero.
var ErrUndefinedMetric = errors.New("metric undefined")

// Summary holds the detection metrics of one split.
type Summary struct {
	AvgIoU    float64
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
}

func (s Summary) String() string {
	return fmt.Sprintf("IOU: %v, Accuracy: %v, Precision: %v, Recall: %v, F1 Score: %v",
		s.AvgIoU, s.Accuracy, s.Precision, s.Recall, s.F1)
}

// Calculate reduces split totals into metrics.
//
// No value is clamped: a zero denominator in any metric fails the whole summary.
//
// Arguments:
//   - c: The split totals.
//
// Returns:
//   - Summary: avg IoU, accuracy, precision, recall and F1.
//   - error: ErrUndefinedMetric wrapped with the metric name.
//
// @example
// s, err := Calculate(Counts{IoUSum: 6.4, GTNum: 10, TP: 8, FP: 2, FN: 2}) // all 0.8
func Calculate(c Counts) (Summary, error) {
	tp := float64(c.TP)

	avgIoU, err := ratio("avg_iou", c.IoUSum, tp)
	if err != nil {
		return Summary{}, err
	}
	accuracy, err := ratio("accuracy", tp, float64(c.GTNum))
	if err != nil {
		return Summary{}, err
	}
	precision, err := ratio("precision", tp, float64(c.TP+c.FP))
	if err != nil {
		return Summary{}, err
	}
	recall, err := ratio("recall", tp, float64(c.TP+c.FN))
	if err != nil {
		return Summary{}, err
	}
	f1, err := ratio("f1", 2*precision*recall, precision+recall)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		AvgIoU:    avgIoU,
		Accuracy:  accuracy,
		Precision: precision,
		Recall:    recall,
		F1:        f1,
	}, nil
}

func ratio(name string, num, den float64) (float64, error) {
	if den == 0 {
		return 0, errors.Wrap(ErrUndefinedMetric, name)
	}
	return num / den, nil
}

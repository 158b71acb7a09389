package evaluation

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate(t *testing.T) {
	s, err := Calculate(Counts{IoUSum: 6.4, GTNum: 10, TP: 8, FP: 2, FN: 2})
	require.NoError(t, err)

	assert.InDelta(t, 0.8, s.AvgIoU, 1e-9)
	assert.InDelta(t, 0.8, s.Accuracy, 1e-9)
	assert.InDelta(t, 0.8, s.Precision, 1e-9)
	assert.InDelta(t, 0.8, s.Recall, 1e-9)
	assert.InDelta(t, 0.8, s.F1, 1e-9)
}

func TestCalculateUneven(t *testing.T) {
	s, err := Calculate(Counts{IoUSum: 3, GTNum: 8, TP: 4, FP: 4, FN: 4})
	require.NoError(t, err)

	assert.InDelta(t, 0.75, s.AvgIoU, 1e-9)
	assert.InDelta(t, 0.5, s.Accuracy, 1e-9)
	assert.InDelta(t, 0.5, s.Precision, 1e-9)
	assert.InDelta(t, 0.5, s.Recall, 1e-9)
	assert.InDelta(t, 0.5, s.F1, 1e-9)
}

// TestCalculateUndefined verifies that every zero denominator is reported by metric name.
func TestCalculateUndefined(t *testing.T) {
	tests := []struct {
		name   string
		counts Counts
		metric string
	}{
		{name: "empty split", counts: Counts{}, metric: "avg_iou"},
		{name: "no true positives", counts: Counts{GTNum: 3, FP: 2, FN: 3}, metric: "avg_iou"},
		{name: "no ground truth", counts: Counts{IoUSum: 1, TP: 1, FP: -1}, metric: "accuracy"},
		{name: "negative false positives cancel", counts: Counts{IoUSum: 1, GTNum: 2, TP: 1, FP: -1, FN: 1}, metric: "precision"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Calculate(tt.counts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUndefinedMetric))
			assert.Contains(t, err.Error(), tt.metric)
		})
	}
}

func TestSummaryString(t *testing.T) {
	s := Summary{AvgIoU: 0.8, Accuracy: 0.5, Precision: 0.25, Recall: 1, F1: 0.4}
	assert.Equal(t, "IOU: 0.8, Accuracy: 0.5, Precision: 0.25, Recall: 1, F1 Score: 0.4", s.String())
}

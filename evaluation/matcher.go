// Package evaluation - Matches predictions to ground truth and reduces the matches into detection metrics.
package evaluation

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/aovek/common"
)

// objectnessColumn is the label column marking a cell that holds a ground-truth box.
const objectnessColumn = 4

// Counts holds the confusion counts and summed IoU of one image or a whole split.
//
// The zero value is the identity of Add.
type Counts struct {
	// IoUSum is the sum of the best IoU of every matched ground truth.
	IoUSum float64
	// GTNum is the number of ground-truth boxes.
	GTNum int
	// TP is the number of ground truths whose best IoU reached the threshold.
	TP int
	// FP is the number of predictions minus TP.
	FP int
	// FN is the number of ground truths minus TP.
	FN int
}

// Add combines two partial counts. It is commutative and associative.
func (c Counts) Add(other Counts) Counts {
	return Counts{
		IoUSum: c.IoUSum + other.IoUSum,
		GTNum:  c.GTNum + other.GTNum,
		TP:     c.TP + other.TP,
		FP:     c.FP + other.FP,
		FN:     c.FN + other.FN,
	}
}

func (c Counts) String() string {
	return fmt.Sprintf("iou_sum=%.4f gt=%d tp=%d fp=%d fn=%d", c.IoUSum, c.GTNum, c.TP, c.FP, c.FN)
}

// IoUMatrix computes the IoU of every ground truth against every prediction.
//
// Row i holds ground truth i against each prediction, computed as one batch with
// the ground-truth box repeated.
//
// Arguments:
//   - gt: Ground-truth boxes in pixel corner form.
//   - pred: Predicted boxes in pixel corner form.
//
// Returns:
//   - A len(gt) x len(pred) matrix.
//   - error: A batch error from the IoU computation.
func IoUMatrix(gt, pred []common.BoundingBox) ([][]float32, error) {
	matrix := make([][]float32, len(gt))
	repeated := make([]common.BoundingBox, len(pred))
	for i, g := range gt {
		for j := range repeated {
			repeated[j] = g
		}
		row, err := common.BatchIoU(repeated, pred)
		if err != nil {
			return nil, err
		}
		matrix[i] = row
	}
	return matrix, nil
}

// MatchImage matches one image's predictions against its ground truth.
//
// Every ground truth takes its best-overlapping prediction. Predictions are not
// exclusive: one prediction may match several ground truths, in which case FP
// (n - TP) can be negative.
//
// Arguments:
//   - gt: Ground-truth boxes in pixel corner form.
//   - pred: Predicted boxes in pixel corner form.
//   - iouThreshold: Minimum best IoU for a ground truth to count as matched.
//
// Returns:
//   - Counts: The per-image counts.
//   - error: A batch error from the IoU computation.
//
// @example
// gt := []common.BoundingBox{{X1: 40, Y1: 40, X2: 60, Y2: 60}}
// counts, _ := MatchImage(gt, gt, 0.5) // TP=1, FP=0, FN=0
func MatchImage(gt, pred []common.BoundingBox, iouThreshold float32) (Counts, error) {
	m, n := len(gt), len(pred)
	if m == 0 || n == 0 {
		return Counts{GTNum: m, FP: n, FN: m}, nil
	}

	matrix, err := IoUMatrix(gt, pred)
	if err != nil {
		return Counts{}, err
	}

	counts := Counts{GTNum: m}
	for _, row := range matrix {
		best := row[0]
		for _, v := range row[1:] {
			best = math32.Max(best, v)
		}
		if best >= iouThreshold {
			counts.TP++
			counts.IoUSum += float64(best)
		}
	}
	counts.FP = n - counts.TP
	counts.FN = m - counts.TP
	return counts, nil
}

// GroundTruth selects the label rows with objectness 1 and converts them to pixel corner form.
//
// Arguments:
//   - rows: One label row per grid cell, [cx, cy, w, h, objectness, classes...].
//   - imageSize: The side of the square image in pixels.
//
// Returns:
//   - The ground-truth boxes, possibly empty.
func GroundTruth(rows [][]float32, imageSize int) []common.BoundingBox {
	var out []common.BoundingBox
	for _, row := range rows {
		if len(row) <= objectnessColumn || row[objectnessColumn] != 1 {
			continue
		}
		box := common.CenterBox{CX: row[0], CY: row[1], W: row[2], H: row[3]}.ToCorners(imageSize)
		box.Label = "person"
		box.Confidence = 1
		out = append(out, box)
	}
	return out
}

// ScalePredictions converts normalized center-form predictions to pixel corner form.
func ScalePredictions(boxes []common.CenterBox, imageSize int) []common.BoundingBox {
	return common.ToCorners(boxes, imageSize)
}

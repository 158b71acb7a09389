package postprocess

import (
	"sort"

	"github.com/nvr-ai/aovek/common"
	"github.com/pkg/errors"
)

// objectness is the cell column holding the object score.
const objectness = 4

// ErrGridWidth is returned when the grid output is not a whole number of cells.
var ErrGridWidth = errors.New("grid output is not a whole number of cells")

// DecodeGrid turns a flattened grid output into detections.
//
// Every cell whose objectness reaches probThreshold becomes one detection. The
// class is the most probable of the class columns, 0 when there are none.
//
// Arguments:
//   - grid: The flattened output, cells x cellWidth.
//   - cellWidth: The number of values per cell, at least 5.
//   - probThreshold: The minimum objectness.
//
// Returns:
//   - []Result: The detections sorted by descending score.
//   - error: ErrGridWidth if grid does not hold whole cells.
//
// @example
// results, err := DecodeGrid(output, 6, 0.5)
// boxes := Boxes(results)
func DecodeGrid(grid []float32, cellWidth int, probThreshold float32) ([]Result, error) {
	if cellWidth <= objectness || len(grid)%cellWidth != 0 {
		return nil, errors.Wrapf(ErrGridWidth, "%d values, cell width %d", len(grid), cellWidth)
	}

	var results []Result
	for cell := 0; cell*cellWidth < len(grid); cell++ {
		row := grid[cell*cellWidth : (cell+1)*cellWidth]
		if row[objectness] < probThreshold {
			continue
		}

		class, best := 0, float32(0)
		for c, p := range row[objectness+1:] {
			if p > best {
				class, best = c, p
			}
		}

		results = append(results, Result{
			Box:   common.CenterBox{CX: row[0], CY: row[1], W: row[2], H: row[3]},
			Score: row[objectness],
			Class: class,
			Cell:  cell,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// Package postprocess - Turns raw grid output into scored detections.
package postprocess

import "github.com/nvr-ai/aovek/common"

// Result represents a single detection result.
type Result struct {
	// The normalized center-form box of the result.
	Box common.CenterBox
	// The objectness score of the result.
	Score float32
	// The predicted class index of the result.
	Class int
	// The grid cell that produced the result.
	Cell int
}

// Boxes returns the boxes of the results, in order.
func Boxes(results []Result) []common.CenterBox {
	out := make([]common.CenterBox, len(results))
	for i, r := range results {
		out[i] = r.Box
	}
	return out
}

// Package common - Box geometry shared by evaluation, decoding and rendering.
package common

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// ErrBatchLength is returned when two box batches cannot be compared elementwise.
var ErrBatchLength = errors.New("box batches differ in length")

// CenterBox is a box in center form, normalized to [0, 1] relative to the image size.
type CenterBox struct {
	CX, CY, W, H float32
}

// ToCorners converts the box to corner form in pixel units.
//
// Width and height are not clamped: a degenerate or negative size produces a
// degenerate (or endpoint-swapped) corner box, which IoU handles.
//
// Arguments:
// - imageSize: The side of the square image in pixels.
//
// Returns:
// - The corner-form box.
//
// @example
// box := CenterBox{CX: 0.5, CY: 0.5, W: 0.2, H: 0.2}
// corners := box.ToCorners(100) // (40, 40), (60, 60)
func (c CenterBox) ToCorners(imageSize int) BoundingBox {
	s := float32(imageSize)
	return BoundingBox{
		X1: (c.CX - c.W/2) * s,
		Y1: (c.CY - c.H/2) * s,
		X2: (c.CX + c.W/2) * s,
		Y2: (c.CY + c.H/2) * s,
	}
}

// BoundingBox represents a bounding box with its label, confidence, and coordinates.
type BoundingBox struct {
	Label          string
	Confidence     float32
	X1, Y1, X2, Y2 float32
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("Object %s (confidence %f): (%.2f, %.2f), (%.2f, %.2f)",
		b.Label, b.Confidence, b.X1, b.Y1, b.X2, b.Y2)
}

// Normalize returns the box with its endpoints ordered so that X1 <= X2 and Y1 <= Y2.
func (b BoundingBox) Normalize() BoundingBox {
	n := b
	n.X1, n.X2 = math32.Min(b.X1, b.X2), math32.Max(b.X1, b.X2)
	n.Y1, n.Y2 = math32.Min(b.Y1, b.Y2), math32.Max(b.Y1, b.Y2)
	return n
}

// Area returns the area of the normalized box in square pixels.
func (b BoundingBox) Area() float32 {
	n := b.Normalize()
	return (n.X2 - n.X1) * (n.Y2 - n.Y1)
}

// ToRect converts the bounding box to an image.Rectangle.
//
// This loses the fractional part of every coordinate, which is fine for drawing.
//
// Returns:
// - An image.Rectangle with canonicalized coordinates.
//
// @example
// box := BoundingBox{X1: 100.5, Y1: 100.5, X2: 200.5, Y2: 300.5}
// rect := box.ToRect() // (100,100)-(200,300)
func (b BoundingBox) ToRect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)).Canon()
}

// IoU calculates the Intersection over Union between two corner-form boxes.
//
// Both boxes are normalized first, so swapped endpoints are tolerated. If either
// box has no area the result is 0, which also covers the 0/0 case of two empty
// boxes.
//
// Arguments:
// - a: The first box.
// - b: The second box.
//
// Returns:
// - The IoU value between 0 and 1.
//
// @example
// a := BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}
// b := BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}
// iou := IoU(a, b) // ~0.143 (2500/17500)
func IoU(a, b BoundingBox) float32 {
	a, b = a.Normalize(), b.Normalize()

	areaA := (a.X2 - a.X1) * (a.Y2 - a.Y1)
	areaB := (b.X2 - b.X1) * (b.Y2 - b.Y1)
	if areaA <= 0 || areaB <= 0 {
		return 0
	}

	interW := math32.Max(0, math32.Min(a.X2, b.X2)-math32.Max(a.X1, b.X1))
	interH := math32.Max(0, math32.Min(a.Y2, b.Y2)-math32.Max(a.Y1, b.Y1))
	inter := interW * interH

	return inter / (areaA + areaB - inter)
}

// BatchIoU computes IoU elementwise over two aligned batches of corner-form boxes.
//
// Arguments:
// - a: The first batch.
// - b: The second batch, the same length as a.
//
// Returns:
// - One IoU value per pair.
// - ErrBatchLength if the batches differ in length.
func BatchIoU(a, b []BoundingBox) ([]float32, error) {
	if len(a) != len(b) {
		return nil, errors.Wrapf(ErrBatchLength, "%d vs %d", len(a), len(b))
	}

	out := make([]float32, len(a))
	for i := range a {
		out[i] = IoU(a[i], b[i])
	}
	return out, nil
}

// ToCorners converts a batch of center-form boxes to corner form.
func ToCorners(boxes []CenterBox, imageSize int) []BoundingBox {
	out := make([]BoundingBox, len(boxes))
	for i, b := range boxes {
		out[i] = b.ToCorners(imageSize)
	}
	return out
}

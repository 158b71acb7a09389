package images

import (
	"fmt"
	"image"
	"image/color"

	"github.com/nvr-ai/aovek/common"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

var (
	predictionColor  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	groundTruthColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// FromTensor converts a 1 x H x W x C tensor with values in [0, 1] back to an image.
//
// A single channel is rendered as gray.
func FromTensor(t *tensor.Dense) (*image.RGBA, error) {
	shape := t.Shape()
	if len(shape) != 4 || shape[0] != 1 || (shape[3] != 3 && shape[3] != 1) {
		return nil, errors.Errorf("cannot render tensor of shape %v", shape)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("cannot render %v tensor", t.Dtype())
	}

	h, w, c := shape[1], shape[2], shape[3]
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := data[(y*w+x)*c:]
			if c == 1 {
				v := toByte(px[0])
				img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
				continue
			}
			img.SetRGBA(x, y, color.RGBA{R: toByte(px[0]), G: toByte(px[1]), B: toByte(px[2]), A: 255})
		}
	}
	return img, nil
}

func toByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

// placement is a box clipped to the image.
type placement struct {
	Rect image.Rectangle
	Box  common.BoundingBox
}

// rectangles clips the boxes to a size x size image, dropping those left without area.
func rectangles(boxes []common.BoundingBox, size int) []placement {
	bounds := image.Rect(0, 0, size, size)
	var out []placement
	for _, b := range boxes {
		r := b.ToRect().Intersect(bounds)
		if r.Empty() {
			continue
		}
		out = append(out, placement{Rect: r, Box: b})
	}
	return out
}

// Annotate draws predictions and ground truth on an image and writes it to out.
//
// Predictions are drawn in green with their confidence, ground truth in red.
//
// Arguments:
//   - img: The image, 1 x S x S x C.
//   - predictions: Predicted boxes in pixel corner form.
//   - groundTruth: Ground-truth boxes in pixel corner form, possibly nil.
//   - out: The output file; its extension selects the encoding.
//
// Returns:
//   - error: A conversion or write error.
func Annotate(img *tensor.Dense, predictions, groundTruth []common.BoundingBox, out string) error {
	rgba, err := FromTensor(img)
	if err != nil {
		return err
	}

	mat, err := gocv.ImageToMatRGB(rgba)
	if err != nil {
		return errors.Wrap(err, "converting image to mat")
	}
	defer mat.Close()

	size := rgba.Bounds().Dx()
	for _, p := range rectangles(groundTruth, size) {
		gocv.Rectangle(&mat, p.Rect, groundTruthColor, 1)
	}
	for _, p := range rectangles(predictions, size) {
		gocv.Rectangle(&mat, p.Rect, predictionColor, 2)
		label := fmt.Sprintf("%.2f", p.Box.Confidence)
		gocv.PutText(&mat, label, image.Pt(p.Rect.Min.X, max(p.Rect.Min.Y-2, 8)), gocv.FontHersheySimplex, 0.3, predictionColor, 1)
	}

	if !gocv.IMWrite(out, mat) {
		return errors.Errorf("writing %s", out)
	}
	return nil
}

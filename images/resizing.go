package images

import (
	"image"
	"os"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ResizeSquare resizes an image to size x size with bilinear interpolation.
func ResizeSquare(img image.Image, size int) image.Image {
	return resize.Resize(uint(size), uint(size), img, resize.Bilinear)
}

// ToTensor converts an image to a 1 x H x W x 3 float32 tensor with values in [0, 1].
//
// Arguments:
//   - img: The image.
//
// Returns:
//   - *tensor.Dense: The NHWC tensor in RGB order.
//
// @example
// t := ToTensor(ResizeSquare(img, 448)) // (1, 448, 448, 3)
func ToTensor(img image.Image) *tensor.Dense {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]float32, h*w*3)

	idx := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			data[idx] = float32(r>>8) / 255.0
			data[idx+1] = float32(g>>8) / 255.0
			data[idx+2] = float32(bl>>8) / 255.0
			idx += 3
		}
	}

	return tensor.New(tensor.WithShape(1, h, w, 3), tensor.WithBacking(data))
}

// LoadTensor reads an image file and converts it to a network input.
//
// Arguments:
//   - path: The image file, JPEG, PNG or WebP.
//   - size: The side of the square network input.
//
// Returns:
//   - *tensor.Dense: The 1 x size x size x 3 input.
//   - error: A read or decode error.
func LoadTensor(path string, size int) (*tensor.Dense, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	t, err := DecodeTensor(data, format, size)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return t, nil
}

// DecodeTensor decodes encoded image bytes into a 1 x size x size x 3 network input.
func DecodeTensor(data []byte, format ImageFormat, size int) (*tensor.Dense, error) {
	img, err := Decode(data, format)
	if err != nil {
		return nil, err
	}
	return ToTensor(ResizeSquare(img, size)), nil
}

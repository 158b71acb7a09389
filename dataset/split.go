// Package dataset - Stores and reads dataset splits as zip archives of .npy arrays.
package dataset

import (
	"archive/zip"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Entry names inside a split archive.
const (
	DataEntry   = "data.npy"
	LabelsEntry = "labels.npy"
)

// ErrMisaligned is returned when a split's data and labels do not line up.
var ErrMisaligned = errors.New("data and labels misaligned")

// Split is one persisted dataset split.
type Split struct {
	// Name is the split name (train, validation or test).
	Name string
	// Data holds the images, N x S x S x C, float32 in [0, 1].
	Data *tensor.Dense
	// Labels holds the flattened label cells, N x (cells * cellWidth) or N x cells x cellWidth.
	Labels *tensor.Dense
}

// NewSplit builds a split from aligned float32 arrays.
//
// Arguments:
//   - name: The split name.
//   - data: The images, N x S x S x C.
//   - labels: The labels, N x ...
//
// Returns:
//   - *Split: The split.
//   - error: ErrMisaligned if the arrays disagree on N or are not float32.
func NewSplit(name string, data, labels *tensor.Dense) (*Split, error) {
	s := &Split{Name: name, Data: data, Labels: labels}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Split) validate() error {
	if s.Data == nil || s.Labels == nil {
		return errors.Wrapf(ErrMisaligned, "split %s: missing array", s.Name)
	}
	if s.Data.Dims() != 4 {
		return errors.Wrapf(ErrMisaligned, "split %s: data shape %v is not N x S x S x C", s.Name, s.Data.Shape())
	}
	if s.Labels.Dims() < 2 {
		return errors.Wrapf(ErrMisaligned, "split %s: labels shape %v has no per-image axis", s.Name, s.Labels.Shape())
	}
	if s.Data.Shape()[0] != s.Labels.Shape()[0] {
		return errors.Wrapf(ErrMisaligned, "split %s: %d images vs %d labels",
			s.Name, s.Data.Shape()[0], s.Labels.Shape()[0])
	}
	if s.Data.Dtype() != tensor.Float32 || s.Labels.Dtype() != tensor.Float32 {
		return errors.Wrapf(ErrMisaligned, "split %s: arrays must be float32", s.Name)
	}
	return nil
}

// Len returns the number of images in the split.
func (s *Split) Len() int {
	return s.Data.Shape()[0]
}

// ImageSize returns the side of the square images.
func (s *Split) ImageSize() int {
	return s.Data.Shape()[1]
}

// Image returns image i as a batch of one, 1 x S x S x C.
func (s *Split) Image(i int) (*tensor.Dense, error) {
	if i < 0 || i >= s.Len() {
		return nil, errors.Errorf("image index %d out of range [0, %d)", i, s.Len())
	}
	shape := s.Data.Shape()
	size := shape[1] * shape[2] * shape[3]
	backing := make([]float32, size)
	copy(backing, s.Data.Data().([]float32)[i*size:(i+1)*size])
	return tensor.New(tensor.WithShape(1, shape[1], shape[2], shape[3]), tensor.WithBacking(backing)), nil
}

// LabelRows returns the label cells of image i, one row per grid cell.
//
// Arguments:
//   - i: The image index.
//   - cellWidth: The number of values per cell.
//
// Returns:
//   - [][]float32: The rows, sharing the split's backing array.
//   - error: ErrMisaligned if the per-image label length is not a multiple of cellWidth.
func (s *Split) LabelRows(i, cellWidth int) ([][]float32, error) {
	flat, err := s.labelSlice(i, i+1)
	if err != nil {
		return nil, err
	}
	if cellWidth <= 0 || len(flat)%cellWidth != 0 {
		return nil, errors.Wrapf(ErrMisaligned, "label length %d is not a multiple of cell width %d", len(flat), cellWidth)
	}
	rows := make([][]float32, len(flat)/cellWidth)
	for r := range rows {
		rows[r] = flat[r*cellWidth : (r+1)*cellWidth : (r+1)*cellWidth]
	}
	return rows, nil
}

// LabelBatch returns the labels of images [start, end) as a (end-start) x L tensor.
func (s *Split) LabelBatch(start, end int) (*tensor.Dense, error) {
	flat, err := s.labelSlice(start, end)
	if err != nil {
		return nil, err
	}
	backing := make([]float32, len(flat))
	copy(backing, flat)
	return tensor.New(tensor.WithShape(end-start, len(flat)/(end-start)), tensor.WithBacking(backing)), nil
}

func (s *Split) labelSlice(start, end int) ([]float32, error) {
	if start < 0 || end > s.Len() || start >= end {
		return nil, errors.Errorf("label range [%d, %d) out of range [0, %d)", start, end, s.Len())
	}
	per := s.Labels.Shape().TotalSize() / s.Len()
	return s.Labels.Data().([]float32)[start*per : end*per], nil
}

// LoadSplit reads a split archive.
//
// Float64 and uint8 arrays are converted to float32; uint8 images are scaled to [0, 1].
//
// Arguments:
//   - name: The split name.
//   - path: The archive path.
//
// Returns:
//   - *Split: The split.
//   - error: A read error, or ErrMisaligned if an array is missing or the arrays disagree.
//
// @example
// split, err := LoadSplit("test", "data/test.npz")
func LoadSplit(name, path string) (*Split, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening split %s", path)
	}
	defer r.Close()

	arrays := map[string]*tensor.Dense{}
	for _, f := range r.File {
		if f.Name != DataEntry && f.Name != LabelsEntry {
			continue
		}
		dense, err := readEntry(f)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s from %s", f.Name, path)
		}
		arrays[f.Name] = dense
	}

	data, labels := arrays[DataEntry], arrays[LabelsEntry]
	if data == nil || labels == nil {
		return nil, errors.Wrapf(ErrMisaligned, "split %s: archive needs %s and %s", path, DataEntry, LabelsEntry)
	}

	data, err = toFloat32(data, true)
	if err != nil {
		return nil, err
	}
	labels, err = toFloat32(labels, false)
	if err != nil {
		return nil, err
	}
	return NewSplit(name, data, labels)
}

func readEntry(f *zip.File) (*tensor.Dense, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	dense := new(tensor.Dense)
	if err := dense.ReadNpy(rc); err != nil {
		return nil, err
	}
	return dense, nil
}

func toFloat32(t *tensor.Dense, scaleBytes bool) (*tensor.Dense, error) {
	var out []float32
	switch data := t.Data().(type) {
	case []float32:
		return t, nil
	case []float64:
		out = make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
	case []uint8:
		out = make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
			if scaleBytes {
				out[i] /= 255
			}
		}
	default:
		return nil, errors.Errorf("unsupported array dtype %v", t.Dtype())
	}
	return tensor.New(tensor.WithShape(t.Shape().Clone()...), tensor.WithBacking(out)), nil
}

// SaveSplit writes a split archive readable by LoadSplit.
func SaveSplit(path string, s *Split) error {
	if err := s.validate(); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating split %s", path)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	for _, entry := range []struct {
		name  string
		dense *tensor.Dense
	}{
		{DataEntry, s.Data},
		{LabelsEntry, s.Labels},
	} {
		ew, err := w.Create(entry.name)
		if err != nil {
			return errors.Wrapf(err, "creating %s", entry.name)
		}
		if err := entry.dense.WriteNpy(ew); err != nil {
			return errors.Wrapf(err, "writing %s", entry.name)
		}
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "closing archive")
	}
	return f.Close()
}

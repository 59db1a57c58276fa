// Package imaging joins the q2bz decoder and the crop-and-bin transform into
// the single operation the batch runner and command line call.
package imaging

import (
	"errors"
	"fmt"

	"github.com/banshee-data/dm4tiff/internal/bincrop"
	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"github.com/banshee-data/dm4tiff/internal/q2bz"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Error kinds, re-exported so callers only need this package for errors.Is.
var (
	ErrFormat           = q2bz.ErrFormat
	ErrDecodeShape      = q2bz.ErrShape
	ErrTransformShape   = bincrop.ErrShape
	ErrInvalidParameter = bincrop.ErrInvalidParameter
)

// Kind classifies an error from DecodeAndTransform.
type Kind string

const (
	KindNone             Kind = ""
	KindFormat           Kind = "format"
	KindShape            Kind = "shape"
	KindInvalidParameter Kind = "invalid_parameter"
	KindIO               Kind = "io"
)

// KindOf maps err onto the error taxonomy. Anything unrecognised is KindIO.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrFormat):
		return KindFormat
	case errors.Is(err, ErrDecodeShape), errors.Is(err, ErrTransformShape):
		return KindShape
	case errors.Is(err, ErrInvalidParameter):
		return KindInvalidParameter
	default:
		return KindIO
	}
}

// Params are the crop rectangle and bin factor applied to every image.
type Params struct {
	Rect bincrop.Rect
	Bin  int
}

func (p Params) String() string {
	return fmt.Sprintf("crop=%v bin=%d", p.Rect, p.Bin)
}

// Validate checks the parts of p that do not depend on image size.
func (p Params) Validate() error {
	if p.Bin < 1 {
		return fmt.Errorf("%w: bin factor %d must be at least 1", ErrInvalidParameter, p.Bin)
	}
	r := p.Rect
	if r.X1 < 0 || r.Y1 < 0 || r.X2 <= r.X1 || r.Y2 <= r.Y1 {
		return fmt.Errorf("%w: crop %v is negative, empty or inverted", ErrInvalidParameter, r)
	}
	return nil
}

// Result is a decoded and transformed image.
type Result struct {
	Header q2bz.Header
	Binned *mat.Dense
}

// DecodeAndTransform reads the container at path and returns its crop/bin
// reduction. Errors are fatal for this one file and are returned unchanged in
// kind.
func DecodeAndTransform(fsys fsutil.FileSystem, path string, p Params, opts q2bz.Options) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	img, err := q2bz.DecodeFile(fsys, path, opts)
	if err != nil {
		return nil, err
	}

	binned, err := bincrop.BinCrop(img.Pixels, p.Rect, p.Bin)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &Result{Header: img.Header, Binned: binned}, nil
}

// Stats summarises the values of a grid.
type Stats struct {
	Rows, Cols int
	Min, Max   float64
	Mean, Std  float64
}

// Summarize computes Stats for m.
func Summarize(m mat.Matrix) Stats {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}

	s := Stats{Rows: r, Cols: c}
	if len(data) == 0 {
		return s
	}
	s.Min = floats.Min(data)
	s.Max = floats.Max(data)
	if len(data) == 1 {
		s.Mean = data[0]
		return s
	}
	s.Mean, s.Std = stat.MeanStdDev(data, nil)
	return s
}

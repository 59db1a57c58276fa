// Package bincrop crops a pixel grid to a rectangle and downsamples it by
// averaging square blocks of pixels.
//
// Both steps validate their inputs up front. A crop that leaves the grid or
// is empty, and a bin factor outside [1, min(rows, cols)], are rejected with
// ErrInvalidParameter. A crop whose sides are not exact multiples of the bin
// factor is rejected with ErrShape; pixels are never silently dropped.
package bincrop

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInvalidParameter reports crop bounds or a bin factor that cannot
	// describe a non-empty result.
	ErrInvalidParameter = errors.New("invalid crop or bin parameter")

	// ErrShape reports a crop that cannot be partitioned into whole bins.
	ErrShape = errors.New("crop is not divisible into whole bins")
)

// Rect is a crop rectangle in pixel coordinates with the origin at the top
// left. X selects columns and Y selects rows; X2 and Y2 are exclusive.
type Rect struct {
	X1, Y1, X2, Y2 int
}

// Dx is the width of the rectangle.
func (r Rect) Dx() int { return r.X2 - r.X1 }

// Dy is the height of the rectangle.
func (r Rect) Dy() int { return r.Y2 - r.Y1 }

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
}

// Validate checks that r selects a non-empty region inside a rows×cols grid.
func (r Rect) Validate(rows, cols int) error {
	switch {
	case r.X1 < 0 || r.Y1 < 0:
		return fmt.Errorf("%w: crop %v has a negative origin", ErrInvalidParameter, r)
	case r.X2 <= r.X1 || r.Y2 <= r.Y1:
		return fmt.Errorf("%w: crop %v is empty or inverted", ErrInvalidParameter, r)
	case r.X2 > cols || r.Y2 > rows:
		return fmt.Errorf("%w: crop %v exceeds %dx%d image", ErrInvalidParameter, r, cols, rows)
	}
	return nil
}

// Crop returns the sub-grid g[Y1:Y2, X1:X2]. The result is a view that shares
// storage with g.
func Crop(g *mat.Dense, r Rect) (*mat.Dense, error) {
	rows, cols := g.Dims()
	if err := r.Validate(rows, cols); err != nil {
		return nil, err
	}
	return g.Slice(r.Y1, r.Y2, r.X1, r.X2).(*mat.Dense), nil
}

// Bin averages each bin×bin block of c into one output cell, producing a
// (rows/bin)×(cols/bin) grid. Bin(c, 1) is an exact copy of c.
func Bin(c mat.Matrix, bin int) (*mat.Dense, error) {
	rows, cols := c.Dims()
	if bin < 1 {
		return nil, fmt.Errorf("%w: bin factor %d must be at least 1", ErrInvalidParameter, bin)
	}
	if bin > min(rows, cols) {
		return nil, fmt.Errorf("%w: bin factor %d exceeds %dx%d crop", ErrInvalidParameter, bin, cols, rows)
	}
	if rows%bin != 0 || cols%bin != 0 {
		return nil, fmt.Errorf("%w: %dx%d crop is not a multiple of bin factor %d", ErrShape, cols, rows, bin)
	}

	m, n := rows/bin, cols/bin
	out := mat.NewDense(m, n, nil)

	rv, raw := c.(mat.RawRowViewer)
	block := make([]float64, bin*bin)
	for bi := 0; bi < m; bi++ {
		for bj := 0; bj < n; bj++ {
			x0 := bj * bin
			for k := 0; k < bin; k++ {
				y := bi*bin + k
				dst := block[k*bin : (k+1)*bin]
				if raw {
					copy(dst, rv.RawRowView(y)[x0:x0+bin])
					continue
				}
				for l := range dst {
					dst[l] = c.At(y, x0+l)
				}
			}
			out.Set(bi, bj, stat.Mean(block, nil))
		}
	}

	return out, nil
}

// BinCrop crops g to r and then bins the crop by bin.
func BinCrop(g *mat.Dense, r Rect, bin int) (*mat.Dense, error) {
	cropped, err := Crop(g, r)
	if err != nil {
		return nil, fmt.Errorf("crop: %w", err)
	}
	binned, err := Bin(cropped, bin)
	if err != nil {
		return nil, fmt.Errorf("bin: %w", err)
	}
	return binned, nil
}

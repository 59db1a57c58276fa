// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"testing"

	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"github.com/banshee-data/dm4tiff/internal/q2bz"
	"gonum.org/v1/gonum/mat"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Ramp returns a rows×cols grid holding 0, 1, 2, ... in row-major order.
func Ramp(rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = float64(i)
	}
	return mat.NewDense(rows, cols, data)
}

// Rows copies m into nested slices for comparison with cmp.Diff.
func Rows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

// WriteQ2BZ writes pixels as a little-endian container at path.
func WriteQ2BZ(t *testing.T, fsys fsutil.FileSystem, path string, pixels mat.Matrix) {
	t.Helper()
	hdr := q2bz.Header{
		Meta:    [2]string{"QuOcMeSh", "# test fixture"},
		Trailer: "0",
	}
	if err := q2bz.EncodeFile(fsys, path, hdr, pixels, q2bz.Options{}); err != nil {
		t.Fatalf("failed to write q2bz fixture %s: %v", path, err)
	}
}

// Package preview renders quick-look heat map PNGs of binned grids.
package preview

import (
	"fmt"
	"io"

	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Size is the edge length of the rendered square image.
const Size = 6 * vg.Inch

// gridXYZ adapts a matrix to plotter.GridXYZ with row 0 drawn at the top.
type gridXYZ struct {
	m          mat.Matrix
	rows, cols int
}

func newGridXYZ(m mat.Matrix) gridXYZ {
	r, c := m.Dims()
	return gridXYZ{m: m, rows: r, cols: c}
}

func (g gridXYZ) Dims() (c, r int)   { return g.cols, g.rows }
func (g gridXYZ) Z(c, r int) float64 { return g.m.At(g.rows-1-r, c) }
func (g gridXYZ) X(c int) float64    { return float64(c) }
func (g gridXYZ) Y(r int) float64    { return float64(r) }

// Render writes a PNG heat map of m to w.
func Render(w io.Writer, m mat.Matrix, title string) error {
	rows, cols := m.Dims()
	if rows == 0 || cols == 0 {
		return fmt.Errorf("cannot preview empty %dx%d grid", cols, rows)
	}

	hm := plotter.NewHeatMap(newGridXYZ(m), palette.Heat(64, 1))
	if hm.Min == hm.Max {
		// A flat grid would otherwise divide by a zero range.
		hm.Max = hm.Min + 1
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x"
	p.HideY()
	p.Add(hm)

	wt, err := p.WriterTo(Size, Size, "png")
	if err != nil {
		return fmt.Errorf("create png canvas: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("render preview: %w", err)
	}
	return nil
}

// WriteFile renders m to path atomically.
func WriteFile(fsys fsutil.FileSystem, path string, m mat.Matrix, title string) error {
	return fsutil.WriteAtomic(fsys, path, func(w io.Writer) error {
		return Render(w, m, title)
	})
}

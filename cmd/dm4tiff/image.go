package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/dm4tiff/internal/config"
	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"github.com/banshee-data/dm4tiff/internal/imaging"
	"github.com/banshee-data/dm4tiff/internal/preview"
	"github.com/banshee-data/dm4tiff/internal/q2bz"
	"github.com/banshee-data/dm4tiff/internal/tiffout"
	"gonum.org/v1/gonum/mat"
)

func decodeOptions(byteOrder string) (q2bz.Options, error) {
	order, err := config.ParseByteOrder(byteOrder)
	if err != nil {
		return q2bz.Options{}, usageErrorf("%v", err)
	}
	return q2bz.Options{ByteOrder: order}, nil
}

// runBinCrop applies crop and bin to an existing container, skipping the
// converter entirely.
func runBinCrop(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("bincrop", stderr)
	byteOrder := fs.String("byte-order", config.DefaultByteOrder, "Sample byte order (little or big)")
	format := fs.String("format", string(tiffout.Float32), "TIFF sample format (float32 or gray16)")
	pngPath := fs.String("preview", "", "Also write a PNG heatmap to this path")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: dm4tiff bincrop [flags] <file.q2bz> x1 y1 x2 y2 bin <out.tiff>\n\nFlags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 7 {
		fs.Usage()
		return usageErrorf("bincrop takes an input, five parameters and an output")
	}

	opts, err := decodeOptions(*byteOrder)
	if err != nil {
		return err
	}
	f, err := tiffout.ParseFormat(*format)
	if err != nil {
		return usageErrorf("%v", err)
	}
	params, err := config.ParsePositional(fs.Args()[1:6])
	if err != nil {
		return usageErrorf("%v", err)
	}

	fsys := fsutil.OSFileSystem{}
	in, out := fs.Arg(0), fs.Arg(6)
	res, err := imaging.DecodeAndTransform(fsys, in, params, opts)
	if err != nil {
		return fmt.Errorf("[%s] %w", imaging.KindOf(err), err)
	}
	if err := tiffout.WriteFile(fsys, out, res.Binned, f); err != nil {
		return err
	}
	if *pngPath != "" {
		if err := preview.WriteFile(fsys, *pngPath, res.Binned, out); err != nil {
			return err
		}
	}

	s := imaging.Summarize(res.Binned)
	fmt.Fprintf(stdout, "%s: %dx%d -> %dx%d (%s) min=%g max=%g mean=%g std=%g\n",
		out, res.Header.Width, res.Header.Height, s.Cols, s.Rows, params, s.Min, s.Max, s.Mean, s.Std)
	return nil
}

// runInspect prints a container's header and pixel statistics.
func runInspect(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("inspect", stderr)
	byteOrder := fs.String("byte-order", config.DefaultByteOrder, "Sample byte order (little or big)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: dm4tiff inspect [flags] <file.q2bz>\n\nFlags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return usageErrorf("inspect takes exactly one file")
	}

	opts, err := decodeOptions(*byteOrder)
	if err != nil {
		return err
	}
	img, err := q2bz.DecodeFile(fsutil.OSFileSystem{}, fs.Arg(0), opts)
	if err != nil {
		return fmt.Errorf("[%s] %w", imaging.KindOf(err), err)
	}

	h := img.Header
	s := imaging.Summarize(img.Pixels)
	fmt.Fprintf(stdout, "file:    %s\n", fs.Arg(0))
	fmt.Fprintf(stdout, "meta:    %q\n", h.Meta[0])
	fmt.Fprintf(stdout, "         %q\n", h.Meta[1])
	fmt.Fprintf(stdout, "size:    %d x %d\n", h.Width, h.Height)
	if len(h.Extra) > 0 {
		fmt.Fprintf(stdout, "extra:   %s\n", strings.Join(h.Extra, " "))
	}
	fmt.Fprintf(stdout, "trailer: %q\n", h.Trailer)
	fmt.Fprintf(stdout, "min:     %g\nmax:     %g\nmean:    %g\nstd:     %g\n", s.Min, s.Max, s.Mean, s.Std)
	return nil
}

// runSynth writes a container holding a ramp (pixel (r, c) = r*width + c),
// useful for checking a crop and bin by hand.
func runSynth(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("synth", stderr)
	byteOrder := fs.String("byte-order", config.DefaultByteOrder, "Sample byte order (little or big)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: dm4tiff synth [flags] <out.q2bz> width height\n\nFlags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		fs.Usage()
		return usageErrorf("synth takes an output path, a width and a height")
	}

	opts, err := decodeOptions(*byteOrder)
	if err != nil {
		return err
	}
	width, err := strconv.Atoi(fs.Arg(1))
	if err != nil || width < 1 {
		return usageErrorf("invalid width %q", fs.Arg(1))
	}
	height, err := strconv.Atoi(fs.Arg(2))
	if err != nil || height < 1 {
		return usageErrorf("invalid height %q", fs.Arg(2))
	}

	data := make([]float64, width*height)
	for i := range data {
		data[i] = float64(i)
	}
	pixels := mat.NewDense(height, width, data)
	hdr := q2bz.Header{
		Meta:    [2]string{"synthetic ramp", "dm4tiff synth"},
		Trailer: "end of header",
	}
	if err := q2bz.EncodeFile(fsutil.OSFileSystem{}, fs.Arg(0), hdr, pixels, opts); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s (%d x %d)\n", fs.Arg(0), width, height)
	return nil
}

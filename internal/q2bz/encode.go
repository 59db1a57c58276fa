package q2bz

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"github.com/dsnet/compress/bzip2"
	"gonum.org/v1/gonum/mat"
)

// Encode writes pixels to w as a bzip2-compressed container. Header.Width and
// Header.Height are ignored; the dimensions always come from pixels.
func Encode(w io.Writer, hdr Header, pixels mat.Matrix, opts Options) error {
	for i, line := range []string{hdr.Meta[0], hdr.Meta[1], hdr.Trailer} {
		if strings.ContainsAny(line, "\r\n") {
			return fmt.Errorf("%w: header text %d contains a line break", ErrFormat, i+1)
		}
	}
	for _, tok := range hdr.Extra {
		if tok == "" || strings.ContainsAny(tok, " \t\r\n") {
			return fmt.Errorf("%w: extra token %q is not a single word", ErrFormat, tok)
		}
	}

	rows, cols := pixels.Dims()

	zw, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	if err != nil {
		return fmt.Errorf("failed to open bzip2 writer: %w", err)
	}
	bw := bufio.NewWriter(zw)

	dims := []string{
		strconv.FormatFloat(float64(cols), 'f', 1, 64),
		strconv.FormatFloat(float64(rows), 'f', 1, 64),
	}
	dims = append(dims, hdr.Extra...)
	fmt.Fprintf(bw, "%s\n%s\n%s\n%s\n", hdr.Meta[0], hdr.Meta[1], strings.Join(dims, " "), hdr.Trailer)

	order := opts.byteOrder()
	row := make([]byte, cols*sampleSize)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			order.PutUint64(row[j*sampleSize:], math.Float64bits(pixels.At(i, j)))
		}
		if _, err := bw.Write(row); err != nil {
			zw.Close()
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	if err := bw.Flush(); err != nil {
		zw.Close()
		return fmt.Errorf("failed to flush payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish bzip2 stream: %w", err)
	}
	return nil
}

// EncodeFile writes a container to path atomically.
func EncodeFile(fsys fsutil.FileSystem, path string, hdr Header, pixels mat.Matrix, opts Options) error {
	return fsutil.WriteAtomic(fsys, path, func(w io.Writer) error {
		return Encode(w, hdr, pixels, opts)
	})
}

// Package q2bz reads and writes .q2bz image containers.
//
// A container is a bzip2 stream whose decompressed layout is
//
//	<meta line 1>\n
//	<meta line 2>\n
//	<width> <height>[ extra...]\n
//	<trailer line>\n
//	<width*height float64 samples, row-major>
//
// Width and height are written as decimals ("512.0") and are truncated to
// integers when read. The sample byte order is fixed by Options rather than
// taken from the host.
package q2bz

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"github.com/dsnet/compress/bzip2"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrFormat reports a missing or non-numeric header line.
	ErrFormat = errors.New("malformed q2bz header")

	// ErrShape reports a payload whose size disagrees with the declared
	// width and height.
	ErrShape = errors.New("q2bz payload does not match header dimensions")
)

// maxDimension bounds a single declared side length.
const maxDimension = 1 << 20

const sampleSize = 8

// Header is the text preamble of a container.
type Header struct {
	Meta    [2]string // free-form, not interpreted
	Width   int
	Height  int
	Extra   []string // tokens after width and height on the dimension line
	Trailer string   // the discarded fourth line
}

// Options controls sample decoding.
type Options struct {
	// ByteOrder of the float64 payload. Nil means little endian, which is
	// what the DM4 converter produces on x86 hosts.
	ByteOrder binary.ByteOrder
}

func (o Options) byteOrder() binary.ByteOrder {
	if o.ByteOrder == nil {
		return binary.LittleEndian
	}
	return o.ByteOrder
}

// Image is a decoded container.
type Image struct {
	Header Header
	// Pixels has Header.Height rows and Header.Width columns.
	Pixels *mat.Dense
}

// DecodeFile opens path on fsys and decodes it. The file is closed on every
// return path.
func DecodeFile(fsys fsutil.FileSystem, path string, opts Options) (*Image, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, err := Decode(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Decode reads a bzip2-compressed container from r.
func Decode(r io.Reader, opts Options) (*Image, error) {
	zr, err := bzip2.NewReader(r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bzip2 stream: %w", err)
	}
	defer zr.Close()

	br := bufio.NewReader(zr)
	hdr, err := ReadHeader(br)
	if err != nil {
		return nil, err
	}

	payload, err := io.ReadAll(br)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: payload truncated: %v", ErrShape, err)
		}
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	pixels, err := reshape(payload, hdr.Width, hdr.Height, opts.byteOrder())
	if err != nil {
		return nil, err
	}

	return &Image{Header: hdr, Pixels: pixels}, nil
}

// ReadHeader consumes the four header lines from an already decompressed
// stream, leaving br positioned at the first payload byte.
func ReadHeader(br *bufio.Reader) (Header, error) {
	var hdr Header
	var lines [4]string
	for i := range lines {
		line, err := br.ReadString('\n')
		if err != nil {
			// A cut bzip2 stream yields nothing for its last partial block, so
			// truncation can surface here before any payload is read.
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return hdr, fmt.Errorf("%w: stream truncated in header line %d: %v", ErrShape, i+1, err)
			}
			if errors.Is(err, io.EOF) {
				return hdr, fmt.Errorf("%w: line %d missing or not newline-terminated", ErrFormat, i+1)
			}
			return hdr, fmt.Errorf("%w: line %d: %v", ErrFormat, i+1, err)
		}
		lines[i] = strings.TrimRight(line, "\r\n")
	}

	hdr.Meta = [2]string{lines[0], lines[1]}
	hdr.Trailer = lines[3]

	fields := strings.Fields(lines[2])
	if len(fields) < 2 {
		return hdr, fmt.Errorf("%w: dimension line %q needs width and height", ErrFormat, lines[2])
	}

	var err error
	if hdr.Width, err = parseDimension("width", fields[0]); err != nil {
		return hdr, err
	}
	if hdr.Height, err = parseDimension("height", fields[1]); err != nil {
		return hdr, err
	}
	if len(fields) > 2 {
		hdr.Extra = fields[2:]
	}

	return hdr, nil
}

// parseDimension parses a float-formatted size and truncates it toward zero.
func parseDimension(name, tok string) (int, error) {
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not numeric", ErrFormat, name, tok)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s %q is not finite", ErrFormat, name, tok)
	}
	n := math.Trunc(v)
	if n < 1 || n > maxDimension {
		return 0, fmt.Errorf("%w: %s %q out of range [1, %d]", ErrFormat, name, tok, maxDimension)
	}
	return int(n), nil
}

func reshape(payload []byte, width, height int, order binary.ByteOrder) (*mat.Dense, error) {
	if len(payload)%sampleSize != 0 {
		return nil, fmt.Errorf("%w: %d payload bytes is not a whole number of float64 samples", ErrShape, len(payload))
	}
	n := len(payload) / sampleSize
	if n != width*height {
		return nil, fmt.Errorf("%w: got %d samples, header declares %dx%d = %d", ErrShape, n, width, height, width*height)
	}

	data := make([]float64, n)
	for i := range data {
		data[i] = math.Float64frombits(order.Uint64(payload[i*sampleSize:]))
	}
	return mat.NewDense(height, width, data), nil
}

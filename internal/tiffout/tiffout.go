// Package tiffout encodes binned grids as single-channel TIFF images.
package tiffout

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Format selects the sample encoding.
type Format string

const (
	// Float32 writes 32-bit IEEE floats (SampleFormat=3) with values copied
	// unchanged apart from the narrowing conversion.
	Float32 Format = "float32"

	// Gray16 rescales min..max linearly onto 0..65535 and writes a deflate
	// compressed 16-bit grayscale image.
	Gray16 Format = "gray16"
)

// ParseFormat converts a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case Float32, Gray16:
		return f, nil
	default:
		return "", fmt.Errorf("unknown tiff format %q (want %q or %q)", s, Float32, Gray16)
	}
}

// WriteFile encodes g to path. The file appears only once fully written.
func WriteFile(fsys fsutil.FileSystem, path string, g mat.Matrix, f Format) error {
	return fsutil.WriteAtomic(fsys, path, func(w io.Writer) error {
		return Encode(w, g, f)
	})
}

// Encode writes g to w in format f.
func Encode(w io.Writer, g mat.Matrix, f Format) error {
	switch f {
	case Float32, "":
		return EncodeFloat32(w, g)
	case Gray16:
		return EncodeGray16(w, g)
	default:
		return fmt.Errorf("unknown tiff format %q", f)
	}
}

// EncodeGray16 writes g as a 16-bit grayscale TIFF, stretching the value range
// of g over the full 16-bit range. A constant grid encodes as all zeros.
func EncodeGray16(w io.Writer, g mat.Matrix) error {
	img := ToGray16(g)
	if err := tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("failed to encode gray16 tiff: %w", err)
	}
	return nil
}

// ToGray16 converts g to an image, rescaling linearly from [min, max].
func ToGray16(g mat.Matrix) *image.Gray16 {
	rows, cols := g.Dims()
	img := image.NewGray16(image.Rect(0, 0, cols, rows))

	data := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			data = append(data, g.At(i, j))
		}
	}
	if len(data) == 0 {
		return img
	}

	lo, hi := floats.Min(data), floats.Max(data)
	span := hi - lo
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var y uint16
			if span > 0 {
				y = uint16(math.Round((data[i*cols+j] - lo) / span * math.MaxUint16))
			}
			img.SetGray16(j, i, color.Gray16{Y: y})
		}
	}
	return img
}

// TIFF tag numbers and field types used by the float writer.
const (
	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagStripOffsets              = 273
	tagSamplesPerPixel           = 277
	tagRowsPerStrip              = 278
	tagStripByteCounts           = 279
	tagPlanarConfiguration       = 284
	tagSampleFormat              = 339

	typeShort = 3
	typeLong  = 4

	sampleFormatIEEEFP = 3
	headerSize         = 8
	ifdEntrySize       = 12
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	value uint32
}

// EncodeFloat32 writes g as an uncompressed little-endian TIFF with one
// strip of 32-bit floating point samples, the layout image tools expect for
// mode "F" grayscale images.
func EncodeFloat32(w io.Writer, g mat.Matrix) error {
	rows, cols := g.Dims()
	if rows == 0 || cols == 0 {
		return fmt.Errorf("cannot encode empty %dx%d grid", cols, rows)
	}
	stripBytes := uint64(rows) * uint64(cols) * 4
	if stripBytes+headerSize > math.MaxUint32-1024 {
		return fmt.Errorf("%dx%d grid is too large for a classic tiff", cols, rows)
	}

	entries := []ifdEntry{
		{tagImageWidth, typeLong, uint32(cols)},
		{tagImageLength, typeLong, uint32(rows)},
		{tagBitsPerSample, typeShort, 32},
		{tagCompression, typeShort, 1},
		{tagPhotometricInterpretation, typeShort, 1}, // black is zero
		{tagStripOffsets, typeLong, headerSize},
		{tagSamplesPerPixel, typeShort, 1},
		{tagRowsPerStrip, typeLong, uint32(rows)},
		{tagStripByteCounts, typeLong, uint32(stripBytes)},
		{tagPlanarConfiguration, typeShort, 1},
		{tagSampleFormat, typeShort, sampleFormatIEEEFP},
	}

	le := binary.LittleEndian
	ifdOffset := uint32(headerSize + stripBytes)

	header := make([]byte, 0, headerSize)
	header = append(header, 'I', 'I')
	header = le.AppendUint16(header, 42)
	header = le.AppendUint32(header, ifdOffset)
	if _, err := w.Write(header); err != nil {
		return err
	}

	row := make([]byte, cols*4)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			le.PutUint32(row[j*4:], math.Float32bits(float32(g.At(i, j))))
		}
		if _, err := w.Write(row); err != nil {
			return err
		}
	}

	ifd := make([]byte, 0, 2+len(entries)*ifdEntrySize+4)
	ifd = le.AppendUint16(ifd, uint16(len(entries)))
	for _, e := range entries {
		ifd = le.AppendUint16(ifd, e.tag)
		ifd = le.AppendUint16(ifd, e.typ)
		ifd = le.AppendUint32(ifd, 1)
		if e.typ == typeShort {
			// SHORT values are left-justified in the 4-byte value field.
			ifd = le.AppendUint16(ifd, uint16(e.value))
			ifd = le.AppendUint16(ifd, 0)
		} else {
			ifd = le.AppendUint32(ifd, e.value)
		}
	}
	ifd = le.AppendUint32(ifd, 0) // no further IFDs
	_, err := w.Write(ifd)
	return err
}

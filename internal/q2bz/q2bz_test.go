package q2bz

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/dm4tiff/internal/fsutil"
	"github.com/dsnet/compress/bzip2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// container builds a compressed stream from a literal header and samples.
func container(t *testing.T, header string, samples []float64, order binary.AppendByteOrder) []byte {
	t.Helper()
	raw := []byte(header)
	for _, v := range samples {
		raw = order.AppendUint64(raw, math.Float64bits(v))
	}
	return compress(t, raw)
}

func compress(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := bzip2.NewWriter(&buf, nil)
	require.NoError(t, err)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func rows(m mat.Matrix) [][]float64 {
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

func TestDecode_SequentialPayload(t *testing.T) {
	t.Parallel()

	data := container(t, "meta1\nmeta2\n8.0 4.0 ignored\nmeta4\n", ramp(32), binary.LittleEndian)

	img, err := Decode(bytes.NewReader(data), Options{})
	require.NoError(t, err)

	assert.Equal(t, 8, img.Header.Width)
	assert.Equal(t, 4, img.Header.Height)
	assert.Equal(t, [2]string{"meta1", "meta2"}, img.Header.Meta)
	assert.Equal(t, []string{"ignored"}, img.Header.Extra)
	assert.Equal(t, "meta4", img.Header.Trailer)

	r, c := img.Pixels.Dims()
	require.Equal(t, 4, r)
	require.Equal(t, 8, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.Equal(t, float64(i*8+j), img.Pixels.At(i, j), "element [%d][%d]", i, j)
		}
	}
}

func TestDecode_TruncatesFractionalDimensions(t *testing.T) {
	t.Parallel()

	data := container(t, "a\nb\n3.9 2.2\n\n", ramp(6), binary.LittleEndian)

	img, err := Decode(bytes.NewReader(data), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, img.Header.Width)
	assert.Equal(t, 2, img.Header.Height)
	assert.Empty(t, img.Header.Extra)
}

func TestDecode_BigEndian(t *testing.T) {
	t.Parallel()

	samples := []float64{1.5, -2.25, 1e300, math.SmallestNonzeroFloat64}
	data := container(t, "m\nm\n2 2\nt\n", samples, binary.BigEndian)

	img, err := Decode(bytes.NewReader(data), Options{ByteOrder: binary.BigEndian})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1.5, -2.25}, {1e300, math.SmallestNonzeroFloat64}}, rows(img.Pixels))

	// The same bytes read as little endian are different numbers.
	img, err = Decode(bytes.NewReader(data), Options{})
	require.NoError(t, err)
	assert.NotEqual(t, 1.5, img.Pixels.At(0, 0))
}

func TestDecode_FormatErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
	}{
		{"non-numeric width", "m\nm\nwide 4.0\nt\n"},
		{"non-numeric height", "m\nm\n8.0 tall\nt\n"},
		{"single token", "m\nm\n8.0\nt\n"},
		{"blank dimension line", "m\nm\n\nt\n"},
		{"zero width", "m\nm\n0.0 4.0\nt\n"},
		{"negative height", "m\nm\n8.0 -4.0\nt\n"},
		{"NaN width", "m\nm\nNaN 4.0\nt\n"},
		{"infinite height", "m\nm\n8.0 Inf\nt\n"},
		{"too large", "m\nm\n1e9 1.0\nt\n"},
		{"missing trailer line", "m\nm\n8.0 4.0"},
		{"only two lines", "m\nm\n"},
		{"empty stream", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data := container(t, tt.header, nil, binary.LittleEndian)
			_, err := Decode(bytes.NewReader(data), Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrFormat)
			assert.NotErrorIs(t, err, ErrShape)
		})
	}
}

func TestDecode_ShapeErrors(t *testing.T) {
	t.Parallel()

	t.Run("payload not a multiple of 8 bytes", func(t *testing.T) {
		t.Parallel()
		raw := []byte("m\nm\n2.0 2.0\nt\n")
		for _, v := range ramp(4) {
			raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(v))
		}
		raw = raw[:len(raw)-3]

		_, err := Decode(bytes.NewReader(compress(t, raw)), Options{})
		assert.ErrorIs(t, err, ErrShape)
	})

	t.Run("too few samples", func(t *testing.T) {
		t.Parallel()
		data := container(t, "m\nm\n8.0 4.0\nt\n", ramp(31), binary.LittleEndian)
		_, err := Decode(bytes.NewReader(data), Options{})
		assert.ErrorIs(t, err, ErrShape)
	})

	t.Run("extra row", func(t *testing.T) {
		t.Parallel()
		data := container(t, "m\nm\n8.0 4.0\nt\n", ramp(40), binary.LittleEndian)
		_, err := Decode(bytes.NewReader(data), Options{})
		assert.ErrorIs(t, err, ErrShape)
	})

	t.Run("empty payload", func(t *testing.T) {
		t.Parallel()
		data := container(t, "m\nm\n8.0 4.0\nt\n", nil, binary.LittleEndian)
		_, err := Decode(bytes.NewReader(data), Options{})
		assert.ErrorIs(t, err, ErrShape)
	})
}

func TestDecode_NotBzip2(t *testing.T) {
	t.Parallel()

	_, err := Decode(bytes.NewReader([]byte("m\nm\n8.0 4.0\nt\n")), Options{})
	require.Error(t, err)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	pixels := mat.NewDense(3, 5, ramp(15))
	pixels.Set(1, 2, -0.125)
	hdr := Header{
		Meta:    [2]string{"QuOcMeSh", "# converted from sample.dm4"},
		Extra:   []string{"1"},
		Trailer: "255",
	}

	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, hdr, pixels, Options{ByteOrder: order}))

		img, err := Decode(&buf, Options{ByteOrder: order})
		require.NoError(t, err)

		want := hdr
		want.Width, want.Height = 5, 3
		if diff := cmp.Diff(want, img.Header); diff != "" {
			t.Errorf("header mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(rows(pixels), rows(img.Pixels)); diff != "" {
			t.Errorf("pixel mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEncode_RejectsMultilineHeader(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := Encode(&buf, Header{Meta: [2]string{"a\nb", ""}}, mat.NewDense(1, 1, nil), Options{})
	assert.ErrorIs(t, err, ErrFormat)

	err = Encode(&buf, Header{Extra: []string{"two words"}}, mat.NewDense(1, 1, nil), Options{})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDecodeFile(t *testing.T) {
	t.Parallel()

	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, EncodeFile(mfs, "/data/img.q2bz", Header{}, mat.NewDense(2, 3, ramp(6)), Options{}))

	img, err := DecodeFile(mfs, "/data/img.q2bz", Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 1, 2}, {3, 4, 5}}, rows(img.Pixels))

	_, err = DecodeFile(mfs, "/data/missing.q2bz", Options{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFormat)

	require.NoError(t, mfs.WriteFile("/data/bad.q2bz", container(t, "m\nm\nx y\nt\n", nil, binary.LittleEndian), 0644))
	_, err = DecodeFile(mfs, "/data/bad.q2bz", Options{})
	assert.ErrorIs(t, err, ErrFormat)
	assert.Contains(t, err.Error(), "/data/bad.q2bz")
}

func TestDecode_TruncatedStream(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := Encode(&buf, Header{Meta: [2]string{"m1", "m2"}, Trailer: "t"}, mat.NewDense(64, 64, ramp(64*64)), Options{}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	full := buf.Bytes()

	cuts := map[string]int{
		"half":          len(full) / 2,
		"three quarter": len(full) * 3 / 4,
		"footer":        len(full) - 2,
	}
	for name, n := range cuts {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(full[:n]), Options{})
			if !errors.Is(err, ErrShape) {
				t.Errorf("Decode(%d of %d bytes) error = %v, want ErrShape", n, len(full), err)
			}
			if errors.Is(err, ErrFormat) {
				t.Errorf("Decode(%d of %d bytes) reported a malformed header: %v", n, len(full), err)
			}
		})
	}
}

package testsupport

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	mkdirFor(t, path)
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x42}, int(size)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteWAV writes a mono 16-bit PCM wav file holding samples zero samples.
func WriteWAV(t testing.TB, path string, sampleRate, samples int) {
	t.Helper()

	var buf bytes.Buffer
	dataSize := uint32(samples * 2)
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36)+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(make([]byte, dataSize))

	mkdirFor(t, path)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write wav %s: %v", path, err)
	}
}

// Array is a float64 array written into an .npz archive.
type Array struct {
	Shape []int
	Data  []float64
}

// WriteNPZ writes arrays as little-endian float64 .npy members of an .npz
// archive.
func WriteNPZ(t testing.TB, path string, arrays map[string]Array) {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, arr := range arrays {
		w, err := zw.Create(name + ".npy")
		if err != nil {
			t.Fatalf("create npz member %s: %v", name, err)
		}
		if _, err := w.Write(encodeNPY(arr)); err != nil {
			t.Fatalf("write npz member %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close npz: %v", err)
	}
	mkdirFor(t, path)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write npz %s: %v", path, err)
	}
}

// WriteSpectNPZ writes a spectrogram file with keys s, f and t. Values of s
// count up from zero in row-major order; t starts at zero and advances by
// timebinDur.
func WriteSpectNPZ(t testing.TB, path string, freqBins, timebins int, timebinDur float64) {
	t.Helper()

	s := make([]float64, freqBins*timebins)
	for i := range s {
		s[i] = float64(i)
	}
	f := make([]float64, freqBins)
	for i := range f {
		f[i] = float64(i) * 100
	}
	tb := make([]float64, timebins)
	for i := range tb {
		tb[i] = float64(i) * timebinDur
	}
	WriteNPZ(t, path, map[string]Array{
		"s": {Shape: []int{freqBins, timebins}, Data: s},
		"f": {Shape: []int{freqBins}, Data: f},
		"t": {Shape: []int{timebins}, Data: tb},
	})
}

// Segment is one annotation row.
type Segment struct {
	Onset, Offset float64
	Label         string
}

// WriteAnnotCSV writes a per-clip annotation in the csv format.
func WriteAnnotCSV(t testing.TB, path string, segments []Segment) {
	t.Helper()

	var b strings.Builder
	b.WriteString("onset_s,offset_s,label\n")
	for _, seg := range segments {
		b.WriteString(strconv.FormatFloat(seg.Onset, 'g', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(seg.Offset, 'g', -1, 64))
		b.WriteByte(',')
		b.WriteString(seg.Label)
		b.WriteByte('\n')
	}
	mkdirFor(t, path)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write annotation %s: %v", path, err)
	}
}

func encodeNPY(arr Array) []byte {
	dims := make([]string, len(arr.Shape))
	for i, d := range arr.Shape {
		dims[i] = strconv.Itoa(d)
	}
	shape := strings.Join(dims, ", ")
	if len(dims) == 1 {
		shape += ","
	}
	header := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': (%s), }", shape)
	// Pad so the data starts on a 64-byte boundary, ending with a newline.
	total := 10 + len(header) + 1
	if rem := total % 64; rem != 0 {
		header += strings.Repeat(" ", 64-rem)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	for _, v := range arr.Data {
		_ = binary.Write(&buf, binary.LittleEndian, math.Float64bits(v))
	}
	return buf.Bytes()
}

func mkdirFor(t testing.TB, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
}

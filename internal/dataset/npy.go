package dataset

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// array is a decoded .npy array converted to float64 in C (row-major) order.
type array struct {
	shape []int
	data  []float64
}

var (
	npyDescr   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	npyFortran = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	npyShape   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// readNPZ decodes every .npy member of an .npz archive, keyed by name
// without the extension.
func readNPZ(r io.ReaderAt, size int64) (map[string]array, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open npz archive: %w", err)
	}
	out := make(map[string]array, len(zr.File))
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".npy") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s in npz: %w", f.Name, err)
		}
		arr, err := readNPY(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s in npz: %w", f.Name, err)
		}
		out[strings.TrimSuffix(f.Name, ".npy")] = arr
	}
	return out, nil
}

func readNPY(r io.Reader) (array, error) {
	var preamble [8]byte
	if _, err := io.ReadFull(r, preamble[:]); err != nil {
		return array{}, fmt.Errorf("read npy magic: %w", err)
	}
	if string(preamble[:6]) != "\x93NUMPY" {
		return array{}, fmt.Errorf("invalid npy magic")
	}
	var headerLen int
	switch major := preamble[6]; {
	case major == 1:
		var n [2]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return array{}, fmt.Errorf("read npy header length: %w", err)
		}
		headerLen = int(binary.LittleEndian.Uint16(n[:]))
	case major >= 2:
		var n [4]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return array{}, fmt.Errorf("read npy header length: %w", err)
		}
		headerLen = int(binary.LittleEndian.Uint32(n[:]))
	default:
		return array{}, fmt.Errorf("unsupported npy version %d.%d", preamble[6], preamble[7])
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return array{}, fmt.Errorf("read npy header: %w", err)
	}
	descr, shape, fortran, err := parseNPYHeader(string(header))
	if err != nil {
		return array{}, err
	}

	count := 1
	for _, dim := range shape {
		count *= dim
	}
	decode, width, err := npyDecoder(descr)
	if err != nil {
		return array{}, err
	}
	raw := make([]byte, count*width)
	if _, err := io.ReadFull(r, raw); err != nil {
		return array{}, fmt.Errorf("read npy data (%d bytes): %w", len(raw), err)
	}
	data := make([]float64, count)
	for i := range data {
		data[i] = decode(raw[i*width : (i+1)*width])
	}
	if fortran && len(shape) == 2 {
		data = fortranToC(data, shape[0], shape[1])
	} else if fortran && len(shape) > 2 {
		return array{}, fmt.Errorf("fortran-ordered arrays with %d dimensions are not supported", len(shape))
	}
	return array{shape: shape, data: data}, nil
}

func parseNPYHeader(header string) (string, []int, bool, error) {
	descr := npyDescr.FindStringSubmatch(header)
	if len(descr) < 2 {
		return "", nil, false, fmt.Errorf("npy header has no descr: %q", header)
	}
	fortran := npyFortran.FindStringSubmatch(header)
	if len(fortran) < 2 {
		return "", nil, false, fmt.Errorf("npy header has no fortran_order: %q", header)
	}
	shapeMatch := npyShape.FindStringSubmatch(header)
	if len(shapeMatch) < 2 {
		return "", nil, false, fmt.Errorf("npy header has no shape: %q", header)
	}
	var shape []int
	for _, part := range strings.Split(shapeMatch[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dim, err := strconv.Atoi(part)
		if err != nil {
			return "", nil, false, fmt.Errorf("npy shape %q: %w", shapeMatch[1], err)
		}
		shape = append(shape, dim)
	}
	return descr[1], shape, fortran[1] == "True", nil
}

func npyDecoder(descr string) (func([]byte) float64, int, error) {
	var order binary.ByteOrder = binary.LittleEndian
	if strings.HasPrefix(descr, ">") {
		order = binary.BigEndian
	}
	switch strings.TrimLeft(descr, "<>|=") {
	case "f8":
		return func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }, 8, nil
	case "f4":
		return func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }, 4, nil
	case "i8":
		return func(b []byte) float64 { return float64(int64(order.Uint64(b))) }, 8, nil
	case "i4":
		return func(b []byte) float64 { return float64(int32(order.Uint32(b))) }, 4, nil
	case "i2":
		return func(b []byte) float64 { return float64(int16(order.Uint16(b))) }, 2, nil
	case "u1", "b1":
		return func(b []byte) float64 { return float64(b[0]) }, 1, nil
	default:
		return nil, 0, fmt.Errorf("unsupported npy dtype %q", descr)
	}
}

func fortranToC(data []float64, rows, cols int) []float64 {
	out := make([]float64, len(data))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[r*cols+c] = data[c*rows+r]
		}
	}
	return out
}

package gcio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/MichaelMauderer/Gazer/grid"
)

// Arrays are stored in the NumPy .npy layout so that containers written by
// the Python tools stay readable.

var npyMagic = []byte("\x93NUMPY")

// ErrBadArray is returned for array payloads that cannot be decoded.
var ErrBadArray = errors.New("malformed array")

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// Array dtypes written by EncodeArray.
const (
	DTypeUint8   = "|u1"
	DTypeUint16  = "<u2"
	DTypeFloat64 = "<f8"
)

// EncodeArray writes g as a version 1.0 .npy array of the given dtype
// (DTypeUint8, DTypeUint16 or DTypeFloat64). Single channel grids get a 2D shape.
func EncodeArray(g *grid.Grid, dtype string) ([]byte, error) {
	var shape string
	if g.Channels == 1 {
		shape = fmt.Sprintf("(%d, %d)", g.Rows, g.Cols)
	} else {
		shape = fmt.Sprintf("(%d, %d, %d)", g.Rows, g.Cols, g.Channels)
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", dtype, shape)
	// magic + version + header length + header + '\n' is padded to 64 bytes.
	total := len(npyMagic) + 2 + 2 + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)

	switch dtype {
	case DTypeUint8:
		for _, v := range g.Data {
			buf.WriteByte(clampByte(v))
		}
	case DTypeUint16:
		b := make([]byte, 2)
		for _, v := range g.Data {
			binary.LittleEndian.PutUint16(b, clampUint16(v))
			buf.Write(b)
		}
	case DTypeFloat64:
		b := make([]byte, 8)
		for _, v := range g.Data {
			binary.LittleEndian.PutUint64(b, math.Float64bits(v))
			buf.Write(b)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
	return buf.Bytes(), nil
}

func clampByte(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}

func clampUint16(v float64) uint16 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(v)
}

// DecodeArray reads a .npy array with one, two or three dimensions. One
// dimensional arrays become a single row.
func DecodeArray(data []byte) (*grid.Grid, error) {
	g, _, err := decodeArray(data)
	return g, err
}

// decodeArray is DecodeArray that also returns the dtype kind ("u1", "f8", ...).
func decodeArray(data []byte) (*grid.Grid, string, error) {
	if len(data) < 10 || !bytes.Equal(data[:6], npyMagic) {
		return nil, "", fmt.Errorf("%w: missing npy magic", ErrBadArray)
	}
	major := data[6]
	var headerLen, offset int
	switch major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(data[8:10]))
		offset = 10
	case 2, 3:
		if len(data) < 12 {
			return nil, "", fmt.Errorf("%w: truncated header", ErrBadArray)
		}
		headerLen = int(binary.LittleEndian.Uint32(data[8:12]))
		offset = 12
	default:
		return nil, "", fmt.Errorf("%w: unsupported npy version %d", ErrBadArray, major)
	}
	if offset+headerLen > len(data) {
		return nil, "", fmt.Errorf("%w: truncated header", ErrBadArray)
	}
	header := string(data[offset : offset+headerLen])
	body := data[offset+headerLen:]

	descr, fortran, shape, err := parseHeader(header)
	if err != nil {
		return nil, "", err
	}
	read, size, err := elementReader(descr)
	if err != nil {
		return nil, "", err
	}

	var rows, cols, channels int
	switch len(shape) {
	case 1:
		rows, cols, channels = 1, shape[0], 1
	case 2:
		rows, cols, channels = shape[0], shape[1], 1
	case 3:
		rows, cols, channels = shape[0], shape[1], shape[2]
	default:
		return nil, "", fmt.Errorf("%w: unsupported shape %v", ErrBadArray, shape)
	}
	// Every element needs size bytes, so no valid shape has more elements
	// than len(body)/size. Checking each factor first keeps the product from
	// overflowing.
	if len(shape) == 3 && channels == 0 {
		return nil, "", fmt.Errorf("%w: shape %v has no channels", ErrBadArray, shape)
	}
	limit := len(body) / size
	n := 1
	for _, d := range []int{rows, cols, channels} {
		if d > limit || (d != 0 && n > limit/d) {
			return nil, "", fmt.Errorf("%w: shape %v needs more than the %d bytes of data", ErrBadArray, shape, len(body))
		}
		n *= d
	}

	g := grid.New(rows, cols, channels)
	for i := 0; i < n; i++ {
		v := read(body[i*size : (i+1)*size])
		if fortran {
			// Column-major: the first axis varies fastest.
			r := i % rows
			c := (i / rows) % cols
			ch := i / (rows * cols)
			g.Set(r, c, ch, v)
		} else {
			g.Data[i] = v
		}
	}
	return g, descr[1:], nil
}

func parseHeader(header string) (string, bool, []int, error) {
	m := descrRe.FindStringSubmatch(header)
	if m == nil {
		return "", false, nil, fmt.Errorf("%w: no descr in header", ErrBadArray)
	}
	descr := m[1]
	fortran := false
	if f := fortranRe.FindStringSubmatch(header); f != nil {
		fortran = f[1] == "True"
	}
	s := shapeRe.FindStringSubmatch(header)
	if s == nil {
		return "", false, nil, fmt.Errorf("%w: no shape in header", ErrBadArray)
	}
	var shape []int
	for _, part := range strings.Split(s[1], ",") {
		part = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), "L"))
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 {
			return "", false, nil, fmt.Errorf("%w: bad shape %q", ErrBadArray, s[1])
		}
		shape = append(shape, d)
	}
	return descr, fortran, shape, nil
}

func elementReader(descr string) (func([]byte) float64, int, error) {
	if len(descr) < 3 {
		return nil, 0, fmt.Errorf("%w: bad dtype %q", ErrBadArray, descr)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if descr[0] == '>' {
		order = binary.BigEndian
	}
	kind := descr[1:]
	switch kind {
	case "u1":
		return func(b []byte) float64 { return float64(b[0]) }, 1, nil
	case "i1":
		return func(b []byte) float64 { return float64(int8(b[0])) }, 1, nil
	case "b1":
		return func(b []byte) float64 {
			if b[0] != 0 {
				return 1
			}
			return 0
		}, 1, nil
	case "u2":
		return func(b []byte) float64 { return float64(order.Uint16(b)) }, 2, nil
	case "i2":
		return func(b []byte) float64 { return float64(int16(order.Uint16(b))) }, 2, nil
	case "u4":
		return func(b []byte) float64 { return float64(order.Uint32(b)) }, 4, nil
	case "i4":
		return func(b []byte) float64 { return float64(int32(order.Uint32(b))) }, 4, nil
	case "u8":
		return func(b []byte) float64 { return float64(order.Uint64(b)) }, 8, nil
	case "i8":
		return func(b []byte) float64 { return float64(int64(order.Uint64(b))) }, 8, nil
	case "f4":
		return func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }, 4, nil
	case "f8":
		return func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }, 8, nil
	}
	return nil, 0, fmt.Errorf("%w: unsupported dtype %q", ErrBadArray, descr)
}

// Package grid holds the numeric arrays that back depth lookup tables and
// raw frame data. A Grid is row-major with interleaved channels.
package grid

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Grid is a rows x cols x channels array of float64 values.
type Grid struct {
	Rows     int
	Cols     int
	Channels int
	Data     []float64
}

// New allocates a zeroed grid. Channels below 1 are treated as 1.
func New(rows, cols, channels int) *Grid {
	if channels < 1 {
		channels = 1
	}
	return &Grid{
		Rows:     rows,
		Cols:     cols,
		Channels: channels,
		Data:     make([]float64, rows*cols*channels),
	}
}

// FromRows builds a single channel grid from a slice of equally sized rows.
func FromRows(rows [][]float64) (*Grid, error) {
	if len(rows) == 0 {
		return New(0, 0, 1), nil
	}
	cols := len(rows[0])
	g := New(len(rows), cols, 1)
	for r, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d", r, len(row), cols)
		}
		copy(g.Data[r*cols:(r+1)*cols], row)
	}
	return g, nil
}

// MustFromRows is FromRows for fixtures known to be rectangular.
func MustFromRows(rows [][]float64) *Grid {
	g, err := FromRows(rows)
	if err != nil {
		panic(err)
	}
	return g
}

// Shape returns rows, cols and channels.
func (g *Grid) Shape() (int, int, int) {
	return g.Rows, g.Cols, g.Channels
}

// Len is the number of scalar entries.
func (g *Grid) Len() int {
	return len(g.Data)
}

func (g *Grid) index(r, c, ch int) int {
	return (r*g.Cols+c)*g.Channels + ch
}

// InBounds reports whether (r, c) addresses a cell of the grid.
func (g *Grid) InBounds(r, c int) bool {
	return r >= 0 && c >= 0 && r < g.Rows && c < g.Cols
}

// At returns the value of channel ch at (r, c).
func (g *Grid) At(r, c, ch int) float64 {
	return g.Data[g.index(r, c, ch)]
}

// Set stores v into channel ch at (r, c).
func (g *Grid) Set(r, c, ch int, v float64) {
	g.Data[g.index(r, c, ch)] = v
}

// Mean returns the arithmetic mean across the channels of cell (r, c).
func (g *Grid) Mean(r, c int) float64 {
	i := g.index(r, c, 0)
	if g.Channels == 1 {
		return g.Data[i]
	}
	return floats.Sum(g.Data[i:i+g.Channels]) / float64(g.Channels)
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := &Grid{Rows: g.Rows, Cols: g.Cols, Channels: g.Channels, Data: make([]float64, len(g.Data))}
	copy(out.Data, g.Data)
	return out
}

// Equal reports whether both grids have the same shape and identical values.
func (g *Grid) Equal(o *Grid) bool {
	if g == nil || o == nil {
		return g == o
	}
	if g.Rows != o.Rows || g.Cols != o.Cols || g.Channels != o.Channels {
		return false
	}
	return floats.Equal(g.Data, o.Data)
}

// MinMax returns the smallest and largest value. An empty grid yields (0, 0).
func (g *Grid) MinMax() (float64, float64) {
	if len(g.Data) == 0 {
		return 0, 0
	}
	return floats.Min(g.Data), floats.Max(g.Data)
}

// Flatten returns a single channel grid of the per-cell channel means.
// Single channel grids are returned as a copy.
func (g *Grid) Flatten() *Grid {
	if g.Channels == 1 {
		return g.Clone()
	}
	out := New(g.Rows, g.Cols, 1)
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			out.Data[r*g.Cols+c] = g.Mean(r, c)
		}
	}
	return out
}

// Apply replaces every value with fn(value) in place and returns g.
func (g *Grid) Apply(fn func(float64) float64) *Grid {
	for i, v := range g.Data {
		g.Data[i] = fn(v)
	}
	return g
}

// Normalized rescales every value into 0..255 with
// (v - min) / (max - min) * 255, truncated to uint8.
// A flat grid (max == min) yields all zeros.
func (g *Grid) Normalized() []uint8 {
	out := make([]uint8, len(g.Data))
	lo, hi := g.MinMax()
	span := hi - lo
	if span == 0 || math.IsNaN(span) {
		return out
	}
	for i, v := range g.Data {
		out[i] = uint8(255 * ((v - lo) / span))
	}
	return out
}

// NormalizedImage returns Normalized as an 8-bit image: Gray for single
// channel grids, RGBA otherwise.
func (g *Grid) NormalizedImage() image.Image {
	return pixelsToImage(g.Normalized(), g.Rows, g.Cols, g.Channels)
}

// ToImage converts the raw values into an 8-bit image, clamping into 0..255.
func (g *Grid) ToImage() image.Image {
	pix := make([]uint8, len(g.Data))
	for i, v := range g.Data {
		pix[i] = clamp8(v)
	}
	return pixelsToImage(pix, g.Rows, g.Cols, g.Channels)
}

// ToImage16 converts a single channel grid into a 16-bit grey image,
// clamping into 0..65535. Other grids fall back to ToImage.
func (g *Grid) ToImage16() image.Image {
	if g.Channels != 1 {
		return g.ToImage()
	}
	img := image.NewGray16(image.Rect(0, 0, g.Cols, g.Rows))
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			img.SetGray16(c, r, color.Gray16{Y: clamp16(g.Data[r*g.Cols+c])})
		}
	}
	return img
}

func clamp16(v float64) uint16 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(v)
	}
}

func clamp8(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

func pixelsToImage(pix []uint8, rows, cols, channels int) image.Image {
	rect := image.Rect(0, 0, cols, rows)
	if channels == 1 {
		img := image.NewGray(rect)
		for r := 0; r < rows; r++ {
			copy(img.Pix[r*img.Stride:r*img.Stride+cols], pix[r*cols:(r+1)*cols])
		}
		return img
	}
	img := image.NewRGBA(rect)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			src := (r*cols + c) * channels
			dst := r*img.Stride + c*4
			switch {
			case channels >= 3:
				img.Pix[dst+0] = pix[src+0]
				img.Pix[dst+1] = pix[src+1]
				img.Pix[dst+2] = pix[src+2]
			default:
				img.Pix[dst+0] = pix[src]
				img.Pix[dst+1] = pix[src]
				img.Pix[dst+2] = pix[src]
			}
			if channels >= 4 {
				img.Pix[dst+3] = pix[src+3]
			} else {
				img.Pix[dst+3] = 255
			}
		}
	}
	return img
}

// FromImage converts an image into a grid. Gray images become single channel
// grids (Gray16 keeps its 16-bit range); everything else becomes RGB.
func FromImage(img image.Image) *Grid {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch src := img.(type) {
	case *image.Gray:
		g := New(h, w, 1)
		for y := 0; y < h; y++ {
			row := src.Pix[(y)*src.Stride : (y)*src.Stride+w]
			for x, v := range row {
				g.Data[y*w+x] = float64(v)
			}
		}
		return g
	case *image.Gray16:
		g := New(h, w, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g.Data[y*w+x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return g
	}
	g := New(h, w, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			i := (y*w + x) * 3
			g.Data[i+0] = float64(c.R)
			g.Data[i+1] = float64(c.G)
			g.Data[i+2] = float64(c.B)
		}
	}
	return g
}

// Unique returns the sorted distinct per-cell values (channel means) and a
// single channel grid holding, for every cell, the index of its value in
// that sorted list. All NaN cells share one slot at the end of the list.
func (g *Grid) Unique() ([]float64, *Grid) {
	seen := make(map[float64]struct{})
	hasNaN := false
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			if v := g.Mean(r, c); math.IsNaN(v) {
				hasNaN = true
			} else {
				seen[v] = struct{}{}
			}
		}
	}
	values := make([]float64, 0, len(seen)+1)
	for v := range seen {
		values = append(values, v)
	}
	sort.Float64s(values)

	position := make(map[float64]int, len(values))
	for i, v := range values {
		position[v] = i
	}
	nanSlot := len(values)
	if hasNaN {
		values = append(values, math.NaN())
	}
	inverse := New(g.Rows, g.Cols, 1)
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			v := g.Mean(r, c)
			if math.IsNaN(v) {
				inverse.Data[r*g.Cols+c] = float64(nanSlot)
			} else {
				inverse.Data[r*g.Cols+c] = float64(position[v])
			}
		}
	}
	return values, inverse
}

// HasNaN reports whether any value is NaN.
func (g *Grid) HasNaN() bool {
	return floats.HasNaN(g.Data)
}

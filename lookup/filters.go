package lookup

import (
	"math"
	"runtime"

	"github.com/MichaelMauderer/Gazer/grid"
	"github.com/MichaelMauderer/Gazer/imaging"
)

// FilterFunc transforms a depth grid once, before any sampling.
type FilterFunc func(*grid.Grid) *grid.Grid

// NewFiltered returns an Array table over filter(g). g itself is left untouched.
func NewFiltered(g *grid.Grid, filter FilterFunc) *Array {
	return NewArray(filter(g.Clone()))
}

// NewEroded returns an Array table over the grey erosion of g with a
// height x width window.
func NewEroded(g *grid.Grid, height, width int) *Array {
	return NewArray(Erode(g, height, width))
}

// Erode applies a minimum filter with a height x width window centered on
// each cell. Cells outside the grid are mirrored from the edge, so the edge
// cell itself is repeated. Each channel is filtered independently.
func Erode(g *grid.Grid, height, width int) *grid.Grid {
	if height < 1 {
		height = 1
	}
	if width < 1 {
		width = 1
	}
	out := grid.New(g.Rows, g.Cols, g.Channels)
	if g.Rows == 0 || g.Cols == 0 {
		return out
	}
	oy, ox := height/2, width/2

	imaging.ParallelRows(g.Rows, runtime.NumCPU(), func(y0, y1 int) {
		for r := y0; r < y1; r++ {
			for c := 0; c < g.Cols; c++ {
				for ch := 0; ch < g.Channels; ch++ {
					lo := math.Inf(1)
					for dy := 0; dy < height; dy++ {
						rr := mirror(r+dy-oy, g.Rows)
						for dx := 0; dx < width; dx++ {
							cc := mirror(c+dx-ox, g.Cols)
							if v := g.At(rr, cc, ch); v < lo {
								lo = v
							}
						}
					}
					out.Set(r, c, ch, lo)
				}
			}
		}
	})
	return out
}

// mirror reflects i into [0, n) repeating the edge element (d c b a | a b c d).
func mirror(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// NewPerspectiveCorrected returns an Array table over CorrectPerspective(g, fov, normalise).
func NewPerspectiveCorrected(g *grid.Grid, fov float64, normalise bool) *Array {
	return NewArray(CorrectPerspective(g, fov, normalise))
}

// CorrectPerspective converts distances to the camera into distances to the
// scene plane. fov is the field of view across the longest edge in radians.
// With normalise set the result is rescaled into 0..255; a flat result
// becomes all zero.
func CorrectPerspective(g *grid.Grid, fov float64, normalise bool) *grid.Grid {
	out := g.Clone()
	if g.Rows == 0 || g.Cols == 0 {
		return out
	}
	cy := float64(g.Rows) / 2
	cx := float64(g.Cols) / 2
	half := float64(max(g.Rows, g.Cols)) / 2
	ratio := math.Sin(fov/2) / math.Sin(math.Pi/2-fov/2)

	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			d := math.Hypot(float64(r)-cy, float64(c)-cx) / half
			alpha := math.Atan(d * ratio)
			scale := math.Sin(math.Pi/2 - alpha)
			for ch := 0; ch < g.Channels; ch++ {
				out.Set(r, c, ch, g.At(r, c, ch)*scale)
			}
		}
	}

	if normalise {
		lo, hi := out.MinMax()
		span := hi - lo
		out.Apply(func(v float64) float64 {
			if span == 0 {
				return 0
			}
			return (v - lo) * 255 / span
		})
	}
	return out
}

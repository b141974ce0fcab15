// Package colorscene renders still images whose tone mapping follows the
// gaze: statistics of a window around the gaze position drive a mapping
// that is applied to the whole image.
package colorscene

import (
	"fmt"
	"image"
	"math"
	"runtime"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/stat"

	"github.com/MichaelMauderer/Gazer/gaze"
	"github.com/MichaelMauderer/Gazer/imaging"
	"github.com/MichaelMauderer/Gazer/scene"
)

// Container types of the two processors.
const (
	TypeHistogram = "hist_color_image"
	TypeRescaled  = "rescaled_color_image"
)

// DefaultWindow is the window size in pixels (width, height).
var DefaultWindow = image.Pt(500, 500)

// Types lists the supported processor types.
func Types() []string {
	return []string{TypeHistogram, TypeRescaled}
}

// New returns the processor for typ over img. A window without area uses
// DefaultWindow.
func New(typ string, img image.Image, window image.Point) (scene.Processor, error) {
	if window.X <= 0 || window.Y <= 0 {
		window = DefaultWindow
	}
	switch typ {
	case TypeHistogram:
		return NewHistogram(img, window), nil
	case TypeRescaled:
		return NewRescaled(img, window), nil
	}
	return nil, fmt.Errorf("unknown color scene type %q", typ)
}

// Window returns the rectangle of size window centred on pos, clipped to
// bounds. Positions that are NaN yield an empty rectangle.
func Window(bounds image.Rectangle, pos gaze.Position, window image.Point) image.Rectangle {
	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) {
		return image.Rectangle{}
	}
	x := bounds.Min.X + int(pos.X*float64(bounds.Dx()))
	y := bounds.Min.Y + int(pos.Y*float64(bounds.Dy()))
	x0, y0 := x-window.X/2, y-window.Y/2
	r := image.Rect(x0, y0, x0+window.X, y0+window.Y)
	return r.Intersect(bounds)
}

// compact returns img as an RGBA whose rows are contiguous, so pixel i of
// the input and of an image.NewRGBA of the same bounds share an offset.
func compact(img image.Image) *image.RGBA {
	rgba := imaging.ToRGBA(img)
	if rgba.Stride == 4*rgba.Rect.Dx() {
		return rgba
	}
	out := image.NewRGBA(rgba.Rect)
	draw.Draw(out, out.Rect, rgba, rgba.Rect.Min, draw.Src)
	return out
}

// cache keeps the output of the last window so a resting gaze costs nothing.
type cache struct {
	window image.Rectangle
	out    image.Image
}

func (c *cache) get(win image.Rectangle) (image.Image, bool) {
	if c.out == nil || c.window != win {
		return nil, false
	}
	return c.out, true
}

func (c *cache) put(win image.Rectangle, out image.Image) image.Image {
	c.window, c.out = win, out
	return out
}

// =============================================================================
// Histogram equalisation
// =============================================================================

// Histogram equalises the image with the histogram of the window around
// the gaze. All colour channels share one histogram.
type Histogram struct {
	base   *image.RGBA
	window image.Point
	last   cache
}

// NewHistogram returns a histogram equalising processor over img.
func NewHistogram(img image.Image, window image.Point) *Histogram {
	return &Histogram{base: compact(img), window: window}
}

// Type implements scene.Processor.
func (h *Histogram) Type() string { return TypeHistogram }

// Base implements scene.Processor.
func (h *Histogram) Base() image.Image { return h.base }

// Process implements scene.Processor.
func (h *Histogram) Process(pos gaze.Position) image.Image {
	win := Window(h.base.Rect, pos, h.window)
	if win.Empty() {
		return h.base
	}
	if out, ok := h.last.get(win); ok {
		return out
	}

	var hist [256]int
	for y := win.Min.Y; y < win.Max.Y; y++ {
		row := h.base.Pix[h.base.PixOffset(win.Min.X, y):h.base.PixOffset(win.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			hist[row[i]]++
			hist[row[i+1]]++
			hist[row[i+2]]++
		}
	}
	total := 3 * win.Dx() * win.Dy()
	var table [256]uint8
	cdf := 0
	for v, n := range hist {
		cdf += n
		table[v] = uint8(255 * cdf / total)
	}

	out := image.NewRGBA(h.base.Rect)
	imaging.ParallelRows(h.base.Rect.Dy(), runtime.NumCPU(), func(y0, y1 int) {
		for i := y0 * h.base.Stride; i < y1*h.base.Stride; i += 4 {
			out.Pix[i+0] = table[h.base.Pix[i+0]]
			out.Pix[i+1] = table[h.base.Pix[i+1]]
			out.Pix[i+2] = table[h.base.Pix[i+2]]
			out.Pix[i+3] = h.base.Pix[i+3]
		}
	})
	return h.last.put(win, out)
}

// =============================================================================
// Lightness rescaling
// =============================================================================

// Rescaled stretches CIE L*a*b* lightness so that the 10th to 90th
// percentile of the window around the gaze covers the full range. Hue and
// chroma are kept.
type Rescaled struct {
	base    *image.RGBA
	window  image.Point
	l, a, b []float64
	scratch []float64
	last    cache
}

// NewRescaled converts img to L*a*b* once and returns the processor.
func NewRescaled(img image.Image, window image.Point) *Rescaled {
	base := compact(img)
	w, h := base.Rect.Dx(), base.Rect.Dy()
	r := &Rescaled{
		base:   base,
		window: window,
		l:      make([]float64, w*h),
		a:      make([]float64, w*h),
		b:      make([]float64, w*h),
	}
	imaging.ParallelRows(h, runtime.NumCPU(), func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				p := base.Pix[y*base.Stride+x*4:]
				c := colorful.Color{R: float64(p[0]) / 255, G: float64(p[1]) / 255, B: float64(p[2]) / 255}
				i := y*w + x
				r.l[i], r.a[i], r.b[i] = c.Lab()
			}
		}
	})
	return r
}

// Type implements scene.Processor.
func (r *Rescaled) Type() string { return TypeRescaled }

// Base implements scene.Processor.
func (r *Rescaled) Base() image.Image { return r.base }

// Percentiles returns the 10th and 90th percentile of the window lightness.
func (r *Rescaled) Percentiles(win image.Rectangle) (float64, float64) {
	w := r.base.Rect.Dx()
	vals := r.scratch[:0]
	for y := win.Min.Y - r.base.Rect.Min.Y; y < win.Max.Y-r.base.Rect.Min.Y; y++ {
		off := y*w + win.Min.X - r.base.Rect.Min.X
		vals = append(vals, r.l[off:off+win.Dx()]...)
	}
	r.scratch = vals
	sort.Float64s(vals)
	return stat.Quantile(0.1, stat.LinInterp, vals, nil), stat.Quantile(0.9, stat.LinInterp, vals, nil)
}

// Process implements scene.Processor. A window of uniform lightness leaves
// the image unchanged.
func (r *Rescaled) Process(pos gaze.Position) image.Image {
	win := Window(r.base.Rect, pos, r.window)
	if win.Empty() {
		return r.base
	}
	if out, ok := r.last.get(win); ok {
		return out
	}
	lo, hi := r.Percentiles(win)
	if !(hi > lo) {
		return r.last.put(win, r.base)
	}

	w, h := r.base.Rect.Dx(), r.base.Rect.Dy()
	out := image.NewRGBA(r.base.Rect)
	imaging.ParallelRows(h, runtime.NumCPU(), func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				l := (math.Min(math.Max(r.l[i], lo), hi) - lo) / (hi - lo)
				cr, cg, cb := colorful.Lab(l, r.a[i], r.b[i]).Clamped().RGB255()
				o := y*out.Stride + x*4
				out.Pix[o+0], out.Pix[o+1], out.Pix[o+2] = cr, cg, cb
				out.Pix[o+3] = r.base.Pix[y*r.base.Stride+x*4+3]
			}
		}
	})
	return r.last.put(win, out)
}

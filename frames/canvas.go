package frames

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"

	"github.com/nfnt/resize"

	"github.com/MichaelMauderer/Gazer/gaze"
	"github.com/MichaelMauderer/Gazer/imaging"
)

// Canvas is a fixed size RGBA surface. Frames are scaled to fit, keeping
// their aspect ratio, and centered on a black background.
// Present and the read methods may be called from different goroutines.
type Canvas struct {
	mu        sync.RWMutex
	img       *image.RGBA
	drawn     image.Rectangle
	presented int64
}

// NewCanvas allocates a width x height canvas.
func NewCanvas(width, height int) *Canvas {
	c := &Canvas{img: image.NewRGBA(image.Rect(0, 0, width, height))}
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	return c
}

// Present implements Surface.
func (c *Canvas) Present(frame image.Image) error {
	fb := frame.Bounds()
	cb := c.img.Bounds()
	rect := gaze.FitRect(fb.Dx(), fb.Dy(), cb.Dx(), cb.Dy())
	if rect.Empty() {
		return fmt.Errorf("cannot present %dx%d frame", fb.Dx(), fb.Dy())
	}

	var scaled image.Image = frame
	if rect.Dx() != fb.Dx() || rect.Dy() != fb.Dy() {
		scaled = resize.Resize(uint(rect.Dx()), uint(rect.Dy()), frame, resize.Bilinear)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	draw.Draw(c.img, cb, image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(c.img, rect, scaled, scaled.Bounds().Min, draw.Src)
	c.drawn = rect
	c.presented++
	return nil
}

// Size returns the canvas dimensions.
func (c *Canvas) Size() (int, int) {
	b := c.img.Bounds()
	return b.Dx(), b.Dy()
}

// DrawnRect returns where the last frame was placed. Pointer positions are
// converted with gaze.PointerToNormalized against this rectangle.
func (c *Canvas) DrawnRect() image.Rectangle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.drawn
}

// Presented returns how many frames have been drawn.
func (c *Canvas) Presented() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.presented
}

// Image returns a copy of the current canvas contents.
func (c *Canvas) Image() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := image.NewRGBA(c.img.Bounds())
	copy(out.Pix, c.img.Pix)
	return out
}

// Snapshot returns the canvas encoded as PNG.
func (c *Canvas) Snapshot() ([]byte, error) {
	return imaging.EncodePNG(c.Image())
}

// SnapshotJPEG returns the canvas encoded as JPEG.
func (c *Canvas) SnapshotJPEG(quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, c.Image(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

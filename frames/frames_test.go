package frames

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/MichaelMauderer/Gazer/imaging"
)

func solid(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

type recordingSurface struct {
	presented []image.Image
}

func (s *recordingSurface) Present(img image.Image) error {
	s.presented = append(s.presented, img)
	return nil
}

// =============================================================================
// ArrayStack
// =============================================================================

func TestArrayStackLoad(t *testing.T) {
	frames := []image.Image{solid(1, 1, 0), solid(1, 1, 1), solid(1, 1, 2)}
	stack := NewArrayStack(frames)

	tests := []struct {
		key      float64
		expected image.Image
		ok       bool
	}{
		{0, frames[0], true},
		{1, frames[1], true},
		{1.7, frames[1], true},
		{2.999, frames[2], true},
		{3, nil, false},
		{-1, nil, false},
		{-0.5, frames[0], true},
		{math.NaN(), nil, false},
		{math.Inf(1), nil, false},
	}
	for _, tt := range tests {
		got, ok := stack.Load(tt.key)
		if ok != tt.ok || got != tt.expected {
			t.Errorf("Load(%v) = %v, %v; want %v, %v", tt.key, got, ok, tt.expected, tt.ok)
		}
	}
}

func TestKeyIndex(t *testing.T) {
	var logs bytes.Buffer
	log.SetOutput(&logs)
	defer log.SetOutput(os.Stderr)

	tests := []struct {
		key      float64
		expected int
		ok       bool
	}{
		{0, 0, true},
		{4.9, 4, true},
		{-0.5, 0, true},
		{-1, 0, false},
		{math.NaN(), 0, false},
		{math.Inf(-1), 0, false},
		{math.Inf(1), 0, false},
		{math.MaxInt32 + 1, math.MaxInt32 + 1, true},
		{1e19, 0, false},
		{float64(math.MaxInt), 0, false},
	}
	for _, tt := range tests {
		logs.Reset()
		got, ok := KeyIndex(tt.key)
		if got != tt.expected || ok != tt.ok {
			t.Errorf("KeyIndex(%v) = %d, %v; want %d, %v", tt.key, got, ok, tt.expected, tt.ok)
		}
		if !tt.ok && !strings.Contains(logs.String(), "not a valid key") {
			t.Errorf("KeyIndex(%v) logged %q; want a not a valid key warning", tt.key, logs.String())
		}
	}
}

func TestArrayStackNilSlot(t *testing.T) {
	stack := NewArrayStack([]image.Image{solid(1, 1, 0), nil})
	if _, ok := stack.Load(1); ok {
		t.Error("Load() of nil slot should be absent")
	}
	if got := stack.Keys(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("Keys() = %v; want [0 1]", got)
	}
}

func TestArrayStackDraw(t *testing.T) {
	frames := []image.Image{solid(1, 1, 0), solid(1, 1, 1)}
	stack := NewArrayStack(frames)
	surface := &recordingSurface{}

	if err := stack.Draw(1, surface); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if err := stack.Draw(5, surface); err != nil {
		t.Fatalf("Draw of missing key failed: %v", err)
	}
	if len(surface.presented) != 1 || surface.presented[0] != frames[1] {
		t.Errorf("presented %d frames; want only frame 1", len(surface.presented))
	}
}

// =============================================================================
// FileBacked
// =============================================================================

func writeFrames(t *testing.T, fs afero.Fs, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := imaging.SavePNG(fs, framePath(i), solid(2, 2, uint8(i*10))); err != nil {
			t.Fatalf("SavePNG failed: %v", err)
		}
	}
}

func framePath(i int) string {
	return fmt.Sprintf("/stack/%d.png", i)
}

func TestFileBackedLoadAndEvict(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFrames(t, fs, 3)

	m, err := NewFileBacked(fs, []int{2, 0, 1}, framePath, 2)
	if err != nil {
		t.Fatalf("NewFileBacked failed: %v", err)
	}
	if got := m.Keys(); fmt.Sprint(got) != "[0 1 2]" {
		t.Errorf("Keys() = %v; want [0 1 2]", got)
	}

	for _, k := range []float64{0, 1, 2} {
		img, ok := m.Load(k)
		if !ok {
			t.Fatalf("Load(%v) reported absent", k)
		}
		if got := img.At(0, 0).(color.Gray).Y; got != uint8(k*10) {
			t.Errorf("Load(%v) pixel = %d; want %d", k, got, uint8(k*10))
		}
	}
	if got := m.Cached(); fmt.Sprint(got) != "[1 2]" {
		t.Errorf("Cached() = %v; want [1 2]", got)
	}

	m.Load(1.5)
	if got := m.Cached(); fmt.Sprint(got) != "[2 1]" {
		t.Errorf("Cached() after reuse = %v; want [2 1]", got)
	}
}

func TestFileBackedServesFromCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFrames(t, fs, 2)
	m, err := NewFileBacked(fs, []int{0, 1}, framePath, 4)
	if err != nil {
		t.Fatal(err)
	}

	m.Preload([]int{0, 1})
	if err := fs.Remove(framePath(0)); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Load(0); !ok {
		t.Error("Load(0) after removal should be served from cache")
	}
}

func TestFileBackedMissingAndInvalid(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFrames(t, fs, 1)
	if err := afero.WriteFile(fs, framePath(1), []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := NewFileBacked(fs, []int{0, 1, 2}, framePath, 4)
	if err != nil {
		t.Fatal(err)
	}

	for _, k := range []float64{1, 2, 7, -1, math.NaN()} {
		if _, ok := m.Load(k); ok {
			t.Errorf("Load(%v) should be absent", k)
		}
	}
	if got := m.Cached(); len(got) != 0 {
		t.Errorf("Cached() = %v; failures must not be cached", got)
	}
}

// =============================================================================
// Canvas
// =============================================================================

func TestCanvasLetterboxes(t *testing.T) {
	c := NewCanvas(100, 50)
	if err := c.Present(solid(10, 10, 255)); err != nil {
		t.Fatalf("Present failed: %v", err)
	}

	if got := c.DrawnRect(); got != image.Rect(25, 0, 75, 50) {
		t.Errorf("DrawnRect() = %v; want (25,0)-(75,50)", got)
	}
	img := c.Image()
	if got := img.RGBAAt(5, 25); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("border pixel = %v; want black", got)
	}
	if got := img.RGBAAt(50, 25); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("center pixel = %v; want white", got)
	}
	if c.Presented() != 1 {
		t.Errorf("Presented() = %d; want 1", c.Presented())
	}
}

func TestCanvasSnapshot(t *testing.T) {
	c := NewCanvas(8, 4)
	if err := c.Present(solid(8, 4, 128)); err != nil {
		t.Fatal(err)
	}
	data, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("snapshot is not a PNG: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Errorf("snapshot size = %dx%d; want 8x4", b.Dx(), b.Dy())
	}

	if _, err := c.SnapshotJPEG(80); err != nil {
		t.Errorf("SnapshotJPEG failed: %v", err)
	}
}

func TestCanvasRejectsEmptyFrame(t *testing.T) {
	c := NewCanvas(8, 4)
	if err := c.Present(image.NewGray(image.Rectangle{})); err == nil {
		t.Error("Present() of empty frame should fail")
	}
}

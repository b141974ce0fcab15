package scene

import (
	"encoding/json"
	"image"
	"math"
	"testing"

	"github.com/MichaelMauderer/Gazer/frames"
	"github.com/MichaelMauderer/Gazer/gaze"
	"github.com/MichaelMauderer/Gazer/grid"
	"github.com/MichaelMauderer/Gazer/interpolator"
	"github.com/MichaelMauderer/Gazer/lookup"
)

func frameOf(v uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 1, 1))
	img.Pix[0] = v
	return img
}

func valueOf(t *testing.T, img image.Image) uint8 {
	t.Helper()
	g, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("frame is %T; want *image.Gray", img)
	}
	return g.Pix[0]
}

func newTestScene(t *testing.T, interp interpolator.Interpolator) *Scene {
	t.Helper()
	data := DOFData{
		Depth: grid.MustFromRows([][]float64{{0, 3}, {2, 1}}),
		Frames: map[float64]image.Image{
			0: frameOf(0),
			1: frameOf(1),
			2: frameOf(2),
			3: frameOf(3),
		},
	}
	s, err := FromDOFData(data, interp)
	if err != nil {
		t.Fatalf("FromDOFData failed: %v", err)
	}
	return s
}

func TestGazeSelectsFrame(t *testing.T) {
	s := newTestScene(t, interpolator.NewInstant(0))

	tests := []struct {
		pos      gaze.Position
		expected uint8
	}{
		{gaze.Position{X: 0.0, Y: 0.0}, 0},
		{gaze.Position{X: 0.9, Y: 0.0}, 3},
		{gaze.Position{X: 0.0, Y: 0.9}, 2},
		{gaze.Position{X: 0.9, Y: 0.9}, 1},
	}
	for _, tt := range tests {
		s.UpdateGaze(tt.pos)
		img, ok := s.GetImage()
		if !ok {
			t.Errorf("GetImage() at %v reported absent", tt.pos)
			continue
		}
		if got := valueOf(t, img); got != tt.expected {
			t.Errorf("GetImage() at %v = frame %d; want %d", tt.pos, got, tt.expected)
		}
	}
}

func TestNoGazeState(t *testing.T) {
	s := newTestScene(t, interpolator.NewInstant(0))
	if s.State() != NoGaze {
		t.Errorf("State() = %v; want no-gaze", s.State())
	}
	if _, ok := s.CurrentDepth(); ok {
		t.Error("CurrentDepth() without gaze should be absent")
	}
	if _, ok := s.GetImage(); ok {
		t.Error("GetImage() without gaze should be absent")
	}

	s.UpdateGaze(gaze.Position{X: 0.1, Y: 0.1})
	if s.State() != Tracking {
		t.Errorf("State() = %v; want tracking", s.State())
	}
}

func TestGetImageIdempotent(t *testing.T) {
	s := newTestScene(t, interpolator.NewInstant(0))
	s.UpdateGaze(gaze.Position{X: 0.9, Y: 0.9})

	first, ok1 := s.GetImage()
	second, ok2 := s.GetImage()
	if ok1 != ok2 || first != second {
		t.Errorf("GetImage() twice = (%v, %v) and (%v, %v); want identical", first, ok1, second, ok2)
	}
}

func TestOutOfBoundsGazeKeepsStepping(t *testing.T) {
	s := newTestScene(t, interpolator.NewLinear(0, 1))
	s.UpdateGaze(gaze.Position{X: 0.9, Y: 0.0})

	if d, _ := s.CurrentDepth(); d != 1 {
		t.Fatalf("first CurrentDepth() = %v; want 1", d)
	}

	s.UpdateGaze(gaze.Position{X: 1.5, Y: 0.0})
	for _, want := range []float64{2, 3, 3} {
		d, ok := s.CurrentDepth()
		if !ok || d != want {
			t.Errorf("CurrentDepth() with out of bounds gaze = %v, %v; want %v, true", d, ok, want)
		}
	}
}

func TestImageAt(t *testing.T) {
	s := newTestScene(t, nil)
	img, ok := s.ImageAt(2)
	if !ok || valueOf(t, img) != 2 {
		t.Errorf("ImageAt(2) = %v, %v; want frame 2", img, ok)
	}
	if _, ok := s.ImageAt(9); ok {
		t.Error("ImageAt(9) should be absent")
	}
}

func TestDepthImage(t *testing.T) {
	s := newTestScene(t, nil)
	img, ok := s.DepthImage().(*image.Gray)
	if !ok {
		t.Fatalf("DepthImage() is %T; want *image.Gray", s.DepthImage())
	}
	expected := []uint8{0, 255, 170, 85}
	for i, want := range expected {
		if img.Pix[i] != want {
			t.Errorf("depth pixel %d = %d; want %d", i, img.Pix[i], want)
		}
	}
}

func TestDepthImageFlat(t *testing.T) {
	table := lookup.NewArray(grid.MustFromRows([][]float64{{4, 4}, {4, 4}}))
	s := New(frames.NewArrayStack(nil), table, nil)
	img := s.DepthImage().(*image.Gray)
	for i, v := range img.Pix {
		if v != 0 {
			t.Errorf("flat depth pixel %d = %d; want 0", i, v)
		}
	}
}

func TestFromDOFDataMissingFrame(t *testing.T) {
	data := DOFData{
		Depth:  grid.MustFromRows([][]float64{{10, 20}, {20, 30}}),
		Frames: map[float64]image.Image{10: frameOf(10), 30: frameOf(30)},
	}
	s, err := FromDOFData(data, interpolator.NewInstant(0))
	if err != nil {
		t.Fatal(err)
	}
	s.UpdateGaze(gaze.Position{X: 0.9, Y: 0.0})
	if _, ok := s.GetImage(); ok {
		t.Error("GetImage() for unmapped depth should be absent")
	}
	got := s.Frames()
	if len(got) != 3 || got[1] != nil || valueOf(t, got[2]) != 30 {
		t.Errorf("Frames() = %v; want [10 nil 30]", got)
	}

	if _, err := FromDOFData(DOFData{}, nil); err == nil {
		t.Error("FromDOFData() without depth should fail")
	}

	withNaN := DOFData{
		Depth:  grid.MustFromRows([][]float64{{math.NaN(), 1}}),
		Frames: map[float64]image.Image{1: frameOf(1)},
	}
	if s, err := FromDOFData(withNaN, nil); err == nil || s != nil {
		t.Errorf("FromDOFData() with NaN depth = %v, %v; want nil scene and error", s, err)
	}
}

type recordingSurface struct {
	presented []image.Image
}

func (r *recordingSurface) Present(img image.Image) error {
	r.presented = append(r.presented, img)
	return nil
}

func TestRender(t *testing.T) {
	s := newTestScene(t, interpolator.NewInstant(0))
	surface := &recordingSurface{}

	if err := s.Render(surface); err != nil {
		t.Fatal(err)
	}
	if len(surface.presented) != 0 {
		t.Error("Render() without gaze should not draw")
	}

	s.UpdateGaze(gaze.Position{X: 0, Y: 0.9})
	if err := s.Render(surface); err != nil {
		t.Fatal(err)
	}
	if len(surface.presented) != 1 || valueOf(t, surface.presented[0]) != 2 {
		t.Errorf("Render() presented %v; want frame 2", surface.presented)
	}
}

func TestStateJSON(t *testing.T) {
	data, err := json.Marshal(Tracking)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"tracking"` {
		t.Errorf("Marshal(Tracking) = %s; want \"tracking\"", data)
	}
	if s := newTestScene(t, nil); s.Type() != "simple_array_stack" || s.ID.String() == "" {
		t.Errorf("Type() = %q, ID = %v", s.Type(), s.ID)
	}
}

// =============================================================================
// Processed scenes
// =============================================================================

// brightness shows the gaze X position as the grey level of a 2x1 image.
type brightness struct {
	base  image.Image
	calls int
}

func (b *brightness) Type() string      { return "brightness" }
func (b *brightness) Base() image.Image { return b.base }

func (b *brightness) Process(pos gaze.Position) image.Image {
	b.calls++
	return frameOf(uint8(pos.X * 100))
}

func TestProcessedScene(t *testing.T) {
	base := image.NewGray(image.Rect(0, 0, 2, 1))
	p := &brightness{base: base}
	s := NewProcessed(p, nil)

	if s.Type() != "brightness" || s.Processor() != p {
		t.Errorf("Type() = %q, Processor() = %v", s.Type(), s.Processor())
	}
	if keys := s.Manager().Keys(); len(keys) != 1 {
		t.Errorf("Keys() = %v; want one frame", keys)
	}
	if img, ok := s.ImageAt(0); !ok || img != base {
		t.Error("ImageAt(0) should return the base image")
	}
	if g := s.Table().Grid(); g.Rows != 1 || g.Cols != 2 {
		t.Errorf("lookup table is %dx%d; want 1x2", g.Rows, g.Cols)
	}
	if _, ok := s.GetImage(); ok || p.calls != 0 {
		t.Error("GetImage() without gaze should be absent and not process")
	}

	for _, x := range []float64{0.25, 0.75} {
		s.UpdateGaze(gaze.Position{X: x, Y: 0.5})
		img, ok := s.GetImage()
		if !ok || valueOf(t, img) != uint8(x*100) {
			t.Errorf("GetImage() at x=%v = %v, %v; want grey %d", x, img, ok, uint8(x*100))
		}
	}

	surface := &recordingSurface{}
	if err := s.Render(surface); err != nil {
		t.Fatal(err)
	}
	if len(surface.presented) != 1 || valueOf(t, surface.presented[0]) != 75 {
		t.Errorf("Render() presented %v; want grey 75", surface.presented)
	}
}

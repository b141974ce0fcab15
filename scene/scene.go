// Package scene combines a depth lookup table, an interpolator and a frame
// manager into the gaze-contingent image stack shown by the viewer.
//
// A Scene is owned by a single goroutine; it does no locking.
package scene

import (
	"encoding/json"
	"fmt"
	"image"

	"github.com/google/uuid"

	"github.com/MichaelMauderer/Gazer/frames"
	"github.com/MichaelMauderer/Gazer/gaze"
	"github.com/MichaelMauderer/Gazer/grid"
	"github.com/MichaelMauderer/Gazer/interpolator"
	"github.com/MichaelMauderer/Gazer/lookup"
)

// Type is the container type written for image stack scenes.
const Type = "simple_array_stack"

// State is the gaze tracking state of a scene.
type State int

const (
	// NoGaze means no gaze position has been recorded yet.
	NoGaze State = iota
	// Tracking means at least one gaze position has been recorded.
	Tracking
)

func (s State) String() string {
	switch s {
	case NoGaze:
		return "no-gaze"
	case Tracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Processor re-renders a still image for a gaze position.
type Processor interface {
	// Type is the container type the scene is written as.
	Type() string
	// Base is the unprocessed image.
	Base() image.Image
	Process(pos gaze.Position) image.Image
}

// Scene selects the frame matching the depth under the current gaze.
type Scene struct {
	ID uuid.UUID

	manager   frames.Manager
	table     lookup.Table
	interp    interpolator.Interpolator
	processor Processor

	gaze    gaze.Position
	hasGaze bool
}

// New builds a scene. A nil interpolator defaults to a linear one with step 1.
func New(manager frames.Manager, table lookup.Table, interp interpolator.Interpolator) *Scene {
	if interp == nil {
		interp = interpolator.NewLinear(0, 1)
	}
	return &Scene{
		ID:      uuid.New(),
		manager: manager,
		table:   table,
		interp:  interp,
	}
}

// NewProcessed builds a single frame scene over p.Base() whose shown image
// is p.Process at the gaze position. Its lookup table is all zero.
func NewProcessed(p Processor, interp interpolator.Interpolator) *Scene {
	b := p.Base().Bounds()
	s := New(frames.NewArrayStack([]image.Image{p.Base()}), lookup.NewArray(grid.New(b.Dy(), b.Dx(), 1)), interp)
	s.processor = p
	return s
}

// DOFData is a depth map together with the frame to show for each depth value.
type DOFData struct {
	Depth  *grid.Grid
	Frames map[float64]image.Image
}

// FromDOFData builds a scene whose frames are the distinct depth values of
// data in ascending order, and whose lookup table holds, for every cell, the
// index of that cell's depth in the ordered list. Depth values without a
// frame leave an empty slot.
func FromDOFData(data DOFData, interp interpolator.Interpolator) (*Scene, error) {
	if data.Depth == nil {
		return nil, fmt.Errorf("depth map is missing")
	}
	// NaN never matches a key of data.Frames.
	if data.Depth.HasNaN() {
		return nil, fmt.Errorf("depth map contains NaN values")
	}
	values, indices := data.Depth.Unique()
	stack := make([]image.Image, len(values))
	for i, v := range values {
		stack[i] = data.Frames[v]
	}
	return New(frames.NewArrayStack(stack), lookup.NewArray(indices), interp), nil
}

// UpdateGaze records the newest gaze position.
func (s *Scene) UpdateGaze(pos gaze.Position) {
	s.gaze = pos
	s.hasGaze = true
}

// Gaze returns the last recorded position.
func (s *Scene) Gaze() (gaze.Position, bool) {
	return s.gaze, s.hasGaze
}

// State reports whether a gaze position has been recorded.
func (s *Scene) State() State {
	if s.hasGaze {
		return Tracking
	}
	return NoGaze
}

// CurrentDepth samples the table at the gaze position, retargets the
// interpolator when the sample exists and steps it once. An absent sample
// still steps the interpolator towards the previous target. Without a gaze
// position nothing is sampled and the result is absent.
func (s *Scene) CurrentDepth() (float64, bool) {
	if !s.hasGaze {
		return 0, false
	}
	if depth, ok := s.table.Sample(s.gaze); ok {
		s.interp.SetTarget(depth)
	}
	return s.interp.Step(), true
}

// GetImage returns the frame for the current depth.
func (s *Scene) GetImage() (image.Image, bool) {
	depth, ok := s.CurrentDepth()
	if !ok {
		return nil, false
	}
	return s.Frame(depth)
}

// Frame returns the image shown at depth: the frame with that key, or for a
// processed scene with a gaze position, the processed image.
func (s *Scene) Frame(depth float64) (image.Image, bool) {
	if s.processor != nil && s.hasGaze {
		return s.processor.Process(s.gaze), true
	}
	return s.manager.Load(depth)
}

// ImageAt returns the frame at key regardless of gaze.
func (s *Scene) ImageAt(key float64) (image.Image, bool) {
	return s.manager.Load(key)
}

// Render draws the frame for the current depth on dst.
func (s *Scene) Render(dst frames.Surface) error {
	depth, ok := s.CurrentDepth()
	if !ok {
		return nil
	}
	if s.processor != nil {
		if dst == nil {
			return nil
		}
		return dst.Present(s.processor.Process(s.gaze))
	}
	return s.manager.Draw(depth, dst)
}

// DepthImage returns the lookup table rescaled into 0..255 for display.
// A flat table renders all black.
func (s *Scene) DepthImage() image.Image {
	g := s.table.Grid()
	if g == nil {
		return image.NewGray(image.Rectangle{})
	}
	return g.NormalizedImage()
}

// Table returns the lookup table.
func (s *Scene) Table() lookup.Table {
	return s.table
}

// Manager returns the frame manager.
func (s *Scene) Manager() frames.Manager {
	return s.manager
}

// Interpolator returns the interpolator driving transitions.
func (s *Scene) Interpolator() interpolator.Interpolator {
	return s.interp
}

// Processor returns the processor of a processed scene, or nil.
func (s *Scene) Processor() Processor {
	return s.processor
}

// Type returns the container type of the scene.
func (s *Scene) Type() string {
	if s.processor != nil {
		return s.processor.Type()
	}
	return Type
}

// Frames returns every frame in key order. Empty slots are nil.
func (s *Scene) Frames() []image.Image {
	keys := s.manager.Keys()
	out := make([]image.Image, len(keys))
	for i, k := range keys {
		img, ok := s.manager.Load(float64(k))
		if ok {
			out[i] = img
		}
	}
	return out
}

package lookup

import (
	"log"

	"github.com/MichaelMauderer/Gazer/gaze"
	"github.com/MichaelMauderer/Gazer/grid"
)

// Hysteresis samples one of several depth maps, chosen by the plane the last
// sample resolved to. Sampling updates the current plane, so identical
// positions can yield different depths across calls.
type Hysteresis struct {
	planes       []*grid.Grid
	depthToIndex func(float64) int
	current      int
}

// IdentityIndex truncates a depth value into a plane index.
func IdentityIndex(depth float64) int {
	return int(depth)
}

// NewHysteresis builds a table over planes starting at plane initial. A nil
// depthToIndex uses IdentityIndex.
func NewHysteresis(planes []*grid.Grid, depthToIndex func(float64) int, initial int) *Hysteresis {
	if depthToIndex == nil {
		depthToIndex = IdentityIndex
	}
	h := &Hysteresis{planes: planes, depthToIndex: depthToIndex}
	h.current = h.clamp(initial)
	return h
}

// Sample implements Table. An absent sample leaves the current plane unchanged.
func (h *Hysteresis) Sample(pos gaze.Position) (float64, bool) {
	if len(h.planes) == 0 {
		return 0, false
	}
	depth, ok := SampleGrid(h.planes[h.current], pos)
	if !ok {
		return 0, false
	}
	h.current = h.clamp(h.depthToIndex(depth))
	return depth, true
}

// Grid implements Table and returns the depth map of the current plane.
func (h *Hysteresis) Grid() *grid.Grid {
	if len(h.planes) == 0 {
		return nil
	}
	return h.planes[h.current]
}

// Current returns the index of the plane the next sample reads from.
func (h *Hysteresis) Current() int {
	return h.current
}

func (h *Hysteresis) clamp(i int) int {
	n := len(h.planes)
	switch {
	case n == 0:
		return 0
	case i < 0:
		log.Printf("Warning: plane index %d out of range, using 0", i)
		return 0
	case i >= n:
		log.Printf("Warning: plane index %d out of range, using %d", i, n-1)
		return n - 1
	}
	return i
}

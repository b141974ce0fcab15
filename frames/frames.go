// Package frames manages the focal plane images of a scene.
package frames

import (
	"image"
	"log"
	"math"
	"sort"
)

// Manager resolves frame keys to images.
type Manager interface {
	// Load returns the frame for key. Fractional keys are truncated toward
	// zero; invalid or unknown keys report false and never panic.
	Load(key float64) (image.Image, bool)
	// Keys returns the valid integer keys in ascending order.
	Keys() []int
	// Preload warms any cache the manager keeps.
	Preload(keys []int)
	// Draw presents the frame for key on dst. Absent frames draw nothing.
	Draw(key float64, dst Surface) error
}

// Surface consumes displayable frames.
type Surface interface {
	Present(img image.Image) error
}

// KeyIndex coerces a frame key into an index. NaN, infinities, negative
// values and values beyond the int range are not valid indices.
func KeyIndex(key float64) (int, bool) {
	i := math.Trunc(key)
	// float64(math.MaxInt) rounds up to 2^63, which no int can hold.
	if math.IsNaN(key) || i < 0 || i >= math.MaxInt {
		log.Printf("Warning: %v not a valid key", key)
		return 0, false
	}
	return int(i), true
}

func drawFrame(m Manager, key float64, dst Surface) error {
	img, ok := m.Load(key)
	if !ok || dst == nil {
		return nil
	}
	return dst.Present(img)
}

// ArrayStack is an in-memory, ordered list of frames. Nil entries load as absent.
type ArrayStack struct {
	frames []image.Image
}

// NewArrayStack copies the frame list.
func NewArrayStack(frames []image.Image) *ArrayStack {
	return &ArrayStack{frames: append([]image.Image(nil), frames...)}
}

// Load implements Manager.
func (s *ArrayStack) Load(key float64) (image.Image, bool) {
	i, ok := KeyIndex(key)
	if !ok {
		return nil, false
	}
	if i >= len(s.frames) || s.frames[i] == nil {
		log.Printf("Warning: Image %v not found", key)
		return nil, false
	}
	return s.frames[i], true
}

// Keys implements Manager.
func (s *ArrayStack) Keys() []int {
	keys := make([]int, len(s.frames))
	for i := range keys {
		keys[i] = i
	}
	return keys
}

// Preload implements Manager. All frames are already in memory.
func (s *ArrayStack) Preload([]int) {}

// Draw implements Manager.
func (s *ArrayStack) Draw(key float64, dst Surface) error {
	return drawFrame(s, key, dst)
}

// Len returns the number of slots, including empty ones.
func (s *ArrayStack) Len() int {
	return len(s.frames)
}

func sortedCopy(keys []int) []int {
	out := append([]int(nil), keys...)
	sort.Ints(out)
	return out
}

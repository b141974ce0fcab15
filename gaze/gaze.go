// Package gaze defines gaze/pointer input samples and the helpers that turn
// raw device or widget coordinates into normalized image positions.
package gaze

import (
	"image"
	"math"
	"sync"
	"time"
)

// Position is a normalized image coordinate. X runs along the image width
// (columns), Y along the height (rows); (0,0) is the top-left corner and
// valid positions lie in [0,1).
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sample is a timestamped position produced by an eye tracker or pointer.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Pos       Position  `json:"pos"`
}

// Source is anything that can report its newest sample.
type Source interface {
	// NewestSample returns the most recent sample, or false if none arrived yet.
	NewestSample() (Sample, bool)
}

// Latest is a Source fed by Push. It is the hand-off point between input
// goroutines (network, device callbacks) and the single goroutine that owns
// a scene.
type Latest struct {
	mu       sync.Mutex
	sample   Sample
	has      bool
	received int64
	filter   Filter
}

// Filter transforms incoming positions, e.g. to smooth tracker jitter.
type Filter interface {
	Filter(Position) Position
}

// NewLatest returns an empty Latest. filter may be nil.
func NewLatest(filter Filter) *Latest {
	return &Latest{filter: filter}
}

// Push records s as the newest sample.
func (l *Latest) Push(s Sample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.filter != nil {
		s.Pos = l.filter.Filter(s.Pos)
	}
	l.sample = s
	l.has = true
	l.received++
}

// NewestSample implements Source.
func (l *Latest) NewestSample() (Sample, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sample, l.has
}

// Received returns how many samples have been pushed.
func (l *Latest) Received() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.received
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PointerToNormalized converts a widget-local pixel coordinate into a
// normalized position relative to the rectangle the frame was drawn into.
// Results are clipped to [0,1]; an empty rectangle yields (0,0).
func PointerToNormalized(x, y float64, drawn image.Rectangle) Position {
	w, h := drawn.Dx(), drawn.Dy()
	if w <= 0 || h <= 0 {
		return Position{}
	}
	return Position{
		X: clamp01((x - float64(drawn.Min.X)) / float64(w)),
		Y: clamp01((y - float64(drawn.Min.Y)) / float64(h)),
	}
}

// FitRect returns the largest rectangle with the aspect ratio of an
// imgW x imgH frame that fits centered inside a boxW x boxH area.
func FitRect(imgW, imgH, boxW, boxH int) image.Rectangle {
	if imgW <= 0 || imgH <= 0 || boxW <= 0 || boxH <= 0 {
		return image.Rectangle{}
	}
	scale := math.Min(float64(boxW)/float64(imgW), float64(boxH)/float64(imgH))
	w := int(math.Round(float64(imgW) * scale))
	h := int(math.Round(float64(imgH) * scale))
	x0 := (boxW - w) / 2
	y0 := (boxH - h) / 2
	return image.Rect(x0, y0, x0+w, y0+h)
}

// Package interpolator provides stepwise transitions from a current value
// towards a target. Steps are logical ticks, not wall-clock time.
package interpolator

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/harmonica"
)

// Interpolator advances a current value towards a target one step at a time.
type Interpolator interface {
	// Step moves the current value one increment towards the target and
	// returns the new current value.
	Step() float64
	SetTarget(target float64)
	Target() float64
	Value() float64
	// Reset places the current value at v without changing the target.
	Reset(v float64)
}

type base struct {
	current float64
	target  float64
}

func (b *base) SetTarget(target float64) { b.target = target }
func (b *base) Target() float64          { return b.target }
func (b *base) Value() float64           { return b.current }
func (b *base) Reset(v float64)          { b.current = v }

// Instant snaps to the target on every step.
type Instant struct {
	base
}

// NewInstant returns an Instant interpolator starting at start.
func NewInstant(start float64) *Instant {
	return &Instant{base{current: start, target: start}}
}

// Step implements Interpolator.
func (i *Instant) Step() float64 {
	i.current = i.target
	return i.current
}

// Linear moves by a fixed step size per step and never overshoots.
type Linear struct {
	base
	StepSize float64
}

// NewLinear returns a Linear interpolator. Non-positive step sizes default to 1.
func NewLinear(start, stepSize float64) *Linear {
	if stepSize <= 0 {
		stepSize = 1
	}
	return &Linear{base: base{current: start, target: start}, StepSize: stepSize}
}

// Step implements Interpolator.
func (l *Linear) Step() float64 {
	switch {
	case l.current > l.target:
		l.current = math.Max(l.current-l.StepSize, l.target)
	case l.current < l.target:
		l.current = math.Min(l.current+l.StepSize, l.target)
	}
	return l.current
}

// Exponential halves the remaining distance each step. The half step is
// truncated towards zero; once it becomes zero the value snaps to the target,
// so the transition always terminates.
type Exponential struct {
	base
}

// NewExponential returns an Exponential interpolator starting at start.
func NewExponential(start float64) *Exponential {
	return &Exponential{base{current: start, target: start}}
}

// Step implements Interpolator.
func (e *Exponential) Step() float64 {
	half := math.Trunc((e.target - e.current) / 2)
	if half == 0 {
		e.current = e.target
	} else {
		e.current += half
	}
	return e.current
}

// Spring follows the target with a damped harmonic spring.
type Spring struct {
	base
	spring   harmonica.Spring
	velocity float64
}

// SpringSettleDistance is how close (with negligible velocity) the spring
// must be before it snaps onto the target.
const SpringSettleDistance = 1e-3

// NewSpring returns a spring stepped at fps ticks per second with the given
// angular frequency and damping ratio (1 is critically damped).
func NewSpring(start float64, fps int, frequency, damping float64) *Spring {
	if fps <= 0 {
		fps = 60
	}
	return &Spring{
		base:   base{current: start, target: start},
		spring: harmonica.NewSpring(harmonica.FPS(fps), frequency, damping),
	}
}

// Step implements Interpolator.
func (s *Spring) Step() float64 {
	s.current, s.velocity = s.spring.Update(s.current, s.velocity, s.target)
	if math.Abs(s.target-s.current) < SpringSettleDistance && math.Abs(s.velocity) < SpringSettleDistance {
		s.current = s.target
		s.velocity = 0
	}
	return s.current
}

// Reset implements Interpolator and also stops the spring.
func (s *Spring) Reset(v float64) {
	s.current = v
	s.velocity = 0
}

// Options configures New.
type Options struct {
	Kind            string  `json:"kind"`
	StepSize        float64 `json:"stepSize"`
	SpringFPS       int     `json:"springFps"`
	SpringFrequency float64 `json:"springFrequency"`
	SpringDamping   float64 `json:"springDamping"`
}

// New builds an interpolator by kind: instant, linear, exponential or spring.
// An empty kind selects linear.
func New(opts Options) (Interpolator, error) {
	switch strings.ToLower(opts.Kind) {
	case "instant":
		return NewInstant(0), nil
	case "", "linear":
		return NewLinear(0, opts.StepSize), nil
	case "exponential":
		return NewExponential(0), nil
	case "spring":
		freq := opts.SpringFrequency
		if freq <= 0 {
			freq = 6.0
		}
		damping := opts.SpringDamping
		if damping <= 0 {
			damping = 1.0
		}
		return NewSpring(0, opts.SpringFPS, freq, damping), nil
	default:
		return nil, fmt.Errorf("unknown interpolator kind %q", opts.Kind)
	}
}

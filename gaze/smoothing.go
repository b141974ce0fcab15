package gaze

import (
	"log"

	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"
)

// SmootherOptions configures the Kalman filter used for gaze smoothing.
type SmootherOptions struct {
	Dt       float64 `json:"dt"`       // time between samples in filter units
	StdDevA  float64 `json:"stdDevA"`  // process noise (acceleration)
	StdDevMx float64 `json:"stdDevMx"` // measurement noise along X
	StdDevMy float64 `json:"stdDevMy"` // measurement noise along Y
}

// DefaultSmootherOptions mirrors the settings used for tracking blob centers,
// scaled down for coordinates in [0,1].
func DefaultSmootherOptions() SmootherOptions {
	return SmootherOptions{
		Dt:       1.0,
		StdDevA:  0.05,
		StdDevMx: 0.02,
		StdDevMy: 0.02,
	}
}

// Smoother reduces tracker jitter with a 2D constant-velocity Kalman filter.
// It is not safe for concurrent use on its own; Latest serializes access.
type Smoother struct {
	opts    SmootherOptions
	tracker *kalman_filter.Kalman2D
}

// NewSmoother creates a smoother; the filter is seeded by the first position.
func NewSmoother(opts SmootherOptions) *Smoother {
	if opts.Dt <= 0 {
		opts.Dt = 1.0
	}
	return &Smoother{opts: opts}
}

// Update feeds a measured position and returns the filtered estimate.
func (s *Smoother) Update(pos Position) (Position, error) {
	if s.tracker == nil {
		s.tracker = kalman_filter.NewKalman2D(s.opts.Dt, 0, 0, s.opts.StdDevA, s.opts.StdDevMx, s.opts.StdDevMy, kalman_filter.WithState2D(pos.X, pos.Y))
		return pos, nil
	}
	s.tracker.Predict()
	if err := s.tracker.Update(pos.X, pos.Y); err != nil {
		return pos, errors.Wrap(err, "Can't update gaze tracker")
	}
	x, y := s.tracker.GetState()
	return Position{X: x, Y: y}, nil
}

// Filter implements Filter. On filter failure the raw position is passed
// through and the filter restarts from it.
func (s *Smoother) Filter(pos Position) Position {
	out, err := s.Update(pos)
	if err != nil {
		log.Printf("Gaze smoothing failed, resetting filter: %v", err)
		s.tracker = nil
		return pos
	}
	return out
}

// Reset discards the filter state.
func (s *Smoother) Reset() {
	s.tracker = nil
}

package lookup

import (
	"fmt"

	"github.com/MichaelMauderer/Gazer/grid"
)

// Filters accepted by Options.
const (
	FilterNone        = "none"
	FilterErode       = "erode"
	FilterPerspective = "perspective"
)

// Options selects a filter applied to the depth map of every opened scene.
type Options struct {
	Filter string `json:"filter"`
	// ErodeSize is the square erosion window for "erode".
	ErodeSize int `json:"erodeSize"`
	// FOV and Normalise configure "perspective".
	FOV       float64 `json:"fov"`
	Normalise bool    `json:"normalise"`
}

// Enabled reports whether the options change anything.
func (o Options) Enabled() bool {
	return o.Filter != "" && o.Filter != FilterNone
}

func (o Options) Validate() error {
	switch o.Filter {
	case "", FilterNone:
	case FilterErode:
		if o.ErodeSize < 1 {
			return fmt.Errorf("erode window must be at least 1, got %d", o.ErodeSize)
		}
	case FilterPerspective:
		if o.FOV <= 0 {
			return fmt.Errorf("perspective fov must be positive, got %v", o.FOV)
		}
	default:
		return fmt.Errorf("unknown lookup filter %q", o.Filter)
	}
	return nil
}

// Apply builds a table over g with the configured filter.
func (o Options) Apply(g *grid.Grid) (Table, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	switch o.Filter {
	case FilterErode:
		return NewEroded(g, o.ErodeSize, o.ErodeSize), nil
	case FilterPerspective:
		return NewPerspectiveCorrected(g, o.FOV, o.Normalise), nil
	}
	return NewArray(g), nil
}

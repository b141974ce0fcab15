// Package lookup maps normalized gaze positions to depth values.
//
// All tables share one axis convention: Position.X selects the column and
// Position.Y selects the row, with (0, 0) at the top-left cell. Positions with
// a coordinate outside [0, 1) and grids with a dimension of one are absent.
package lookup

import (
	"fmt"
	"math"

	"github.com/spf13/afero"

	"github.com/MichaelMauderer/Gazer/gaze"
	"github.com/MichaelMauderer/Gazer/grid"
	"github.com/MichaelMauderer/Gazer/imaging"
)

// Table samples a depth value at a normalized position. The bool result is
// false when the position has no sample.
type Table interface {
	Sample(pos gaze.Position) (float64, bool)
	// Grid returns the backing array used for sampling.
	Grid() *grid.Grid
}

// Index maps pos onto the cell of g it falls into.
func Index(g *grid.Grid, pos gaze.Position) (row, col int, ok bool) {
	if g == nil || g.Rows <= 1 || g.Cols <= 1 {
		return 0, 0, false
	}
	if !unit(pos.X) || !unit(pos.Y) {
		return 0, 0, false
	}
	row = int(math.Floor(pos.Y * float64(g.Rows)))
	col = int(math.Floor(pos.X * float64(g.Cols)))
	if !g.InBounds(row, col) {
		return 0, 0, false
	}
	return row, col, true
}

func unit(v float64) bool {
	return v >= 0 && v < 1
}

// SampleGrid returns the channel mean of the cell of g under pos.
func SampleGrid(g *grid.Grid, pos gaze.Position) (float64, bool) {
	row, col, ok := Index(g, pos)
	if !ok {
		return 0, false
	}
	return g.Mean(row, col), true
}

// Array is a table backed by a single grid.
type Array struct {
	grid *grid.Grid
}

// NewArray wraps g. The grid is not copied.
func NewArray(g *grid.Grid) *Array {
	return &Array{grid: g}
}

// Sample implements Table.
func (a *Array) Sample(pos gaze.Position) (float64, bool) {
	return SampleGrid(a.grid, pos)
}

// Grid implements Table.
func (a *Array) Grid() *grid.Grid {
	return a.grid
}

// LoadGrid decodes the image at path into a grid.
func LoadGrid(fs afero.Fs, path string) (*grid.Grid, error) {
	img, err := imaging.Load(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load depth map %s: %w", path, err)
	}
	return grid.FromImage(img), nil
}

// NewImageFile builds an Array table from a depth map image file.
func NewImageFile(fs afero.Fs, path string) (*Array, error) {
	g, err := LoadGrid(fs, path)
	if err != nil {
		return nil, err
	}
	return NewArray(g), nil
}

package lookup

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/MichaelMauderer/Gazer/gaze"
	"github.com/MichaelMauderer/Gazer/grid"
)

// PhysicalGrid is a coarse grid of depth readings laid over an image of a
// known size, as exported by Lytro cameras. Positions are given in image
// units and divided by the image size before lookup.
type PhysicalGrid struct {
	grid        *grid.Grid
	imageWidth  float64
	imageHeight float64
}

// NewPhysicalGrid reshapes values row-major into a grid with width columns and
// height rows. imageWidth and imageHeight scale incoming positions; use 1 for
// positions that are already normalized.
func NewPhysicalGrid(values []float64, width, height int, imageWidth, imageHeight float64) (*PhysicalGrid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid depth grid size %dx%d", width, height)
	}
	if len(values) != width*height {
		return nil, fmt.Errorf("depth grid has %d values, want %d", len(values), width*height)
	}
	if imageWidth <= 0 || imageHeight <= 0 {
		return nil, fmt.Errorf("invalid image size %vx%v", imageWidth, imageHeight)
	}
	g := grid.New(height, width, 1)
	copy(g.Data, values)
	return &PhysicalGrid{grid: g, imageWidth: imageWidth, imageHeight: imageHeight}, nil
}

// Sample implements Table. The cell is floor(n * (dim - 1)) per axis, so
// n == 1 addresses the last row or column.
func (p *PhysicalGrid) Sample(pos gaze.Position) (float64, bool) {
	g := p.grid
	if g.Rows <= 1 || g.Cols <= 1 {
		return 0, false
	}
	x := pos.X / p.imageWidth
	y := pos.Y / p.imageHeight
	if !(x >= 0 && x <= 1) || !(y >= 0 && y <= 1) {
		return 0, false
	}
	row := int(math.Floor(y * float64(g.Rows-1)))
	col := int(math.Floor(x * float64(g.Cols-1)))
	return g.At(row, col, 0), true
}

// Grid implements Table.
func (p *PhysicalGrid) Grid() *grid.Grid {
	return p.grid
}

// ParseDepthText reads one depth value per line. Blank lines are skipped.
func ParseDepthText(r io.Reader) ([]float64, error) {
	var values []float64
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse depth on line %d: %w", line, err)
		}
		values = append(values, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read depth values: %w", err)
	}
	return values, nil
}

// LoadPhysicalGrid reads a depth text export from fs.
func LoadPhysicalGrid(fs afero.Fs, path string, width, height int, imageWidth, imageHeight float64) (*PhysicalGrid, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open depth file: %w", err)
	}
	defer f.Close()
	values, err := ParseDepthText(f)
	if err != nil {
		return nil, err
	}
	return NewPhysicalGrid(values, width, height, imageWidth, imageHeight)
}

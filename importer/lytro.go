package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/MichaelMauderer/Gazer/grid"
	"github.com/MichaelMauderer/Gazer/imaging"
	"github.com/MichaelMauderer/Gazer/scene"
)

// DefaultPlaneThreshold is the share of pixels a depth value needs to count
// as a main depth plane.
const DefaultPlaneThreshold = 0.005

// DepthMeta is the metadata exported next to a Lytro depth map.
type DepthMeta struct {
	LambdaMin float64 `json:"LambdaMin"`
	LambdaMax float64 `json:"LambdaMax"`
}

// ReadDepthMeta parses a depth metadata (.jsn) file.
func ReadDepthMeta(fs afero.Fs, path string) (DepthMeta, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return DepthMeta{}, fmt.Errorf("failed to read depth metadata: %w", err)
	}
	var meta DepthMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return DepthMeta{}, fmt.Errorf("failed to parse depth metadata: %w", err)
	}
	return meta, nil
}

// LoadDepth reads <name>.bmp and <name>.jsn from dir.
func LoadDepth(fs afero.Fs, dir, name string) (*grid.Grid, DepthMeta, error) {
	img, err := imaging.Load(fs, filepath.Join(dir, name+".bmp"))
	if err != nil {
		return nil, DepthMeta{}, fmt.Errorf("failed to load depth map: %w", err)
	}
	meta, err := ReadDepthMeta(fs, filepath.Join(dir, name+".jsn"))
	if err != nil {
		return nil, DepthMeta{}, err
	}
	return grid.FromImage(img).Flatten(), meta, nil
}

// MainDepthPlanes returns, in ascending order, the depth values covering
// more than threshold of all cells.
func MainDepthPlanes(depth *grid.Grid, threshold float64) []float64 {
	counts := make(map[float64]int)
	for _, v := range depth.Data {
		counts[v]++
	}
	limit := threshold * float64(len(depth.Data))
	var planes []float64
	for v, n := range counts {
		if float64(n) > limit {
			planes = append(planes, v)
		}
	}
	sort.Float64s(planes)
	return planes
}

// DepthToLambda maps a pixel value in 0..valueMax linearly onto the lambda
// range and rounds half to even.
func DepthToLambda(value, valueMax, lambdaMin, lambdaMax float64) float64 {
	norm := 0.0
	if valueMax > 0 {
		norm = value / valueMax
	}
	return math.RoundToEven(norm*(lambdaMax-lambdaMin) + lambdaMin)
}

// Remap returns a copy of g with fn applied to every value.
func Remap(g *grid.Grid, fn func(float64) float64) *grid.Grid {
	return g.Clone().Apply(fn)
}

// ValueMapToIndexMap replaces every value by the index of the nearest plane.
// Ties resolve to the lower index.
func ValueMapToIndexMap(values *grid.Grid, planes []float64) *grid.Grid {
	return Remap(values, func(v float64) float64 {
		best := 0
		for i, p := range planes {
			if math.Abs(p-v) < math.Abs(planes[best]-v) {
				best = i
			}
		}
		return float64(best)
	})
}

// FocusRenderer produces an image focused at lambda.
type FocusRenderer interface {
	RenderFocus(ctx context.Context, lambda float64) (image.Image, error)
}

// FocusDir serves focus images already rendered into Dir as
// <Base>_f_<lambda>.jpg.
type FocusDir struct {
	Fs   afero.Fs
	Dir  string
	Base string
}

// RenderFocus implements FocusRenderer.
func (d FocusDir) RenderFocus(ctx context.Context, lambda float64) (image.Image, error) {
	name := fmt.Sprintf("%s_f_%d.jpg", d.Base, int(lambda))
	return imaging.Load(d.Fs, filepath.Join(d.Dir, name))
}

// LytroStack reduces a depth map to its main planes, renders one focus image
// per distinct plane lambda and returns the plane index map with its frames.
func LytroStack(ctx context.Context, depth *grid.Grid, meta DepthMeta, threshold float64, r FocusRenderer) (scene.DOFData, error) {
	_, valueMax := depth.MinMax()
	toLambda := func(v float64) float64 {
		return DepthToLambda(v, valueMax, meta.LambdaMin, meta.LambdaMax)
	}

	seen := make(map[float64]struct{})
	var focal []float64
	for _, p := range MainDepthPlanes(depth, threshold) {
		l := toLambda(p)
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		focal = append(focal, l)
	}
	sort.Float64s(focal)
	if len(focal) == 0 {
		return scene.DOFData{}, fmt.Errorf("depth map has no main depth planes")
	}

	indices := ValueMapToIndexMap(Remap(depth, toLambda), focal)

	mapping := make(map[float64]image.Image, len(focal))
	for i, l := range focal {
		if err := ctx.Err(); err != nil {
			return scene.DOFData{}, err
		}
		img, err := r.RenderFocus(ctx, l)
		if err != nil {
			return scene.DOFData{}, fmt.Errorf("failed to render focal plane %v: %w", l, err)
		}
		mapping[float64(i)] = img
	}
	return scene.DOFData{Depth: indices, Frames: mapping}, nil
}

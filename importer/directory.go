// Package importer turns folders and archives of focal plane images into
// depth data for scenes.
package importer

import (
	"context"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/MichaelMauderer/Gazer/grid"
	"github.com/MichaelMauderer/Gazer/imaging"
	"github.com/MichaelMauderer/Gazer/scene"
)

// DefaultDepthMapName is the depth map file expected in an import folder.
const DefaultDepthMapName = "depthmap.png"

// Options configures directory and archive imports.
type Options struct {
	// DepthMapName is the depth map file name inside the folder.
	DepthMapName string
	// Progress receives progress updates. May be nil.
	Progress ProgressCallback
	// TempDir is where archives are extracted.
	TempDir string
}

func (o Options) depthMapName() string {
	if o.DepthMapName == "" {
		return DefaultDepthMapName
	}
	return o.DepthMapName
}

// DepthToIndex maps an 8-bit depth value onto one of n frames. Bright values
// (near) map to the first frame, dark values (far) to the last.
func DepthToIndex(depth float64, n int) int {
	if n <= 1 {
		return 0
	}
	offset := 255 / float64(n-1)
	i := int(math.Floor(math.Abs(depth-255) / offset))
	if i >= n {
		i = n - 1
	}
	return i
}

// FrameFiles lists the image files in dir except the depth map, sorted by name.
func FrameFiles(fs afero.Fs, dir, depthMapName string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !imaging.IsImagePath(e.Name()) {
			continue
		}
		if strings.EqualFold(e.Name(), depthMapName) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// DirToDOFData imports a folder holding a depth map and the focal plane
// images. Every distinct depth value is assigned the frame chosen by
// DepthToIndex. A depth map whose size differs from the frames is resampled
// to the frame size with nearest neighbour sampling.
func DirToDOFData(ctx context.Context, fs afero.Fs, dir string, opts Options) (scene.DOFData, error) {
	depthName := opts.depthMapName()
	report(opts.Progress, StageDepthMap, 0, 1, "Loading depth map...")
	depthImg, err := imaging.Load(fs, filepath.Join(dir, depthName))
	if err != nil {
		return scene.DOFData{}, fmt.Errorf("failed to load depth map: %w", err)
	}

	paths, err := FrameFiles(fs, dir, depthName)
	if err != nil {
		return scene.DOFData{}, err
	}
	if len(paths) == 0 {
		return scene.DOFData{}, fmt.Errorf("no frame images found in %s", dir)
	}

	loaded := make(map[int]image.Image)
	load := func(i int) (image.Image, error) {
		if img, ok := loaded[i]; ok {
			return img, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report(opts.Progress, StageFrames, len(loaded), len(paths), fmt.Sprintf("Loading %s...", filepath.Base(paths[i])))
		img, err := imaging.Load(fs, paths[i])
		if err != nil {
			return nil, fmt.Errorf("failed to load frame: %w", err)
		}
		loaded[i] = img
		return img, nil
	}

	first, err := load(0)
	if err != nil {
		return scene.DOFData{}, err
	}
	fb := first.Bounds()
	depthImg = imaging.ResampleNearest(depthImg, fb.Dx(), fb.Dy())
	depth := grid.FromImage(depthImg).Flatten()

	values, _ := depth.Unique()
	mapping := make(map[float64]image.Image, len(values))
	for _, v := range values {
		img, err := load(DepthToIndex(v, len(paths)))
		if err != nil {
			return scene.DOFData{}, err
		}
		mapping[v] = img
	}
	report(opts.Progress, StageComplete, len(paths), len(paths), "Import complete")
	return scene.DOFData{Depth: depth, Frames: mapping}, nil
}

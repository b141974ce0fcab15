package importer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/MichaelMauderer/Gazer/frames"
	"github.com/MichaelMauderer/Gazer/grid"
	"github.com/MichaelMauderer/Gazer/imaging"
	"github.com/MichaelMauderer/Gazer/interpolator"
	"github.com/MichaelMauderer/Gazer/lookup"
	"github.com/MichaelMauderer/Gazer/scene"
)

// DirToScene imports a folder like DirToDOFData but leaves the frames on
// disk. The lookup table holds frame indices and at most cacheSize decoded
// frames are kept in memory. Only the first frame is read up front to size
// the depth map.
func DirToScene(ctx context.Context, fs afero.Fs, dir string, opts Options, cacheSize int, interp interpolator.Interpolator) (*scene.Scene, error) {
	depthName := opts.depthMapName()
	report(opts.Progress, StageDepthMap, 0, 1, "Loading depth map...")
	depthImg, err := imaging.Load(fs, filepath.Join(dir, depthName))
	if err != nil {
		return nil, fmt.Errorf("failed to load depth map: %w", err)
	}

	paths, err := FrameFiles(fs, dir, depthName)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frame images found in %s", dir)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report(opts.Progress, StageFrames, 0, 1, fmt.Sprintf("Reading %s...", filepath.Base(paths[0])))
	first, err := imaging.Load(fs, paths[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load frame: %w", err)
	}
	fb := first.Bounds()
	lut := grid.FromImage(imaging.ResampleNearest(depthImg, fb.Dx(), fb.Dy())).Flatten()

	used := make(map[int]bool)
	lut.Apply(func(v float64) float64 {
		i := DepthToIndex(v, len(paths))
		used[i] = true
		return float64(i)
	})
	keys := make([]int, 0, len(used))
	for i := range used {
		keys = append(keys, i)
	}

	manager, err := frames.NewFileBacked(fs, keys, func(i int) string { return paths[i] }, cacheSize)
	if err != nil {
		return nil, err
	}
	report(opts.Progress, StageComplete, len(paths), len(paths), "Import complete")
	return scene.New(manager, lookup.NewArray(lut), interp), nil
}

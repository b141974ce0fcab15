package gcio

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/MichaelMauderer/Gazer/colorscene"
	"github.com/MichaelMauderer/Gazer/imaging"
	"github.com/MichaelMauderer/Gazer/interpolator"
	"github.com/MichaelMauderer/Gazer/scene"
)

// ErrUnsupportedFormat is returned by LoadScene for unknown file extensions.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Loader loads a scene from a path or URI.
type Loader func(ctx context.Context, path string) (*scene.Scene, error)

// Loaders maps lower case file extensions (without dot) to loaders. The
// special key SchemeS3 handles s3:// URIs regardless of extension.
type Loaders map[string]Loader

// SchemeS3 is the Loaders key for s3:// URIs.
const SchemeS3 = "s3"

// InterpolatorFactory creates the interpolator for each loaded scene.
type InterpolatorFactory func() interpolator.Interpolator

// defaultInterpolator leaves the choice to scene.New.
func defaultInterpolator() interpolator.Interpolator {
	return nil
}

// DefaultLoaders returns loaders for gc containers and still images on fsys.
func DefaultLoaders(fsys afero.Fs, reg Registry, newInterp InterpolatorFactory) Loaders {
	if newInterp == nil {
		newInterp = defaultInterpolator
	}
	loaders := Loaders{
		"gc": func(ctx context.Context, p string) (*scene.Scene, error) {
			s, err := ReadFile(fsys, p, reg, newInterp())
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
			}
			return s, err
		},
	}
	for _, ext := range imaging.Extensions {
		loaders[ext] = func(ctx context.Context, p string) (*scene.Scene, error) {
			img, err := imaging.Load(fsys, p)
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
			}
			if err != nil {
				return nil, err
			}
			return ImageScene(img, newInterp()), nil
		}
	}
	return loaders
}

// Extensions returns the supported file extensions.
func (l Loaders) Extensions() []string {
	var out []string
	for k := range l {
		if k != SchemeS3 {
			out = append(out, k)
		}
	}
	return out
}

// LoadScene picks a loader by the extension of p and runs it.
func LoadScene(ctx context.Context, p string, loaders Loaders) (*scene.Scene, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.HasPrefix(p, SchemeS3+"://") {
		if loader, ok := loaders[SchemeS3]; ok {
			return loader(ctx, p)
		}
		return nil, fmt.Errorf("%w: no s3 source configured", ErrUnsupportedFormat)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
	loader, ok := loaders[ext]
	if !ok {
		log.Printf("Warning: Unknown file extension: %s", ext)
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return loader(ctx, p)
}

// ImageScene opens a still image as a lightness rescaling colour scene.
func ImageScene(img image.Image, interp interpolator.Interpolator) *scene.Scene {
	return scene.NewProcessed(colorscene.NewRescaled(img, colorscene.DefaultWindow), interp)
}

// ExtractSceneToStack writes every frame of s as <index>.png and the raw
// lookup table as depthmap.png into dir.
func ExtractSceneToStack(s *scene.Scene, fsys afero.Fs, dir string) error {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	for idx, img := range s.Frames() {
		if img == nil {
			continue
		}
		out := filepath.Join(dir, fmt.Sprintf("%d.png", idx))
		if err := imaging.SavePNG(fsys, out, img); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", idx, err)
		}
	}
	lut := s.Table().Grid()
	if lut == nil {
		return errors.New("scene has no lookup table")
	}
	if err := imaging.SavePNG(fsys, filepath.Join(dir, "depthmap.png"), lut.ToImage()); err != nil {
		return fmt.Errorf("failed to write depth map: %w", err)
	}
	return nil
}

// ExtractFileToStack reads the container at in and extracts it into dir.
func ExtractFileToStack(fsys afero.Fs, in, dir string, reg Registry) error {
	s, err := ReadFile(fsys, in, reg, nil)
	if err != nil {
		return err
	}
	return ExtractSceneToStack(s, fsys, dir)
}

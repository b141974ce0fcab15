package viewer

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/MichaelMauderer/Gazer/downloads"
	"github.com/MichaelMauderer/Gazer/gcio"
	"github.com/MichaelMauderer/Gazer/importer"
	"github.com/MichaelMauderer/Gazer/importqueue"
	"github.com/MichaelMauderer/Gazer/interpolator"
	"github.com/MichaelMauderer/Gazer/library"
	"github.com/MichaelMauderer/Gazer/lookup"
	"github.com/MichaelMauderer/Gazer/scene"
)

// Opener turns a path into a scene. Folders and archives are imported as
// focal stacks, everything else goes through the container loaders.
type Opener struct {
	Fs           afero.Fs
	Loaders      gcio.Loaders
	NewInterp    gcio.InterpolatorFactory
	DepthMapName string
	// TempDir is where archives are extracted; empty uses the system default.
	TempDir string
	// LazyFrames, when positive, opens folders without decoding every frame
	// and keeps at most this many frames in memory.
	LazyFrames int
	// Downloader fetches http(s) URLs into TempDir before opening them.
	// Remote URLs are rejected when nil.
	Downloader *downloads.Downloader
	// Lookup filters the depth map of every opened scene.
	Lookup lookup.Options
	// History records successfully opened scenes. May be nil.
	History *sql.DB
}

func (o *Opener) interpolator() interpolator.Interpolator {
	if o.NewInterp == nil {
		return nil
	}
	return o.NewInterp()
}

// Open loads the scene at path.
func (o *Opener) Open(ctx context.Context, path string, progress importer.ProgressCallback) (*scene.Scene, error) {
	if downloads.IsRemote(path) {
		return o.openRemote(ctx, path, progress)
	}
	opts := importer.Options{DepthMapName: o.DepthMapName, TempDir: o.TempDir, Progress: progress}

	var (
		data scene.DOFData
		err  error
	)
	if isDir, _ := afero.IsDir(o.Fs, path); isDir {
		if o.LazyFrames > 0 {
			return importer.DirToScene(ctx, o.Fs, path, opts, o.LazyFrames, o.interpolator())
		}
		data, err = importer.DirToDOFData(ctx, o.Fs, path, opts)
	} else if importer.IsArchivePath(path) {
		data, err = importer.ArchiveToDOFData(ctx, o.Fs, path, opts)
	} else {
		return gcio.LoadScene(ctx, path, o.Loaders)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", path, err)
	}
	return scene.FromDOFData(data, o.interpolator())
}

// openRemote downloads url into a fresh temporary folder and opens the local
// copy, which is removed afterwards.
func (o *Opener) openRemote(ctx context.Context, url string, progress importer.ProgressCallback) (*scene.Scene, error) {
	if o.Downloader == nil {
		return nil, fmt.Errorf("remote scenes are disabled: %s", url)
	}
	if o.TempDir != "" {
		if err := o.Fs.MkdirAll(o.TempDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
	}
	dir, err := afero.TempDir(o.Fs, o.TempDir, "gazer-download")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer o.Fs.RemoveAll(dir)

	d := *o.Downloader
	d.Fs = o.Fs
	local := filepath.Join(dir, downloads.FileName(url))
	err = d.DownloadWithRetry(ctx, local, url, func(done, total int64) {
		if progress == nil {
			return
		}
		p := importer.Progress{Stage: importer.StageDownloading, Message: "Downloading " + downloads.FileName(url) + "..."}
		if total > 0 {
			p.Percent = float64(done) / float64(total) * 100
		}
		progress(p)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	return o.Open(ctx, local, progress)
}

// ImportFunc returns a background job opening path.
func (o *Opener) ImportFunc(path string) importqueue.ImportFunc {
	return func(ctx context.Context, progress importer.ProgressCallback) (*scene.Scene, error) {
		s, err := o.Open(ctx, path, progress)
		if err != nil {
			return nil, err
		}
		if s, err = o.filter(s); err != nil {
			return nil, err
		}
		o.remember(path, s)
		return s, nil
	}
}

// filter rebuilds s over a filtered copy of its depth map. Processed
// scenes have no depth to filter.
func (o *Opener) filter(s *scene.Scene) (*scene.Scene, error) {
	if !o.Lookup.Enabled() || s.Processor() != nil {
		return s, nil
	}
	table, err := o.Lookup.Apply(s.Table().Grid())
	if err != nil {
		return nil, fmt.Errorf("failed to filter depth map: %w", err)
	}
	return scene.New(s.Manager(), table, s.Interpolator()), nil
}

func (o *Opener) remember(path string, s *scene.Scene) {
	if o.History == nil || s == nil {
		return
	}
	var size int64
	if info, err := o.Fs.Stat(path); err == nil && !info.IsDir() {
		size = info.Size()
	}
	if err := library.RecordOpen(o.History, path, filepath.Base(path), len(s.Manager().Keys()), size); err != nil {
		log.Printf("Warning: failed to record %s in history: %v", path, err)
	}
	if err := library.SetPref(o.History, library.PrefLastScene, path); err != nil {
		log.Printf("Warning: failed to save last scene: %v", err)
	}
}

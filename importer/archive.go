package importer

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/spf13/afero"

	"github.com/MichaelMauderer/Gazer/scene"
)

// ArchiveExtensions lists the archive formats ArchiveToDOFData accepts.
var ArchiveExtensions = []string{".zip", ".7z"}

// IsArchivePath reports whether path has a supported archive extension.
func IsArchivePath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ArchiveExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// archiveEntry is the part of zip.File and sevenzip.File the extractor needs.
type archiveEntry struct {
	name  string
	isDir bool
	open  func() (io.ReadCloser, error)
}

// ExtractArchive unpacks the zip or 7z archive at archivePath on fs into destDir.
func ExtractArchive(ctx context.Context, fs afero.Fs, archivePath, destDir string, progressCb ProgressCallback) error {
	f, err := fs.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	var entries []archiveEntry
	switch strings.ToLower(filepath.Ext(archivePath)) {
	case ".zip":
		reader, err := zip.NewReader(f, info.Size())
		if err != nil {
			return fmt.Errorf("failed to open zip archive: %w", err)
		}
		for _, file := range reader.File {
			entries = append(entries, archiveEntry{name: file.Name, isDir: file.FileInfo().IsDir(), open: file.Open})
		}
	case ".7z":
		reader, err := sevenzip.NewReader(f, info.Size())
		if err != nil {
			return fmt.Errorf("failed to open 7z archive: %w", err)
		}
		for _, file := range reader.File {
			entries = append(entries, archiveEntry{name: file.Name, isDir: file.FileInfo().IsDir(), open: file.Open})
		}
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Ext(archivePath))
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i%10 == 0 {
			report(progressCb, StageExtracting, i, len(entries), fmt.Sprintf("Extracting %d/%d files...", i+1, len(entries)))
		}

		destPath, err := safeJoin(destDir, entry.name)
		if err != nil {
			return err
		}
		if entry.isDir {
			if err := fs.MkdirAll(destPath, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}
		if err := fs.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		if err := extractEntry(fs, entry, destPath); err != nil {
			return err
		}
	}
	return nil
}

// safeJoin joins name onto dir and rejects names escaping dir.
func safeJoin(dir, name string) (string, error) {
	dest := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal path in archive: %s", name)
	}
	return dest, nil
}

func extractEntry(fs afero.Fs, entry archiveEntry, destPath string) error {
	rc, err := entry.open()
	if err != nil {
		return fmt.Errorf("failed to open %s in archive: %w", entry.name, err)
	}
	defer rc.Close()

	outFile, err := fs.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, rc); err != nil {
		return fmt.Errorf("failed to extract %s: %w", entry.name, err)
	}
	return nil
}

// ArchiveToDOFData extracts an archive into a temporary folder under
// opts.TempDir (the system temp dir when empty) and imports it with
// DirToDOFData. The images may sit at the archive root or in a single top
// level folder. The temporary folder is always removed.
func ArchiveToDOFData(ctx context.Context, fs afero.Fs, archivePath string, opts Options) (scene.DOFData, error) {
	if opts.TempDir != "" {
		if err := fs.MkdirAll(opts.TempDir, 0755); err != nil {
			return scene.DOFData{}, fmt.Errorf("failed to create temp dir: %w", err)
		}
	}
	tmp, err := afero.TempDir(fs, opts.TempDir, "gazer-import")
	if err != nil {
		return scene.DOFData{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer fs.RemoveAll(tmp)

	if err := ExtractArchive(ctx, fs, archivePath, tmp, opts.Progress); err != nil {
		return scene.DOFData{}, err
	}

	dir, err := findImportDir(fs, tmp, opts.depthMapName())
	if err != nil {
		return scene.DOFData{}, err
	}
	return DirToDOFData(ctx, fs, dir, opts)
}

func findImportDir(fs afero.Fs, root, depthMapName string) (string, error) {
	if ok, _ := afero.Exists(fs, filepath.Join(root, depthMapName)); ok {
		return root, nil
	}
	entries, err := afero.ReadDir(fs, root)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", root, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if ok, _ := afero.Exists(fs, filepath.Join(dir, depthMapName)); ok {
			return dir, nil
		}
	}
	return "", fmt.Errorf("archive contains no %s", depthMapName)
}

package frames

import (
	"fmt"
	"image"
	"log"
	"sort"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/spf13/afero"

	"github.com/MichaelMauderer/Gazer/imaging"
)

// DefaultCacheSize is the frame cache capacity used when none is configured.
const DefaultCacheSize = 128

// PathFunc maps a frame index to an image path.
type PathFunc func(index int) string

// FileBacked loads frames from disk on first access and keeps the most
// recently used ones in a bounded cache. It is not safe for concurrent use.
type FileBacked struct {
	fs      afero.Fs
	keys    []int
	valid   map[int]struct{}
	pathFor PathFunc
	cache   *simplelru.LRU[int, image.Image]
}

// NewFileBacked returns a manager over keys, resolving paths with pathFor.
func NewFileBacked(fs afero.Fs, keys []int, pathFor PathFunc, capacity int) (*FileBacked, error) {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	cache, err := simplelru.NewLRU[int, image.Image](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame cache: %w", err)
	}
	valid := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		valid[k] = struct{}{}
	}
	sorted := make([]int, 0, len(valid))
	for k := range valid {
		sorted = append(sorted, k)
	}
	sort.Ints(sorted)
	return &FileBacked{fs: fs, keys: sorted, valid: valid, pathFor: pathFor, cache: cache}, nil
}

// Load implements Manager. Decode failures are logged and not cached.
func (m *FileBacked) Load(key float64) (image.Image, bool) {
	i, ok := KeyIndex(key)
	if !ok {
		return nil, false
	}
	if img, ok := m.cache.Get(i); ok {
		return img, true
	}
	if _, ok := m.valid[i]; !ok {
		log.Printf("Warning: Image %v not found", key)
		return nil, false
	}
	path := m.pathFor(i)
	img, err := imaging.Load(m.fs, path)
	if err != nil {
		log.Printf("Warning: Image %v not found: %v", path, err)
		return nil, false
	}
	m.cache.Add(i, img)
	return img, true
}

// Keys implements Manager.
func (m *FileBacked) Keys() []int {
	return sortedCopy(m.keys)
}

// Preload implements Manager.
func (m *FileBacked) Preload(keys []int) {
	for _, k := range keys {
		m.Load(float64(k))
	}
}

// Draw implements Manager.
func (m *FileBacked) Draw(key float64, dst Surface) error {
	return drawFrame(m, key, dst)
}

// Cached returns the cached keys from least to most recently used.
func (m *FileBacked) Cached() []int {
	return m.cache.Keys()
}

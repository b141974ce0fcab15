package appconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/MichaelMauderer/Gazer/gaze"
	"github.com/MichaelMauderer/Gazer/gcio"
	"github.com/MichaelMauderer/Gazer/interpolator"
	"github.com/MichaelMauderer/Gazer/lookup"
	"github.com/MichaelMauderer/Gazer/platform"
)

// Config holds the viewer settings: where to listen, how to interpolate
// depth, how to smooth gaze and where imports and preferences live.
type Config struct {
	ListenAddr string `json:"listenAddr"`

	// SQLite database holding preferences and the import history
	DBPath string `json:"dbPath"`

	// Folder the open dialog starts in
	ScenesDir string `json:"scenesDir"`

	Interpolator interpolator.Options `json:"interpolator"`

	// Depth map filter applied when a scene is opened
	Lookup lookup.Options `json:"lookup"`

	// Gaze smoothing
	Smoothing struct {
		Enabled bool                 `json:"enabled"`
		Kalman  gaze.SmootherOptions `json:"kalman"`
	} `json:"smoothing"`

	// Canvas and render loop
	CanvasWidth    int `json:"canvasWidth"`
	CanvasHeight   int `json:"canvasHeight"`
	TickMillis     int `json:"tickMillis"`
	FrameCacheSize int `json:"frameCacheSize"`

	// Container defaults used when saving scenes
	DefaultType        string `json:"defaultType"`
	DefaultCompression string `json:"defaultCompression"`

	// Imports
	DepthMapName      string `json:"depthMapName"`
	ImportTempDir     string `json:"importTempDir"`
	ImportConcurrency int    `json:"importConcurrency"`

	// Optional S3 source for s3:// scene URIs
	S3 gcio.S3Options `json:"s3"`

	// Token auth for remote trackers on /ws/gaze
	Auth struct {
		Enabled   bool   `json:"enabled"`
		JWTSecret string `json:"jwtSecret"`
	} `json:"auth"`
}

var (
	cfgMu sync.RWMutex
	cfg   Config
)

// DefaultDBPath returns the default database path.
// Uses the platform-specific data directory.
func DefaultDBPath() string {
	return filepath.Join(platform.GetDataDir(), "gazer.db")
}

// DefaultConfigDir returns the default config directory path.
// Uses the platform-specific data directory.
func DefaultConfigDir() string {
	return platform.GetDataDir()
}

// defaultConfig returns a Config populated with sensible defaults.
func defaultConfig() Config {
	c := Config{
		ListenAddr:         "127.0.0.1:8091",
		DBPath:             DefaultDBPath(),
		ScenesDir:          platform.UserHomeDir(),
		Interpolator:       interpolator.Options{Kind: "linear", StepSize: 1},
		CanvasWidth:        800,
		CanvasHeight:       600,
		TickMillis:         16,
		FrameCacheSize:     8,
		DefaultType:        "simple_array_stack",
		DefaultCompression: "gzip",
		DepthMapName:       "depth.png",
		ImportTempDir:      platform.GetTempDir(),
		ImportConcurrency:  1,
	}
	c.Smoothing.Kalman = gaze.DefaultSmootherOptions()
	c.Auth.JWTSecret = uuid.New().String()
	return c
}

// applyDefaults fills zero fields from def. It reports whether a field that
// must be persisted was missing.
func applyDefaults(c *Config, def Config) bool {
	needsSave := false
	if c.DBPath == "" {
		c.DBPath = def.DBPath
		needsSave = true
	}
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
		needsSave = true
	}
	// A generated secret must be saved or issued tokens die on restart.
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = def.Auth.JWTSecret
		needsSave = true
	}
	if c.ScenesDir == "" {
		c.ScenesDir = def.ScenesDir
	}
	if c.Interpolator.Kind == "" {
		c.Interpolator.Kind = def.Interpolator.Kind
	}
	if c.Interpolator.StepSize == 0 {
		c.Interpolator.StepSize = def.Interpolator.StepSize
	}
	if c.Smoothing.Kalman == (gaze.SmootherOptions{}) {
		c.Smoothing.Kalman = def.Smoothing.Kalman
	}
	if c.CanvasWidth <= 0 {
		c.CanvasWidth = def.CanvasWidth
	}
	if c.CanvasHeight <= 0 {
		c.CanvasHeight = def.CanvasHeight
	}
	if c.TickMillis <= 0 {
		c.TickMillis = def.TickMillis
	}
	if c.FrameCacheSize <= 0 {
		c.FrameCacheSize = def.FrameCacheSize
	}
	if c.DefaultType == "" {
		c.DefaultType = def.DefaultType
	}
	if c.DefaultCompression == "" {
		c.DefaultCompression = def.DefaultCompression
	}
	if c.DepthMapName == "" {
		c.DepthMapName = def.DepthMapName
	}
	if c.ImportTempDir == "" {
		c.ImportTempDir = def.ImportTempDir
	}
	if c.ImportConcurrency <= 0 {
		c.ImportConcurrency = def.ImportConcurrency
	}
	return needsSave
}

// Get returns a copy of the current in-memory config.
func Get() Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg
}

// Set replaces the in-memory config.
func Set(c Config) {
	cfgMu.Lock()
	cfg = c
	cfgMu.Unlock()
}

func isJSONObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func deepMergeJSON(dst, src map[string]json.RawMessage) {
	for k, v := range src {
		if existing, ok := dst[k]; ok && isJSONObject(existing) && isJSONObject(v) {
			var dstObj map[string]json.RawMessage
			var srcObj map[string]json.RawMessage
			if err := json.Unmarshal(existing, &dstObj); err != nil {
				dst[k] = v
				continue
			}
			if err := json.Unmarshal(v, &srcObj); err != nil {
				dst[k] = v
				continue
			}
			deepMergeJSON(dstObj, srcObj)
			merged, err := json.Marshal(dstObj)
			if err != nil {
				dst[k] = v
				continue
			}
			dst[k] = merged
			continue
		}
		dst[k] = v
	}
}

// ConfigPath returns the full path to the config.json file.
func ConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config from the default location. See LoadFrom.
func Load() (Config, string, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the config at path and updates the in-memory config. It
// returns the config and path. A missing file is created with defaults.
func LoadFrom(path string) (Config, string, error) {
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return Config{}, "", fmt.Errorf("failed to create config directory %s: %v", configDir, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			def := defaultConfig()

			dbDir := filepath.Dir(def.DBPath)
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return Config{}, "", fmt.Errorf("failed to create database directory %s: %v", dbDir, err)
			}

			savedPath, saveErr := SaveTo(path, def)
			if saveErr != nil {
				return Config{}, path, fmt.Errorf("failed to create default config file: %v", saveErr)
			}
			Set(def)
			return def, savedPath, nil
		}
		return Config{}, path, fmt.Errorf("failed to read config file at %s: %v", path, err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, path, fmt.Errorf("failed to parse config JSON: %v", err)
	}

	needsSave := applyDefaults(&c, defaultConfig())

	if _, err := interpolator.New(c.Interpolator); err != nil {
		return Config{}, path, fmt.Errorf("invalid interpolator settings: %v", err)
	}
	if err := c.Lookup.Validate(); err != nil {
		return Config{}, path, fmt.Errorf("invalid lookup settings: %v", err)
	}

	dbDir := filepath.Dir(c.DBPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return Config{}, path, fmt.Errorf("failed to create database directory %s: %v", dbDir, err)
	}

	if needsSave {
		if _, saveErr := SaveTo(path, c); saveErr != nil {
			fmt.Printf("Warning: failed to save updated config: %v\n", saveErr)
		}
	}

	Set(c)
	return c, path, nil
}

// Save writes the config to the default location. Returns the path.
func Save(c Config) (string, error) {
	return SaveTo(ConfigPath(), c)
}

// SaveTo writes the config to path, creating the directory as needed. Keys
// present in the existing file but unknown to Config are preserved.
func SaveTo(path string, c Config) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return path, fmt.Errorf("failed to create config directory: %v", err)
	}
	base := map[string]json.RawMessage{}
	if existing, readErr := os.ReadFile(path); readErr == nil {
		var tmp map[string]json.RawMessage
		if err := json.Unmarshal(existing, &tmp); err == nil {
			base = tmp
		}
	}

	marshaled, err := json.Marshal(c)
	if err != nil {
		return path, fmt.Errorf("failed to marshal config: %v", err)
	}
	incoming := map[string]json.RawMessage{}
	if err := json.Unmarshal(marshaled, &incoming); err != nil {
		return path, fmt.Errorf("failed to map config JSON: %v", err)
	}

	deepMergeJSON(base, incoming)

	mergedData, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return path, fmt.Errorf("failed to marshal merged config: %v", err)
	}
	if err := os.WriteFile(path, mergedData, 0644); err != nil {
		return path, fmt.Errorf("failed to write config file: %v", err)
	}
	Set(c)
	return path, nil
}

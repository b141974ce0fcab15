// Package platform resolves the per-OS directories Gazer keeps its config,
// preferences and import scratch space in.
package platform

import (
	"os"
)

// AppName is the application name used for directory naming
const AppName = "gazer"

// AppDisplayName is the display name used on Windows and macOS
const AppDisplayName = "Gazer"

// GetDataDir returns the application data directory.
// Windows: %APPDATA%\Gazer
// macOS: ~/Library/Application Support/Gazer
// Linux: $XDG_DATA_HOME/gazer or ~/.local/share/gazer
func GetDataDir() string {
	return getDataDir()
}

// GetTempDir returns the scratch directory archives are extracted into.
// Windows: %TEMP%\gazer
// macOS: $TMPDIR/gazer
// Linux: $XDG_RUNTIME_DIR/gazer or /tmp/gazer
func GetTempDir() string {
	return getTempDir()
}

// OpenFile opens a file or directory with the default application.
func OpenFile(path string) error {
	return openFile(path)
}

// UserHomeDir returns the user's home directory, or "." when unknown.
func UserHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

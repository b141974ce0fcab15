//go:build windows

package platform

import (
	"os"
	"os/exec"
	"path/filepath"
)

func getDataDir() string {
	appDataDir := os.Getenv("APPDATA")
	if appDataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		return filepath.Join(home, "."+AppName)
	}
	return filepath.Join(appDataDir, AppDisplayName)
}

func getTempDir() string {
	return filepath.Join(os.TempDir(), AppName)
}

func openFile(path string) error {
	// The empty string after /c start is the window title.
	return exec.Command("cmd", "/c", "start", "", path).Start()
}

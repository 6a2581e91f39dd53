package config

import (
	"os"
	"path/filepath"
)

// UserConfigDir returns the per-user dot-directory holding host.yaml and
// voyager.yaml (~/.blackhole), matching the teacher's ~/.wingthing layout.
func UserConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".blackhole"), nil
}

// EnsureUserConfigDir creates the user config directory if it doesn't exist.
func EnsureUserConfigDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

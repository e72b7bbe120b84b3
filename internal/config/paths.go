// Package config loads convbridge settings from defaults, a YAML file and
// the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the configuration directory.
const HomeEnv = EnvPrefix + "_HOME"

// DefaultConfigDir returns $CONVBRIDGE_HOME, or ~/.convbridge when unset.
func DefaultConfigDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return ExpandPath(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".convbridge"), nil
}

// DefaultConfigPath returns config.yaml inside DefaultConfigDir.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// ExpandPath expands environment variables and a leading ~ in path.
func ExpandPath(path string) (string, error) {
	path = os.ExpandEnv(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

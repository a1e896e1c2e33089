// Package platform knows where per-user data lives on each supported OS.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appDirName = "whisperjson"

// DefaultModelDirFor returns the model cache location for goos. getenv is
// consulted for XDG_DATA_HOME on linux and LOCALAPPDATA on windows.
func DefaultModelDirFor(goos, homeDir string, getenv func(string) string) (string, error) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}

	var base string
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		base = getenv("XDG_DATA_HOME")
		if base == "" && homeDir != "" {
			base = filepath.Join(homeDir, ".local", "share")
		}
	case "darwin":
		if homeDir != "" {
			base = filepath.Join(homeDir, "Library", "Application Support")
		}
	case "windows":
		base = getenv("LOCALAPPDATA")
		if base == "" && homeDir != "" {
			base = filepath.Join(homeDir, "AppData", "Local")
		}
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}

	if base == "" {
		return "", errors.New("cannot determine a data directory: home directory is empty")
	}
	return filepath.Join(base, appDirName, "models"), nil
}

// ResolveModelDir returns override when set and the per-OS default otherwise.
func ResolveModelDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}

	dir, err := DefaultModelDirFor(runtime.GOOS, homeDir, os.Getenv)
	if err != nil {
		return "", fmt.Errorf("resolve model directory: %w (set --model-dir or WHISPERJSON_MODEL_DIR)", err)
	}
	return dir, nil
}

package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultBaseDir is the directory served when none is configured.
func DefaultBaseDir() (string, error) {
	p, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error while getting user home dir: %w", err)
	}

	return filepath.Join(p, "tftp"), nil
}

// EnsureDir creates dir when it does not exist and fails when it exists but
// is not a directory.
func EnsureDir(dir string) error {
	stats, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("error checking if dir exists: %w", err)
		}

		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("error while creating dir %s: %w", dir, err)
		}

		return nil
	}

	if !stats.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidArgument, dir)
	}

	return nil
}

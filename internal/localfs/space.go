package localfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// InsufficientSpaceError indicates that there is not enough disk space for a
// download.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	requiredMB := float64(e.RequiredBytes) / (1024 * 1024)
	availableMB := float64(e.AvailableBytes) / (1024 * 1024)
	return fmt.Sprintf("insufficient disk space for %s: need %.2f MB, have %.2f MB available",
		e.Path, requiredMB, availableMB)
}

// CheckAvailableSpace checks that requiredBytes times safetyMargin fit on the
// filesystem that will hold dir. dir may not exist yet; its nearest existing
// ancestor is checked. When the free space cannot be determined the check
// passes and the download fails naturally if it runs out.
func CheckAvailableSpace(dir string, requiredBytes int64, safetyMargin float64) error {
	available, ok := availableSpace(existingAncestor(dir))
	if !ok {
		return nil
	}
	required := int64(float64(requiredBytes) * safetyMargin)
	if available < required {
		return &InsufficientSpaceError{
			Path:           dir,
			RequiredBytes:  required,
			AvailableBytes: available,
		}
	}
	return nil
}

// IsInsufficientSpaceError checks if an error is an InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	var target *InsufficientSpaceError
	return errors.As(err, &target)
}

func existingAncestor(dir string) string {
	dir = filepath.Clean(dir)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

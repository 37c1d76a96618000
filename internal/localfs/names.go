package localfs

import (
	"fmt"
	"strings"
)

// ValidateFilename validates a file name (not a full path) taken from a
// remote listing before it is joined onto a local directory.
//
// Returns an error if the name:
//   - Is empty, "." or ".."
//   - Contains path separators (/ or \)
//   - Contains null bytes
//
// Names like "foo..bar.txt" are fine.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("filename contains null byte: %q", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("filename cannot contain path separators: %s", name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("filename cannot be %q", name)
	}
	return nil
}

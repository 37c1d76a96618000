package localfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ftphandler/ftp-handler/internal/constants"
)

// FileEntry represents a file or directory in the local filesystem.
type FileEntry struct {
	Path    string      // Full path to the file
	Name    string      // Base name of the file
	Size    int64       // Size in bytes (0 for directories)
	IsDir   bool        // True if this is a directory
	ModTime time.Time   // Last modification time
	Mode    fs.FileMode // File mode/permissions
}

// ListOptions configures the behavior of ListDirectory.
type ListOptions struct {
	// IncludeHidden includes hidden files (starting with .) in results.
	IncludeHidden bool
}

// ListDirectory returns the contents of a directory, directories first and
// then by case-folded name.
func ListDirectory(path string, opts ListOptions) ([]FileEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	result := make([]FileEntry, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !opts.IncludeHidden && IsHiddenName(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Skip entries we can't stat (permission issues, etc.)
			continue
		}

		size := info.Size()
		if entry.IsDir() {
			size = 0
		}
		result = append(result, FileEntry{
			Path:    filepath.Join(path, name),
			Name:    name,
			Size:    size,
			IsDir:   entry.IsDir(),
			ModTime: info.ModTime(),
			Mode:    info.Mode(),
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].IsDir != result[j].IsDir {
			return result[i].IsDir
		}
		return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name)
	})
	return result, nil
}

// OS is the real filesystem. It implements transfer.FileSystem.
type OS struct{}

// Exists reports whether path exists. Stat errors other than "not found"
// count as existing so a download never silently replaces an unreadable
// file.
func (OS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

// MkdirAll creates dir and any missing parents.
func (OS) MkdirAll(dir string) error {
	return os.MkdirAll(dir, constants.DirPermissions)
}

// Remove deletes a single file.
func (OS) Remove(path string) error {
	return os.Remove(path)
}

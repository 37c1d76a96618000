// Package localfs provides the local filesystem operations used by downloads
// and by the local listing command.
package localfs

import (
	"path/filepath"
	"strings"
)

// IsHidden returns true if the file or directory at the given path is hidden.
// On Unix systems, this checks if the base name starts with a dot.
func IsHidden(path string) bool {
	return IsHiddenName(filepath.Base(path))
}

// IsHiddenName returns true if the given filename (not path) represents a hidden file.
// Special entries "." and ".." are not considered hidden.
func IsHiddenName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".")
}

// openable lists the extensions a downloaded file can be handed to a viewer
// for.
var openable = map[string]bool{
	".txt": true, ".log": true, ".md": true, ".csv": true, ".json": true,
	".xml": true, ".html": true, ".htm": true,
	".pdf": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
	".mp3": true, ".wav": true, ".mp4": true, ".mov": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true,
	".zip": true,
}

// IsOpenable reports whether path has an extension a viewer is known to
// handle. The check is by extension only.
func IsOpenable(path string) bool {
	return openable[strings.ToLower(filepath.Ext(path))]
}

// Package history tracks remote directory browsing: a back/forward path list
// and a short most-recent-first list of visited directories.
//
// History is a plain data structure with no I/O. It is not safe for concurrent
// use; the session serializes access.
package history

import (
	"slices"

	"github.com/ftphandler/ftp-handler/internal/constants"
)

// History is the browsing history of one session.
//
// Invariants: len(paths) >= 1 and 0 <= index < len(paths). Recents holds at
// most MaxRecentDirectories unique entries, most recent first, never the root.
type History struct {
	paths   []string
	index   int
	recents []string
}

// New returns a History positioned at the root.
func New() *History {
	return &History{paths: []string{constants.RootPath}}
}

// Navigate records a visit to path. Entries after the current position are
// discarded before path is appended.
func (h *History) Navigate(path string) {
	h.paths = append(h.paths[:h.index+1], path)
	h.index = len(h.paths) - 1
	h.remember(path)
}

func (h *History) remember(path string) {
	if path == constants.RootPath || path == "" {
		return
	}
	if i := slices.Index(h.recents, path); i >= 0 {
		h.recents = slices.Delete(h.recents, i, i+1)
	}
	h.recents = slices.Insert(h.recents, 0, path)
	if len(h.recents) > constants.MaxRecentDirectories {
		h.recents = h.recents[:constants.MaxRecentDirectories]
	}
}

// Back moves one step toward the oldest entry. It returns the new current
// path and false when already at the oldest entry.
func (h *History) Back() (string, bool) {
	if h.index == 0 {
		return h.paths[h.index], false
	}
	h.index--
	return h.paths[h.index], true
}

// Forward moves one step toward the newest entry. It returns the new current
// path and false when already at the newest entry.
func (h *History) Forward() (string, bool) {
	if h.index == len(h.paths)-1 {
		return h.paths[h.index], false
	}
	h.index++
	return h.paths[h.index], true
}

// Current returns the path at the current position.
func (h *History) Current() string {
	return h.paths[h.index]
}

func (h *History) CanBack() bool    { return h.index > 0 }
func (h *History) CanForward() bool { return h.index < len(h.paths)-1 }

// Index returns the current position.
func (h *History) Index() int { return h.index }

// Paths returns a copy of the visited path list.
func (h *History) Paths() []string {
	return slices.Clone(h.paths)
}

// Recents returns a copy of the recent directories, most recent first.
func (h *History) Recents() []string {
	return slices.Clone(h.recents)
}

// Reset drops all entries and returns to the root. Recents are kept so the
// menu survives a reconnect.
func (h *History) Reset() {
	h.paths = []string{constants.RootPath}
	h.index = 0
}

package transfer

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrDownloadCancelled is returned when the collision policy chose Cancel.
var ErrDownloadCancelled = errors.New("download cancelled: destination exists")

// CollisionChoice is the answer to "the download destination already exists".
type CollisionChoice int

const (
	Overwrite CollisionChoice = iota
	Rename
	Cancel
)

func (c CollisionChoice) String() string {
	switch c {
	case Overwrite:
		return "overwrite"
	case Rename:
		return "rename"
	default:
		return "cancel"
	}
}

// ParseChoice accepts overwrite, rename and cancel.
func ParseChoice(s string) (CollisionChoice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "overwrite":
		return Overwrite, nil
	case "rename":
		return Rename, nil
	case "cancel":
		return Cancel, nil
	}
	return Cancel, fmt.Errorf("unknown collision choice %q", s)
}

// CollisionPolicy is consulted only when a download destination exists.
type CollisionPolicy interface {
	Choose(localPath string) CollisionChoice
}

// FixedPolicy answers every collision the same way.
type FixedPolicy CollisionChoice

func (p FixedPolicy) Choose(string) CollisionChoice { return CollisionChoice(p) }

// PolicyFunc adapts a function, e.g. an interactive prompt.
type PolicyFunc func(localPath string) CollisionChoice

func (f PolicyFunc) Choose(localPath string) CollisionChoice { return f(localPath) }

// Resolution says where a download goes and what to do first.
type Resolution struct {
	Path        string
	RemoveFirst bool
}

// ResolveCollision decides the destination of a download:
//
//	exists  choice     result
//	false   any        original path
//	true    Overwrite  original path, remove the existing file first
//	true    Rename     <unixMillis>_<name> in the same directory
//	true    Cancel     ErrDownloadCancelled
func ResolveCollision(exists bool, choice CollisionChoice, path string, now time.Time) (Resolution, error) {
	if !exists {
		return Resolution{Path: path}, nil
	}
	switch choice {
	case Overwrite:
		return Resolution{Path: path, RemoveFirst: true}, nil
	case Rename:
		dir, base := filepath.Split(path)
		return Resolution{Path: filepath.Join(dir, fmt.Sprintf("%d_%s", now.UnixMilli(), base))}, nil
	default:
		return Resolution{}, ErrDownloadCancelled
	}
}

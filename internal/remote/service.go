// Package remote implements directory operations on the remote server.
package remote

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/ftphandler/ftp-handler/internal/ftperr"
	"github.com/ftphandler/ftp-handler/internal/logging"
	"github.com/ftphandler/ftp-handler/internal/transport"
)

// Gate reports whether a live connection exists.
type Gate interface {
	RequireConnected(op string) error
}

// Service wraps a transport's directory operations. Every call fails fast
// with NotConnected when the gate is closed. Errors are returned as
// RemoteError; classifying them is the caller's job.
type Service struct {
	tr   transport.Transport
	gate Gate
	log  *logging.Logger
}

// New returns a Service over tr.
func New(tr transport.Transport, gate Gate, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewNop()
	}
	return &Service{tr: tr, gate: gate, log: log.Component("remote")}
}

// List returns the entries of dir, directories first, then by name.
func (s *Service) List(ctx context.Context, dir string) ([]transport.Entry, error) {
	if err := s.gate.RequireConnected("list"); err != nil {
		return nil, err
	}
	dir = Clean(dir)
	entries, err := s.tr.List(ctx, dir)
	if err != nil {
		return nil, remoteErr("list", dir, err)
	}
	SortEntries(entries)
	s.log.Debug().Str("path", dir).Int("entries", len(entries)).Msg("listed")
	return entries, nil
}

// MakeDirectory creates dir. Its parent must exist.
func (s *Service) MakeDirectory(ctx context.Context, dir string) error {
	if err := s.gate.RequireConnected("mkdir"); err != nil {
		return err
	}
	dir = Clean(dir)
	if err := s.tr.MakeDir(ctx, dir); err != nil {
		return remoteErr("mkdir", dir, err)
	}
	s.log.Info().Str("path", dir).Msg("directory created")
	return nil
}

// Delete removes p with the file or directory command. false with a nil
// error means the server refused.
func (s *Service) Delete(ctx context.Context, p string, isDirectory bool) (bool, error) {
	if err := s.gate.RequireConnected("delete"); err != nil {
		return false, err
	}
	p = Clean(p)
	if p == "/" {
		return false, ftperr.New(ftperr.RemoteError, "delete", "refusing to delete the root directory")
	}

	var (
		ok  bool
		err error
	)
	if isDirectory {
		ok, err = s.tr.DeleteDir(ctx, p)
	} else {
		ok, err = s.tr.DeleteFile(ctx, p)
	}
	if err != nil {
		return false, remoteErr("delete", p, err)
	}
	if ok {
		s.log.Info().Str("path", p).Bool("dir", isDirectory).Msg("deleted")
	} else {
		s.log.Warn().Str("path", p).Bool("dir", isDirectory).Msg("server refused delete")
	}
	return ok, nil
}

// Rename moves oldPath to newPath.
func (s *Service) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := s.gate.RequireConnected("rename"); err != nil {
		return err
	}
	oldPath, newPath = Clean(oldPath), Clean(newPath)
	if err := s.tr.Rename(ctx, oldPath, newPath); err != nil {
		return remoteErr("rename", oldPath, err)
	}
	s.log.Info().Str("from", oldPath).Str("to", newPath).Msg("renamed")
	return nil
}

// remoteErr wraps err as RemoteError unless the transport already did.
func remoteErr(op, p string, err error) error {
	if ftperr.KindOf(err) == ftperr.RemoteError {
		return err
	}
	return ftperr.Wrap(ftperr.RemoteError, op, p, err)
}

// SortEntries orders directories before files, each by case-folded name.
func SortEntries(entries []transport.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if la != lb {
			return la < lb
		}
		return a.Name < b.Name
	})
}

// Clean returns the canonical absolute form of a remote path.
func Clean(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

// Join returns the remote path of name inside dir.
func Join(dir, name string) string {
	return Clean(path.Join(dir, name))
}

// Parent returns the directory containing p. The parent of the root is the
// root.
func Parent(p string) string {
	return path.Dir(Clean(p))
}

// Base returns the last element of p.
func Base(p string) string {
	return path.Base(Clean(p))
}

// Package transport defines the capability the session core needs from an
// FTP implementation, together with the value types that cross it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Direction of a transfer.
type Direction int

const (
	Upload Direction = iota
	Download
)

func (d Direction) String() string {
	switch d {
	case Upload:
		return "upload"
	case Download:
		return "download"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection accepts "upload"/"up"/"put" and "download"/"down"/"get".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "upload", "up", "put":
		return Upload, nil
	case "download", "down", "get":
		return Download, nil
	}
	return 0, fmt.Errorf("unknown transfer direction %q", s)
}

// Token identifies one transfer attempt by its (direction, local path, remote
// path) triple. Tokens are comparable and equality is structural.
type Token struct {
	Direction  Direction
	LocalPath  string
	RemotePath string
}

// Token string encodings
const (
	uploadSep   = "=>"
	downloadSep = "<="
)

// String renders local=>remote for uploads and local<=remote for downloads.
func (t Token) String() string {
	if t.Direction == Download {
		return t.LocalPath + downloadSep + t.RemotePath
	}
	return t.LocalPath + uploadSep + t.RemotePath
}

// IsZero reports whether t is the zero token.
func (t Token) IsZero() bool {
	return t == Token{}
}

// ErrMalformedToken is returned by ParseToken.
var ErrMalformedToken = errors.New("malformed transfer token")

// ParseToken reverses Token.String. Remote paths are absolute, so the split
// is at the last separator followed by "/"; local paths may contain either
// separator. A remote path that itself contains "=>/" or "<=/" does not
// survive the round trip.
func ParseToken(s string) (Token, error) {
	fallback := -1
	for i := len(s) - len(uploadSep); i >= 0; i-- {
		sep := s[i : i+len(uploadSep)]
		if sep != uploadSep && sep != downloadSep {
			continue
		}
		if strings.HasPrefix(s[i+len(sep):], "/") {
			return splitToken(s, i), nil
		}
		if fallback < 0 {
			fallback = i
		}
	}
	if fallback >= 0 {
		return splitToken(s, fallback), nil
	}
	return Token{}, fmt.Errorf("%w: %q", ErrMalformedToken, s)
}

// splitToken splits s around the separator at i. Both separators are two
// bytes long.
func splitToken(s string, i int) Token {
	dir := Upload
	if s[i:i+len(downloadSep)] == downloadSep {
		dir = Download
	}
	return Token{Direction: dir, LocalPath: s[:i], RemotePath: s[i+len(uploadSep):]}
}

// EntryKind distinguishes files from directories in a listing.
type EntryKind int

const (
	File EntryKind = iota
	Directory
)

func (k EntryKind) String() string {
	if k == Directory {
		return "dir"
	}
	return "file"
}

// Entry is one item of a remote directory listing. Name never contains a
// path separator; Size is 0 for directories.
type Entry struct {
	Name string
	Kind EntryKind
	Size uint64
}

// IsDir reports whether e is a directory.
func (e Entry) IsDir() bool { return e.Kind == Directory }

// Progress is an out-of-band percent update for a running transfer.
type Progress struct {
	Token   Token
	Percent float64 // 0 to 100
}

// Credentials identify the server and account to connect with.
type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Dialer opens authenticated transports.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Transport, error)
}

// Transport is the FTP capability consumed by the session core.
//
// Directory operations block until the server answers. Upload and Download
// block until the transfer finishes, fails, or is cancelled through Cancel or
// ctx. A Transport must allow one upload, one download and directory
// operations to run concurrently.
type Transport interface {
	List(ctx context.Context, dir string) ([]Entry, error)
	MakeDir(ctx context.Context, dir string) error

	// DeleteFile and DeleteDir return false without an error when the
	// server refused the deletion.
	DeleteFile(ctx context.Context, path string) (bool, error)
	DeleteDir(ctx context.Context, path string) (bool, error)

	Rename(ctx context.Context, from, to string) error

	Upload(ctx context.Context, tok Token) error

	// Download reports false without an error when the server accepted the
	// request but the transfer did not succeed.
	Download(ctx context.Context, tok Token) (bool, error)

	// Cancel aborts the transfer identified by tok. Unknown tokens are ignored.
	Cancel(tok Token) error

	// SubscribeProgress registers fn for progress updates of every transfer
	// and returns a function that removes the subscription.
	SubscribeProgress(fn func(Progress)) (unsubscribe func())

	Close() error
}

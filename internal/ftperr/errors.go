// Package ftperr defines the error kinds surfaced by the FTP client core.
//
// Every error the core returns to its caller either is, or wraps, an *Error
// carrying one of the Kind values below, so callers can branch on KindOf(err)
// without inspecting messages.
package ftperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is reported for errors that did not originate in the core.
	KindUnknown Kind = iota
	// NotConnected: an operation needed a live session and there was none.
	NotConnected
	// AuthError: connect-time credential or network rejection.
	AuthError
	// RemoteError: the server rejected a single directory or transfer operation.
	RemoteError
	// TransportFatal: the error was classified as loss of the control connection.
	TransportFatal
	// IntegrityError: a transfer reported success but its result is missing.
	IntegrityError
	// StateConflict: an invalid transition, e.g. pause with nothing running.
	StateConflict
)

func (k Kind) String() string {
	switch k {
	case NotConnected:
		return "not connected"
	case AuthError:
		return "authentication failed"
	case RemoteError:
		return "remote error"
	case TransportFatal:
		return "connection lost"
	case IntegrityError:
		return "integrity check failed"
	case StateConflict:
		return "invalid state"
	default:
		return "error"
	}
}

// Error is the core's error type.
type Error struct {
	Kind Kind
	Op   string // operation, e.g. "list", "pause"
	Path string // remote or local path involved, if any
	Msg  string // human-readable detail
	Err  error  // underlying cause

	// Reply is set when the server answered the command. An answer proves
	// the control connection is alive, whatever the reply says.
	Reply bool
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error without an underlying cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf is New with printf-style formatting of the message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. Wrap returns nil when err is nil.
func Wrap(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Rejected wraps a server reply that refused op as a RemoteError marked as a
// reply.
func Rejected(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: RemoteError, Op: op, Path: path, Err: err, Reply: true}
}

// IsReply reports whether any *Error in err's chain wraps a server reply.
func IsReply(err error) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Reply {
			return true
		}
		err = e.Err
	}
	return false
}

// Paths returns the non-empty Path of every *Error in err's chain.
func Paths(err error) []string {
	var paths []string
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			break
		}
		if e.Path != "" {
			paths = append(paths, e.Path)
		}
		err = e.Err
	}
	return paths
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// Package transfer runs uploads and downloads as cancelable units of work,
// one slot per direction, with pause and restart-from-zero resume.
package transfer

import (
	"time"

	"github.com/ftphandler/ftp-handler/internal/transport"
)

// Status of a transfer slot.
type Status string

const (
	StatusIdle      Status = "idle"      // Nothing has run, or a paused transfer was discarded
	StatusRunning   Status = "running"   // Transport transfer in flight
	StatusPaused    Status = "paused"    // Cancelled by the user, record kept for resume
	StatusCompleted Status = "completed" // Last attempt succeeded
	StatusFailed    Status = "failed"    // Last attempt failed, Err set
)

// Startable reports whether a new transfer may start from this status.
func (s Status) Startable() bool {
	return s == StatusIdle || s == StatusCompleted || s == StatusFailed
}

// IsTerminal reports whether the last attempt has settled.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PausedTransfer is what Resume needs to restart a paused transfer.
type PausedTransfer struct {
	Direction  transport.Direction
	LocalPath  string
	RemotePath string
}

// Token returns the token a resumed attempt runs under.
func (p PausedTransfer) Token() transport.Token {
	return transport.Token{Direction: p.Direction, LocalPath: p.LocalPath, RemotePath: p.RemotePath}
}

// State is a read-only snapshot of one slot.
type State struct {
	Direction transport.Direction
	Status    Status
	Token     transport.Token // zero unless Running
	Progress  float64         // 0 to 100, non-decreasing within an attempt
	Err       error           // set when Failed
	Paused    *PausedTransfer // set only while Paused

	StartedAt   time.Time
	CompletedAt time.Time
}

// Transfers holds snapshots of both slots.
type Transfers struct {
	Upload   State
	Download State
}

// Get returns the snapshot for d.
func (t Transfers) Get(d transport.Direction) State {
	if d == transport.Download {
		return t.Download
	}
	return t.Upload
}

// slot is the mutable state behind a State. Guarded by Controller.mu.
type slot struct {
	dir      transport.Direction
	status   Status
	token    transport.Token
	progress float64
	err      error
	paused   *PausedTransfer

	// attempt increments whenever a running attempt is superseded, so a
	// completion arriving afterwards can be recognised and ignored.
	attempt uint64
	cancel  func()
	done    chan struct{}

	startedAt   time.Time
	completedAt time.Time
}

func newSlot(d transport.Direction) *slot {
	done := make(chan struct{})
	close(done)
	return &slot{dir: d, status: StatusIdle, done: done}
}

func (s *slot) snapshot() State {
	st := State{
		Direction:   s.dir,
		Status:      s.status,
		Token:       s.token,
		Progress:    s.progress,
		Err:         s.err,
		StartedAt:   s.startedAt,
		CompletedAt: s.completedAt,
	}
	if s.paused != nil {
		p := *s.paused
		st.Paused = &p
	}
	return st
}

// settle ends the running attempt: it invalidates the attempt, releases the
// transfer context and wakes waiters.
func (s *slot) settle() {
	s.attempt++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Package monitor tracks whether the session's control connection is alive.
//
// Liveness is checked proactively by a periodic probe and reactively by
// classifying the errors of every operation. Either path flips the connected
// flag exactly once per connection and publishes a single ConnectionLost event.
package monitor

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ftphandler/ftp-handler/internal/constants"
	"github.com/ftphandler/ftp-handler/internal/events"
	"github.com/ftphandler/ftp-handler/internal/ftperr"
	"github.com/ftphandler/ftp-handler/internal/logging"
)

// Class is the outcome of classifying an error.
type Class int

const (
	// Transient errors leave the connection state alone.
	Transient Class = iota
	// ConnectionFatal errors mean the control connection is gone.
	ConnectionFatal
)

func (c Class) String() string {
	if c == ConnectionFatal {
		return "fatal"
	}
	return "transient"
}

// fatalMarkers are matched case-insensitively against error text for errors
// that carry no typed cause, e.g. replies relayed as plain strings.
var fatalMarkers = []string{"connection", "timeout", "closed", "eof"}

// replyCode finds an FTP reply code in relayed text: "550 ...", "...: 550 ..."
// or gonzalop's "(code 550)".
var replyCode = regexp.MustCompile(`(?:^|: |\(code )([1-5][0-9]{2})(?:[ )-]|$)`)

// Classify decides whether err means the connection is lost. Cancellation is
// never fatal since pausing a transfer cancels it.
func Classify(err error) Class {
	if err == nil || errors.Is(err, context.Canceled) {
		return Transient
	}
	if ftperr.IsKind(err, ftperr.TransportFatal) {
		return ConnectionFatal
	}
	if ftperr.IsReply(err) {
		return Transient
	}
	// Raised by the core itself, not by I/O.
	switch ftperr.KindOf(err) {
	case ftperr.NotConnected, ftperr.StateConflict, ftperr.AuthError, ftperr.IntegrityError:
		return Transient
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded) {
		return ConnectionFatal
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ConnectionFatal
	}
	return classifyText(err)
}

// classifyText looks only at the innermost cause, with every path named in
// the chain blanked out, so a directory called "closed-projects" cannot end
// a session.
func classifyText(err error) Class {
	msg := rootCause(err).Error()
	for _, p := range ftperr.Paths(err) {
		if len(p) > 1 {
			msg = strings.ReplaceAll(msg, p, " ")
		}
	}
	if m := replyCode.FindStringSubmatch(msg); m != nil {
		// 421: the server is closing the control connection.
		if m[1] == "421" {
			return ConnectionFatal
		}
		return Transient
	}
	msg = strings.ToLower(msg)
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return ConnectionFatal
		}
	}
	return Transient
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// ProbeFunc checks the connection, typically by listing the current directory.
type ProbeFunc func(ctx context.Context) error

// Monitor owns the connected flag of one session.
type Monitor struct {
	interval time.Duration
	bus      *events.EventBus
	log      *logging.Logger

	connected atomic.Bool

	mu     sync.Mutex
	host   string
	probe  ProbeFunc
	onLost []func(reason string)
	quit   chan struct{}
	done   chan struct{}
}

// New returns a disconnected Monitor. A non-positive interval selects the
// default probe interval. bus and log may be nil.
func New(interval time.Duration, bus *events.EventBus, log *logging.Logger) *Monitor {
	if interval <= 0 {
		interval = constants.ProbeInterval
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Monitor{interval: interval, bus: bus, log: log.Component("monitor")}
}

// Interval returns the probe period.
func (m *Monitor) Interval() time.Duration { return m.interval }

// OnLost registers fn to run, in its own goroutine, each time the connection
// is declared lost.
func (m *Monitor) OnLost(fn func(reason string)) {
	m.mu.Lock()
	m.onLost = append(m.onLost, fn)
	m.mu.Unlock()
}

// MarkConnected arms the monitor for a fresh connection to host.
func (m *Monitor) MarkConnected(host string, probe ProbeFunc) {
	m.mu.Lock()
	m.host = host
	m.probe = probe
	m.mu.Unlock()
	m.connected.Store(true)
	m.publish(events.EventConnected, "")
}

// MarkDisconnected records an orderly disconnect and stops probing. It
// reports whether the monitor was connected.
func (m *Monitor) MarkDisconnected() bool {
	m.Stop()
	if !m.connected.CompareAndSwap(true, false) {
		return false
	}
	m.publish(events.EventDisconnected, "")
	return true
}

// Connected reports the current state of the flag.
func (m *Monitor) Connected() bool { return m.connected.Load() }

// RequireConnected returns a NotConnected error for op when disconnected.
func (m *Monitor) RequireConnected(op string) error {
	if !m.connected.Load() {
		return ftperr.New(ftperr.NotConnected, op, "no live connection")
	}
	return nil
}

// Probe runs the probe once. Any failure while connected, other than the
// caller cancelling ctx, declares the connection lost and returns a
// TransportFatal error.
func (m *Monitor) Probe(ctx context.Context) error {
	if err := m.RequireConnected("probe"); err != nil {
		return err
	}
	m.mu.Lock()
	probe := m.probe
	m.mu.Unlock()
	if probe == nil {
		return nil
	}

	err := probe(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	m.lose(err.Error())
	if ftperr.IsKind(err, ftperr.TransportFatal) {
		return err
	}
	return ftperr.Wrap(ftperr.TransportFatal, "probe", "", err)
}

// Report classifies err. Fatal errors declare the connection lost and are
// returned as TransportFatal; anything else is returned unchanged.
func (m *Monitor) Report(err error) error {
	if Classify(err) != ConnectionFatal {
		return err
	}
	m.lose(err.Error())
	if ftperr.IsKind(err, ftperr.TransportFatal) {
		return err
	}
	return &ftperr.Error{Kind: ftperr.TransportFatal, Err: err}
}

// lose flips the flag. Only the caller winning the swap publishes and runs
// the hooks, so concurrent failures produce a single notification.
func (m *Monitor) lose(reason string) {
	if !m.connected.CompareAndSwap(true, false) {
		return
	}
	m.halt()

	m.mu.Lock()
	hooks := append([]func(string){}, m.onLost...)
	host := m.host
	m.mu.Unlock()

	m.log.Warn().Str("host", host).Str("reason", reason).Msg("connection lost")
	m.publish(events.EventConnectionLost, reason)
	for _, fn := range hooks {
		go fn(reason)
	}
}

func (m *Monitor) publish(t events.EventType, reason string) {
	if m.bus == nil {
		return
	}
	m.mu.Lock()
	host := m.host
	m.mu.Unlock()
	m.bus.PublishConnection(t, host, t == events.EventConnected, reason)
}

// Start launches the probe ticker. It is a no-op while already running.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quit != nil {
		return
	}
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(m.quit, m.done)
}

// Stop halts the probe ticker and waits for an in-flight probe to return.
func (m *Monitor) Stop() {
	m.mu.Lock()
	quit, done := m.quit, m.done
	m.quit, m.done = nil, nil
	m.mu.Unlock()
	if quit == nil {
		return
	}
	close(quit)
	<-done
}

// halt stops the ticker without waiting; it may run on the ticker goroutine.
func (m *Monitor) halt() {
	m.mu.Lock()
	quit := m.quit
	m.quit, m.done = nil, nil
	m.mu.Unlock()
	if quit != nil {
		close(quit)
	}
}

func (m *Monitor) loop(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.interval)
			err := m.Probe(ctx)
			cancel()
			if err != nil {
				m.log.Debug().Err(err).Msg("probe failed")
			}
		}
	}
}

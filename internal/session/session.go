// Package session composes the connection monitor, the directory service,
// the transfer controller and the browsing history over one FTP connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ftphandler/ftp-handler/internal/config"
	"github.com/ftphandler/ftp-handler/internal/constants"
	"github.com/ftphandler/ftp-handler/internal/events"
	"github.com/ftphandler/ftp-handler/internal/ftperr"
	"github.com/ftphandler/ftp-handler/internal/history"
	"github.com/ftphandler/ftp-handler/internal/localfs"
	"github.com/ftphandler/ftp-handler/internal/logging"
	"github.com/ftphandler/ftp-handler/internal/monitor"
	"github.com/ftphandler/ftp-handler/internal/remote"
	"github.com/ftphandler/ftp-handler/internal/transfer"
	"github.com/ftphandler/ftp-handler/internal/transport"
)

// Options configures a Session. Profile and Dialer are required.
type Options struct {
	Profile *config.Profile
	Dialer  transport.Dialer

	FS     transfer.FileSystem // defaults to the OS filesystem
	Bus    *events.EventBus    // defaults to a new bus
	Logger *logging.Logger
	Now    func() time.Time
}

// Session is one user's view of one FTP server. At most one connection is
// live at a time; a lost connection is torn down automatically and paused
// transfers survive until the next Connect.
type Session struct {
	profile   *config.Profile
	dialer    transport.Dialer
	bus       *events.EventBus
	log       *logging.Logger
	mon       *monitor.Monitor
	transfers *transfer.Controller
	fs        transfer.FileSystem

	mu   sync.Mutex
	tr   transport.Transport
	dirs *remote.Service
	hist *history.History
}

// New validates the profile and returns a disconnected Session.
func New(opts Options) (*Session, error) {
	if opts.Profile == nil {
		return nil, errors.New("session: profile is required")
	}
	if opts.Dialer == nil {
		return nil, errors.New("session: dialer is required")
	}
	if err := opts.Profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	s := &Session{
		profile: opts.Profile,
		dialer:  opts.Dialer,
		bus:     opts.Bus,
		fs:      opts.FS,
		hist:    history.New(),
	}
	if s.bus == nil {
		s.bus = events.NewEventBus(constants.EventBusDefaultBuffer)
	}
	if s.fs == nil {
		s.fs = localfs.OS{}
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	s.log = log.Component("session")

	s.mon = monitor.New(opts.Profile.ProbeInterval(), s.bus, log)
	s.mon.OnLost(s.onLost)
	s.transfers = transfer.New(transfer.Options{
		FS:      s.fs,
		Monitor: s.mon,
		Bus:     s.bus,
		Logger:  log,
		Refresh: s.refreshAfterTransfer,
		Now:     opts.Now,
	})
	return s, nil
}

// Events returns the status stream: connection state, listings and
// transfer events.
func (s *Session) Events() *events.EventBus { return s.bus }

// Connected reports whether a live connection exists.
func (s *Session) Connected() bool { return s.mon.Connected() }

// Host returns the configured server address.
func (s *Session) Host() string { return s.profile.Address() }

// Connect dials and authenticates with the profile's credentials, lists the
// root directory and starts liveness probing.
func (s *Session) Connect(ctx context.Context) ([]transport.Entry, error) {
	s.mu.Lock()
	if s.tr != nil {
		if s.mon.Connected() {
			s.mu.Unlock()
			return nil, ftperr.New(ftperr.StateConflict, "connect", "already connected to "+s.profile.Address())
		}
		// Lost but not yet torn down.
		s.teardownLocked("reconnect")
	}
	s.mu.Unlock()

	creds := transport.Credentials{
		Host:     s.profile.Server.Host,
		Port:     s.profile.Server.Port,
		User:     s.profile.Server.User,
		Password: s.profile.Server.Password,
	}
	dctx, cancel := context.WithTimeout(ctx, s.profile.Timeout())
	tr, err := s.dialer.Dial(dctx, creds)
	cancel()
	if err != nil {
		s.log.Error().Err(err).Str("host", s.profile.Address()).Msg("connect failed")
		// No session exists yet, so network failures are connect rejections
		// rather than connection loss.
		if ftperr.KindOf(err) != ftperr.AuthError {
			err = ftperr.Wrap(ftperr.AuthError, "connect", s.profile.Address(), err)
		}
		return nil, err
	}

	s.mu.Lock()
	if s.tr != nil {
		s.mu.Unlock()
		_ = tr.Close()
		return nil, ftperr.New(ftperr.StateConflict, "connect", "a concurrent connect won")
	}
	s.tr = tr
	s.dirs = remote.New(tr, s.mon, s.log)
	s.hist.Reset()
	s.mu.Unlock()

	s.transfers.Attach(tr)
	s.mon.MarkConnected(s.profile.Address(), func(ctx context.Context) error {
		_, err := tr.List(ctx, s.CurrentPath())
		return err
	})
	s.mon.Start()
	s.log.Info().Str("host", s.profile.Address()).Str("user", creds.User).Msg("connected")

	return s.List(ctx, constants.RootPath)
}

// Disconnect stops probing, fails running transfers and closes the
// connection. It is a no-op when not connected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	tr := s.tr
	s.tr, s.dirs = nil, nil
	s.mu.Unlock()
	if tr == nil {
		return nil
	}

	s.mon.MarkDisconnected()
	s.transfers.Detach("disconnected")

	cctx, cancel := context.WithTimeout(context.Background(), constants.DisconnectTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- tr.Close() }()
	select {
	case err := <-done:
		if err != nil {
			s.log.Warn().Err(err).Msg("close failed")
		}
		s.log.Info().Str("host", s.profile.Address()).Msg("disconnected")
		return err
	case <-cctx.Done():
		s.log.Warn().Msg("close timed out")
		return ftperr.Wrap(ftperr.TransportFatal, "disconnect", "", cctx.Err())
	}
}

// Close disconnects and releases the session's background work.
func (s *Session) Close() error {
	err := s.Disconnect()
	s.mon.Stop()
	return err
}

// onLost runs when the monitor declares the connection lost.
func (s *Session) onLost(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil || s.mon.Connected() {
		return
	}
	s.teardownLocked(reason)
}

func (s *Session) teardownLocked(reason string) {
	tr := s.tr
	s.tr, s.dirs = nil, nil
	s.transfers.Detach(reason)
	go func() {
		if err := tr.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close after connection loss")
		}
	}()
	s.log.Warn().Str("reason", reason).Msg("connection torn down")
}

// service returns the directory service of the live connection.
func (s *Session) service(op string) (*remote.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirs == nil {
		return nil, ftperr.New(ftperr.NotConnected, op, "no live connection")
	}
	return s.dirs, nil
}

// report runs err through the connection monitor.
func (s *Session) report(err error) error {
	if err == nil {
		return nil
	}
	return s.mon.Report(err)
}

// checkConnection verifies liveness before an operation that would be
// confusing to start against a dead server.
func (s *Session) checkConnection(ctx context.Context, op string) error {
	if err := s.mon.RequireConnected(op); err != nil {
		return err
	}
	return s.mon.Probe(ctx)
}

// CurrentPath returns the remote directory being browsed.
func (s *Session) CurrentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.Current()
}

// Recents returns up to five recently visited directories, newest first.
func (s *Session) Recents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.Recents()
}

// CanBack reports whether Back would move.
func (s *Session) CanBack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.CanBack()
}

// CanForward reports whether Forward would move.
func (s *Session) CanForward() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.CanForward()
}

// Resolve turns p into an absolute remote path relative to the current
// directory.
func (s *Session) Resolve(p string) string {
	if strings.HasPrefix(p, "/") {
		return remote.Clean(p)
	}
	return remote.Join(s.CurrentPath(), p)
}

// List returns the entries of dir and publishes a listing event.
func (s *Session) List(ctx context.Context, dir string) ([]transport.Entry, error) {
	dirs, err := s.service("list")
	if err != nil {
		return nil, err
	}
	dir = remote.Clean(dir)
	entries, err := dirs.List(ctx, dir)
	if err != nil {
		return nil, s.report(err)
	}
	s.bus.PublishListing(dir, len(entries))
	return entries, nil
}

// Refresh lists the current directory.
func (s *Session) Refresh(ctx context.Context) ([]transport.Entry, error) {
	return s.List(ctx, s.CurrentPath())
}

func (s *Session) refreshQuietly(ctx context.Context) {
	if _, err := s.Refresh(ctx); err != nil {
		s.log.Debug().Err(err).Msg("refresh failed")
	}
}

func (s *Session) refreshAfterTransfer() {
	if !s.mon.Connected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.profile.Timeout())
	defer cancel()
	s.refreshQuietly(ctx)
}

// MakeDirectory creates name under the current directory.
func (s *Session) MakeDirectory(ctx context.Context, name string) (string, error) {
	dirs, err := s.service("mkdir")
	if err != nil {
		return "", err
	}
	p := s.Resolve(name)
	if err := dirs.MakeDirectory(ctx, p); err != nil {
		return "", s.report(err)
	}
	s.refreshQuietly(ctx)
	return p, nil
}

// Delete removes p after checking the connection. false with a nil error
// means the server refused.
func (s *Session) Delete(ctx context.Context, p string, isDirectory bool) (bool, error) {
	if err := s.checkConnection(ctx, "delete"); err != nil {
		return false, err
	}
	dirs, err := s.service("delete")
	if err != nil {
		return false, err
	}
	ok, err := dirs.Delete(ctx, s.Resolve(p), isDirectory)
	if err != nil {
		return false, s.report(err)
	}
	if ok {
		s.refreshQuietly(ctx)
	}
	return ok, nil
}

// Rename gives p the name newName within p's own directory and returns the
// new path.
func (s *Session) Rename(ctx context.Context, p, newName string) (string, error) {
	if newName == "" || strings.Contains(newName, "/") || newName == "." || newName == ".." {
		return "", ftperr.Newf(ftperr.RemoteError, "rename", "invalid name %q", newName)
	}
	dirs, err := s.service("rename")
	if err != nil {
		return "", err
	}
	oldPath := s.Resolve(p)
	newPath := remote.Join(remote.Parent(oldPath), newName)
	if err := dirs.Rename(ctx, oldPath, newPath); err != nil {
		return "", s.report(err)
	}
	s.refreshQuietly(ctx)
	return newPath, nil
}

// Navigate lists p and, on success, makes it the current directory.
func (s *Session) Navigate(ctx context.Context, p string) ([]transport.Entry, error) {
	if err := s.checkConnection(ctx, "navigate"); err != nil {
		return nil, err
	}
	target := s.Resolve(p)
	entries, err := s.List(ctx, target)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.hist.Navigate(target)
	s.mu.Unlock()
	return entries, nil
}

// Back moves to the previous directory and lists it. moved is false at the
// start of the history.
func (s *Session) Back(ctx context.Context) (entries []transport.Entry, moved bool, err error) {
	return s.step(ctx, "back", (*history.History).Back, (*history.History).Forward)
}

// Forward moves to the next directory and lists it.
func (s *Session) Forward(ctx context.Context) (entries []transport.Entry, moved bool, err error) {
	return s.step(ctx, "forward", (*history.History).Forward, (*history.History).Back)
}

// step moves through the history and lists the new directory, undoing the
// move when the listing fails.
func (s *Session) step(ctx context.Context, op string, move, undo func(*history.History) (string, bool)) ([]transport.Entry, bool, error) {
	if err := s.mon.RequireConnected(op); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	target, moved := move(s.hist)
	s.mu.Unlock()
	if !moved {
		return nil, false, nil
	}

	entries, err := s.List(ctx, target)
	if err != nil {
		s.mu.Lock()
		undo(s.hist)
		s.mu.Unlock()
		return nil, false, err
	}
	return entries, true, nil
}

// StartUpload uploads localPath into the current directory under its base
// name.
func (s *Session) StartUpload(ctx context.Context, localPath string) (transport.Token, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return transport.Token{}, fmt.Errorf("upload: %w", err)
	}
	if info.IsDir() {
		return transport.Token{}, fmt.Errorf("upload: %s is a directory", localPath)
	}
	if err := s.checkConnection(ctx, "upload"); err != nil {
		return transport.Token{}, err
	}
	remotePath := remote.Join(s.CurrentPath(), filepath.Base(localPath))
	tok, err := s.transfers.Start(ctx, localPath, remotePath, transport.Upload)
	return tok, s.report(err)
}

// StartDownload downloads remotePath into the configured download
// directory under its base name.
func (s *Session) StartDownload(ctx context.Context, remotePath string, policy transfer.CollisionPolicy) (transport.Token, error) {
	remotePath = s.Resolve(remotePath)
	name := remote.Base(remotePath)
	if err := localfs.ValidateFilename(name); err != nil {
		return transport.Token{}, fmt.Errorf("download: %w", err)
	}
	local := filepath.Join(s.profile.Transfer.DownloadDir, name)
	return s.StartDownloadTo(ctx, remotePath, local, policy)
}

// StartDownloadTo downloads remotePath to localPath.
func (s *Session) StartDownloadTo(ctx context.Context, remotePath, localPath string, policy transfer.CollisionPolicy) (transport.Token, error) {
	if err := s.checkConnection(ctx, "download"); err != nil {
		return transport.Token{}, err
	}
	tok, err := s.transfers.StartDownload(ctx, localPath, s.Resolve(remotePath), policy)
	if errors.Is(err, transfer.ErrDownloadCancelled) {
		return tok, err
	}
	return tok, s.report(err)
}

// Pause pauses the running transfer in direction d.
func (s *Session) Pause(d transport.Direction) (transfer.PausedTransfer, error) {
	rec, err := s.transfers.Pause(d)
	return rec, s.report(err)
}

// Resume restarts the paused transfer in direction d from the beginning.
func (s *Session) Resume(ctx context.Context, d transport.Direction) (transport.Token, error) {
	tok, err := s.transfers.Resume(ctx, d)
	return tok, s.report(err)
}

// CancelPaused discards the paused transfer in direction d.
func (s *Session) CancelPaused(d transport.Direction) error {
	return s.transfers.CancelPaused(d)
}

// Transfers returns snapshots of both transfer slots.
func (s *Session) Transfers() transfer.Transfers {
	return s.transfers.Snapshot()
}

// Wait blocks until the transfer in direction d settles or ctx is done.
func (s *Session) Wait(ctx context.Context, d transport.Direction) (transfer.State, error) {
	return s.transfers.Wait(ctx, d)
}

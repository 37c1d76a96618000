package transfer

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/ftphandler/ftp-handler/internal/events"
	"github.com/ftphandler/ftp-handler/internal/ftperr"
	"github.com/ftphandler/ftp-handler/internal/logging"
	"github.com/ftphandler/ftp-handler/internal/transport"
)

// Monitor is the connection monitor as the controller needs it.
type Monitor interface {
	RequireConnected(op string) error
	// Report classifies a transfer failure and returns the error to retain.
	Report(err error) error
}

// Options configures a Controller. FS and Monitor are required.
type Options struct {
	FS      FileSystem
	Monitor Monitor
	Bus     *events.EventBus // may be nil
	Logger  *logging.Logger  // may be nil

	// Refresh runs after every successful transfer, e.g. to re-list the
	// current remote directory.
	Refresh func()

	Now func() time.Time
}

// Controller owns the upload and download slots. At most one transfer per
// direction runs at a time. The transport is attached per connection; paused
// records survive a reconnect.
type Controller struct {
	mu          sync.Mutex
	slots       [2]*slot
	tr          transport.Transport
	unsubscribe func()

	fs      FileSystem
	mon     Monitor
	bus     *events.EventBus
	log     *logging.Logger
	refresh func()
	now     func() time.Time
}

// New returns a Controller with both slots Idle and no transport attached.
func New(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		slots:   [2]*slot{newSlot(transport.Upload), newSlot(transport.Download)},
		fs:      opts.FS,
		mon:     opts.Monitor,
		bus:     opts.Bus,
		log:     log.Component("transfer"),
		refresh: opts.Refresh,
		now:     now,
	}
}

// Attach makes tr the transport for new transfers and subscribes to its
// progress feed. A previously attached transport is detached first.
func (c *Controller) Attach(tr transport.Transport) {
	c.Detach("transport replaced")

	unsubscribe := tr.SubscribeProgress(c.onProgress)
	c.mu.Lock()
	c.tr = tr
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
}

// Detach drops the transport. Running transfers fail with a TransportFatal
// error carrying reason; paused records are kept.
func (c *Controller) Detach(reason string) {
	type failed struct {
		dir transport.Direction
		tok transport.Token
		err error
	}
	var settled []failed

	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.tr, c.unsubscribe = nil, nil
	for _, s := range c.slots {
		if s.status != StatusRunning {
			continue
		}
		err := ftperr.New(ftperr.TransportFatal, s.dir.String(), "connection lost: "+reason)
		settled = append(settled, failed{s.dir, s.token, err})
		s.status = StatusFailed
		s.err = err
		s.token = transport.Token{}
		s.completedAt = c.now()
		s.settle()
	}
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, f := range settled {
		c.log.Warn().Str("direction", f.dir.String()).Str("reason", reason).Msg("transfer aborted by disconnect")
		c.publishTransferEvent(events.EventTransferFailed, f.dir, f.tok, 0, f.err)
	}
}

// Start launches a transfer in direction dir and returns its token without
// waiting for it. Downloads create the local parent directory first.
func (c *Controller) Start(ctx context.Context, localPath, remotePath string, dir transport.Direction) (transport.Token, error) {
	op := dir.String()
	if err := c.ready(op, dir); err != nil {
		return transport.Token{}, err
	}
	if dir == transport.Download {
		if err := c.fs.MkdirAll(filepath.Dir(localPath)); err != nil {
			return transport.Token{}, ftperr.Wrap(ftperr.RemoteError, op, localPath, err)
		}
	}

	tok := transport.Token{Direction: dir, LocalPath: localPath, RemotePath: remotePath}
	c.mu.Lock()
	if err := c.readyLocked(op, dir); err != nil {
		c.mu.Unlock()
		return transport.Token{}, err
	}
	c.launchLocked(ctx, c.slots[dir], tok)
	c.mu.Unlock()

	c.log.Info().Str("token", tok.String()).Msg("transfer started")
	c.publishTransferEvent(events.EventTransferStarted, dir, tok, 0, nil)
	return tok, nil
}

// StartDownload downloads remotePath to localPath, consulting policy when
// localPath already exists. A Cancel choice returns ErrDownloadCancelled.
func (c *Controller) StartDownload(ctx context.Context, localPath, remotePath string, policy CollisionPolicy) (transport.Token, error) {
	if err := c.ready("download", transport.Download); err != nil {
		return transport.Token{}, err
	}

	exists := c.fs.Exists(localPath)
	choice := Cancel
	if exists && policy != nil {
		choice = policy.Choose(localPath)
	}
	res, err := ResolveCollision(exists, choice, localPath, c.now())
	if err != nil {
		c.log.Info().Str("path", localPath).Msg("download cancelled, destination exists")
		return transport.Token{}, err
	}
	if res.RemoveFirst {
		if err := c.fs.Remove(res.Path); err != nil {
			c.log.Warnf("could not remove %s before overwrite: %v", res.Path, err)
		}
	}
	return c.Start(ctx, res.Path, remotePath, transport.Download)
}

// Pause cancels the running transfer in direction dir and keeps a record
// for Resume. The slot is Paused even if the transport reports an error
// while cancelling; that error is returned alongside the record.
func (c *Controller) Pause(dir transport.Direction) (PausedTransfer, error) {
	c.mu.Lock()
	s := c.slots[dir]
	if s.status != StatusRunning {
		st := s.status
		c.mu.Unlock()
		return PausedTransfer{}, ftperr.Newf(ftperr.StateConflict, "pause", "no %s is running (%s)", dir, st)
	}
	tok := s.token
	rec := PausedTransfer{Direction: dir, LocalPath: tok.LocalPath, RemotePath: tok.RemotePath}
	progress := s.progress
	tr := c.tr

	s.status = StatusPaused
	s.paused = &rec
	s.token = transport.Token{}
	cancel := s.cancel
	s.cancel = nil
	s.settle()
	c.mu.Unlock()

	var cancelErr error
	if tr != nil {
		if err := tr.Cancel(tok); err != nil {
			cancelErr = ftperr.Wrap(ftperr.RemoteError, "pause", tok.RemotePath, err)
			c.log.Warn().Err(err).Str("token", tok.String()).Msg("transport cancel failed")
		}
	}
	if cancel != nil {
		cancel()
	}

	c.log.Info().Str("token", tok.String()).Float64("progress", progress).Msg("transfer paused")
	c.publishTransferEvent(events.EventTransferPaused, dir, tok, progress, nil)
	return rec, cancelErr
}

// Resume restarts the paused transfer in direction dir from zero.
func (c *Controller) Resume(ctx context.Context, dir transport.Direction) (transport.Token, error) {
	c.mu.Lock()
	if err := c.requireTransportLocked("resume"); err != nil {
		c.mu.Unlock()
		return transport.Token{}, err
	}
	s := c.slots[dir]
	if s.status != StatusPaused || s.paused == nil {
		st := s.status
		c.mu.Unlock()
		return transport.Token{}, ftperr.Newf(ftperr.StateConflict, "resume", "no paused %s (%s)", dir, st)
	}
	tok := s.paused.Token()
	c.launchLocked(ctx, s, tok)
	c.mu.Unlock()

	c.log.Info().Str("token", tok.String()).Msg("transfer resumed")
	c.publishTransferEvent(events.EventTransferStarted, dir, tok, 0, nil)
	return tok, nil
}

// CancelPaused discards the paused record in direction dir.
func (c *Controller) CancelPaused(dir transport.Direction) error {
	c.mu.Lock()
	s := c.slots[dir]
	if s.status != StatusPaused {
		st := s.status
		c.mu.Unlock()
		return ftperr.Newf(ftperr.StateConflict, "cancel", "no paused %s (%s)", dir, st)
	}
	rec := *s.paused
	s.status = StatusIdle
	s.paused = nil
	s.progress = 0
	s.err = nil
	c.mu.Unlock()

	c.log.Info().Str("direction", dir.String()).Str("local", rec.LocalPath).Msg("paused transfer discarded")
	c.publishTransferEvent(events.EventTransferDiscarded, dir, rec.Token(), 0, nil)
	return nil
}

// Snapshot returns the state of both slots.
func (c *Controller) Snapshot() Transfers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Transfers{
		Upload:   c.slots[transport.Upload].snapshot(),
		Download: c.slots[transport.Download].snapshot(),
	}
}

// State returns the state of one slot.
func (c *Controller) State(dir transport.Direction) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[dir].snapshot()
}

// Wait blocks until the slot in direction dir is no longer Running or ctx
// is done, and returns the slot state.
func (c *Controller) Wait(ctx context.Context, dir transport.Direction) (State, error) {
	c.mu.Lock()
	done := c.slots[dir].done
	c.mu.Unlock()

	select {
	case <-done:
		return c.State(dir), nil
	case <-ctx.Done():
		return c.State(dir), ctx.Err()
	}
}

func (c *Controller) ready(op string, dir transport.Direction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyLocked(op, dir)
}

func (c *Controller) readyLocked(op string, dir transport.Direction) error {
	if err := c.requireTransportLocked(op); err != nil {
		return err
	}
	if s := c.slots[dir]; !s.status.Startable() {
		return ftperr.Newf(ftperr.StateConflict, op, "a %s is already %s", dir, s.status)
	}
	return nil
}

func (c *Controller) requireTransportLocked(op string) error {
	if c.tr == nil {
		return ftperr.New(ftperr.NotConnected, op, "no live connection")
	}
	return c.mon.RequireConnected(op)
}

// launchLocked starts a new attempt on s. The transfer outlives ctx's
// cancellation; it ends by completing, failing, Pause or Detach.
func (c *Controller) launchLocked(ctx context.Context, s *slot, tok transport.Token) {
	s.attempt++
	attempt := s.attempt
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.status = StatusRunning
	s.token = tok
	s.progress = 0
	s.err = nil
	s.paused = nil
	s.cancel = cancel
	s.done = make(chan struct{})
	s.startedAt = c.now()
	s.completedAt = time.Time{}

	go c.run(tctx, c.tr, s.dir, attempt, tok)
}

func (c *Controller) run(ctx context.Context, tr transport.Transport, dir transport.Direction, attempt uint64, tok transport.Token) {
	ok := true
	var err error
	if dir == transport.Upload {
		err = tr.Upload(ctx, tok)
	} else {
		ok, err = tr.Download(ctx, tok)
	}
	c.finish(dir, attempt, tok, ok, err)
}

// finish settles an attempt. Results of superseded attempts are dropped.
func (c *Controller) finish(dir transport.Direction, attempt uint64, tok transport.Token, ok bool, err error) {
	op := dir.String()
	if err == nil && !ok {
		err = ftperr.New(ftperr.RemoteError, op, "server reported failure for "+tok.RemotePath)
	}
	if err == nil && dir == transport.Download && !c.fs.Exists(tok.LocalPath) {
		err = ftperr.New(ftperr.IntegrityError, op, "download finished but "+tok.LocalPath+" does not exist")
	}
	if err != nil && ftperr.KindOf(err) == ftperr.KindUnknown {
		err = ftperr.Wrap(ftperr.RemoteError, op, tok.RemotePath, err)
	}

	c.mu.Lock()
	s := c.slots[dir]
	if s.attempt != attempt || s.status != StatusRunning {
		c.mu.Unlock()
		c.log.Debug().Str("token", tok.String()).Err(err).Msg("ignoring result of superseded transfer")
		return
	}
	s.token = transport.Token{}
	s.completedAt = c.now()
	if err == nil {
		s.status = StatusCompleted
		s.progress = 100
	} else {
		// Hooks triggered by Report run asynchronously, so holding mu is safe.
		err = c.mon.Report(err)
		s.status = StatusFailed
		s.err = err
	}
	s.settle()
	c.mu.Unlock()

	if err != nil {
		c.log.Error().Err(err).Str("token", tok.String()).Msg("transfer failed")
		c.publishTransferEvent(events.EventTransferFailed, dir, tok, 0, err)
		return
	}
	c.log.Info().Str("token", tok.String()).Msg("transfer completed")
	c.publishTransferEvent(events.EventTransferCompleted, dir, tok, 100, nil)
	if c.refresh != nil {
		c.refresh()
	}
}

// onProgress applies a transport progress report to the matching slot.
func (c *Controller) onProgress(p transport.Progress) {
	dir := p.Token.Direction
	if dir != transport.Upload && dir != transport.Download {
		return
	}

	c.mu.Lock()
	s := c.slots[dir]
	if s.status != StatusRunning || s.token != p.Token || p.Percent <= s.progress {
		c.mu.Unlock()
		return
	}
	pct := p.Percent
	if pct > 100 {
		pct = 100
	}
	s.progress = pct
	c.mu.Unlock()

	c.publishTransferEvent(events.EventTransferProgress, dir, p.Token, pct, nil)
}

// publishTransferEvent publishes a transfer event to the event bus.
func (c *Controller) publishTransferEvent(eventType events.EventType, dir transport.Direction, tok transport.Token, progress float64, err error) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(&events.TransferEvent{
		BaseEvent: events.BaseEvent{
			EventType: eventType,
			Time:      c.now(),
		},
		Direction:  dir.String(),
		Token:      tok.String(),
		LocalPath:  tok.LocalPath,
		RemotePath: tok.RemotePath,
		Progress:   progress,
		Error:      err,
	})
}

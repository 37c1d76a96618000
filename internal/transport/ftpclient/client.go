// Package ftpclient implements transport.Transport on top of
// github.com/gonzalop/ftp.
//
// A Client keeps one control connection for directory operations and opens a
// separate worker connection for every transfer, so an upload, a download and
// a liveness probe can run at the same time. Cancelling a transfer cancels its
// context and quits its worker connection, which closes the data channel.
package ftpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gonzalop/ftp"

	"github.com/ftphandler/ftp-handler/internal/constants"
	"github.com/ftphandler/ftp-handler/internal/ftperr"
	"github.com/ftphandler/ftp-handler/internal/logging"
	"github.com/ftphandler/ftp-handler/internal/transport"
)

// TLS modes accepted by Options.TLS.
const (
	TLSNone     = "none"
	TLSExplicit = "explicit"
	TLSImplicit = "implicit"
)

// Options configure how connections are opened.
type Options struct {
	Timeout       time.Duration
	TLS           string
	TLSSkipVerify bool
	Logger        *logging.Logger
}

// Dialer opens authenticated Clients. It implements transport.Dialer.
type Dialer struct {
	opts Options
	log  *logging.Logger
}

// NewDialer returns a Dialer using opts. A zero Timeout means the default.
func NewDialer(opts Options) *Dialer {
	if opts.Timeout <= 0 {
		opts.Timeout = constants.DefaultTimeout
	}
	if opts.TLS == "" {
		opts.TLS = TLSNone
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return &Dialer{opts: opts, log: log.Component("ftpclient")}
}

// Dial connects and logs in. The returned value is a *Client.
func (d *Dialer) Dial(ctx context.Context, creds transport.Credentials) (transport.Transport, error) {
	ctrl, err := d.connect(ctx, creds)
	if err != nil {
		return nil, err
	}
	d.log.Info().Str("host", creds.Host).Int("port", creds.Port).Str("tls", d.opts.TLS).Msg("control connection established")
	return &Client{
		dialer: d,
		creds:  creds,
		log:    d.log,
		ctrl:   ctrl,
		active: make(map[transport.Token]*worker),
		subs:   make(map[int]func(transport.Progress)),
	}, nil
}

func (d *Dialer) options(host string) ([]ftp.Option, error) {
	opts := []ftp.Option{
		ftp.WithTimeout(d.opts.Timeout),
		ftp.WithDialer(&net.Dialer{Timeout: d.opts.Timeout}),
	}
	tlsConfig := &tls.Config{ServerName: host, InsecureSkipVerify: d.opts.TLSSkipVerify}
	switch d.opts.TLS {
	case TLSNone:
	case TLSExplicit:
		opts = append(opts, ftp.WithExplicitTLS(tlsConfig))
	case TLSImplicit:
		opts = append(opts, ftp.WithImplicitTLS(tlsConfig))
	default:
		return nil, fmt.Errorf("unsupported tls mode %q", d.opts.TLS)
	}
	return opts, nil
}

// connect dials and logs in. ftp.Dial does not take a context, so the dial
// runs in its own goroutine and a late connection is quit once it arrives.
func (d *Dialer) connect(ctx context.Context, creds transport.Credentials) (*ftp.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts, err := d.options(creds.Host)
	if err != nil {
		return nil, err
	}
	port := creds.Port
	if port == 0 {
		port = constants.DefaultPort
	}
	addr := net.JoinHostPort(creds.Host, strconv.Itoa(port))
	user := creds.User
	if user == "" {
		user = "anonymous"
	}

	type result struct {
		c   *ftp.Client
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := ftp.Dial(addr, opts...)
		if err != nil {
			done <- result{err: fmt.Errorf("dial %s: %w", addr, err)}
			return
		}
		if err := c.Login(user, creds.Password); err != nil {
			_ = c.Quit()
			done <- result{err: ftperr.Wrap(ftperr.AuthError, "login", user, err)}
			return
		}
		done <- result{c: c}
	}()

	select {
	case r := <-done:
		return r.c, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.c != nil {
				_ = r.c.Quit()
			}
		}()
		return nil, ctx.Err()
	}
}

// Client is a live FTP session.
type Client struct {
	dialer *Dialer
	creds  transport.Credentials
	log    *logging.Logger

	// mu serializes commands on the control connection
	mu   sync.Mutex
	ctrl *ftp.Client

	tmu    sync.Mutex
	active map[transport.Token]*worker

	smu     sync.RWMutex
	subs    map[int]func(transport.Progress)
	nextSub int

	closed atomic.Bool
}

var _ transport.Transport = (*Client)(nil)

// worker is the connection carrying one transfer.
type worker struct {
	conn     *ftp.Client
	cancel   context.CancelFunc
	quitOnce sync.Once
}

func (w *worker) quit() {
	w.quitOnce.Do(func() { _ = w.conn.Quit() })
}

var errClosed = errors.New("ftp client closed")

func (c *Client) control(ctx context.Context, fn func(*ftp.Client) error) error {
	if c.closed.Load() {
		return errClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c.ctrl)
}

// List returns the entries of dir, without "." and "..".
func (c *Client) List(ctx context.Context, dir string) ([]transport.Entry, error) {
	var raw []*ftp.Entry
	err := c.control(ctx, func(fc *ftp.Client) error {
		var err error
		raw, err = fc.List(dir)
		return err
	})
	if err != nil {
		return nil, wrapErr("list", dir, err)
	}

	entries := make([]transport.Entry, 0, len(raw))
	for _, e := range raw {
		if e == nil || e.Name == "." || e.Name == ".." || e.Name == "" {
			continue
		}
		entries = append(entries, convertEntry(e))
	}
	return entries, nil
}

func convertEntry(e *ftp.Entry) transport.Entry {
	if e.Type == "dir" {
		return transport.Entry{Name: e.Name, Kind: transport.Directory}
	}
	var size uint64
	if e.Size > 0 {
		size = uint64(e.Size)
	}
	return transport.Entry{Name: e.Name, Kind: transport.File, Size: size}
}

func (c *Client) MakeDir(ctx context.Context, dir string) error {
	return wrapErr("mkdir", dir, c.control(ctx, func(fc *ftp.Client) error {
		return fc.MakeDir(dir)
	}))
}

func (c *Client) DeleteFile(ctx context.Context, path string) (bool, error) {
	return deleted("delete", path, c.control(ctx, func(fc *ftp.Client) error {
		return fc.Delete(path)
	}))
}

func (c *Client) DeleteDir(ctx context.Context, path string) (bool, error) {
	return deleted("rmdir", path, c.control(ctx, func(fc *ftp.Client) error {
		return fc.RemoveDir(path)
	}))
}

// deleted maps a permanent server refusal to (false, nil).
func deleted(op, path string, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	var pe *ftp.ProtocolError
	if errors.As(err, &pe) && pe.Is5xx() {
		return false, nil
	}
	return false, wrapErr(op, path, err)
}

func (c *Client) Rename(ctx context.Context, from, to string) error {
	return wrapErr("rename", from, c.control(ctx, func(fc *ftp.Client) error {
		return fc.Rename(from, to)
	}))
}

// Upload sends tok.LocalPath to tok.RemotePath over a worker connection.
func (c *Client) Upload(ctx context.Context, tok transport.Token) error {
	f, err := os.Open(tok.LocalPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", tok.LocalPath, err)
	}
	defer f.Close()

	var total int64
	if info, err := f.Stat(); err == nil {
		total = info.Size()
	}

	w, tctx, err := c.startWorker(ctx, tok)
	if err != nil {
		return err
	}
	defer c.finishWorker(tok, w)

	r := &ftp.ProgressReader{
		Reader:   ctxReader{ctx: tctx, r: f},
		Callback: c.reporter(tok, total),
	}
	err = w.conn.Store(tok.RemotePath, r)
	if cerr := tctx.Err(); cerr != nil {
		return cerr
	}
	if err != nil {
		return wrapErr("upload", tok.RemotePath, err)
	}
	c.publish(transport.Progress{Token: tok, Percent: 100})
	return nil
}

// Download fetches tok.RemotePath into tok.LocalPath over a worker
// connection. A partially written file is removed on failure.
func (c *Client) Download(ctx context.Context, tok transport.Token) (ok bool, err error) {
	w, tctx, err := c.startWorker(ctx, tok)
	if err != nil {
		return false, err
	}
	defer c.finishWorker(tok, w)

	total, serr := w.conn.Size(tok.RemotePath)
	if serr != nil {
		c.log.Debug().Err(serr).Str("path", tok.RemotePath).Msg("size unknown, progress disabled")
		total = 0
	}

	f, err := os.Create(tok.LocalPath)
	if err != nil {
		return false, fmt.Errorf("create %s: %w", tok.LocalPath, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			ok, err = false, fmt.Errorf("close %s: %w", tok.LocalPath, cerr)
		}
		if !ok {
			_ = os.Remove(tok.LocalPath)
		}
	}()

	wr := &ftp.ProgressWriter{
		Writer:   ctxWriter{ctx: tctx, w: f},
		Callback: c.reporter(tok, total),
	}
	rerr := w.conn.Retrieve(tok.RemotePath, wr)
	if cerr := tctx.Err(); cerr != nil {
		return false, cerr
	}
	if rerr != nil {
		return false, wrapErr("download", tok.RemotePath, rerr)
	}
	c.publish(transport.Progress{Token: tok, Percent: 100})
	return true, nil
}

func (c *Client) startWorker(ctx context.Context, tok transport.Token) (*worker, context.Context, error) {
	if c.closed.Load() {
		return nil, nil, errClosed
	}
	tctx, cancel := context.WithCancel(ctx)
	conn, err := c.dialer.connect(tctx, c.creds)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("open transfer connection: %w", err)
	}
	w := &worker{conn: conn, cancel: cancel}

	c.tmu.Lock()
	defer c.tmu.Unlock()
	if _, busy := c.active[tok]; busy {
		cancel()
		w.quit()
		return nil, nil, fmt.Errorf("transfer %s already running", tok)
	}
	c.active[tok] = w
	return w, tctx, nil
}

func (c *Client) finishWorker(tok transport.Token, w *worker) {
	c.tmu.Lock()
	if c.active[tok] == w {
		delete(c.active, tok)
	}
	c.tmu.Unlock()
	w.cancel()
	w.quit()
}

// Cancel aborts the transfer for tok by closing its worker connection.
func (c *Client) Cancel(tok transport.Token) error {
	c.tmu.Lock()
	w := c.active[tok]
	c.tmu.Unlock()
	if w == nil {
		return nil
	}
	c.log.Debug().Str("token", tok.String()).Msg("cancelling transfer")
	w.cancel()
	w.quit()
	return nil
}

// SubscribeProgress registers fn for progress updates.
func (c *Client) SubscribeProgress(fn func(transport.Progress)) func() {
	c.smu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.smu.Unlock()

	return func() {
		c.smu.Lock()
		delete(c.subs, id)
		c.smu.Unlock()
	}
}

func (c *Client) publish(p transport.Progress) {
	c.smu.RLock()
	fns := make([]func(transport.Progress), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.smu.RUnlock()

	for _, fn := range fns {
		fn(p)
	}
}

// reporter converts byte counts into percent updates, emitting only when the
// percentage advanced by at least ProgressStepPercent. Unknown sizes report
// nothing until completion.
func (c *Client) reporter(tok transport.Token, total int64) func(int64) {
	if total <= 0 {
		return nil
	}
	last := -1.0
	return func(n int64) {
		pct := float64(n) * 100 / float64(total)
		if pct > 100 {
			pct = 100
		}
		if last >= 0 && pct-last < constants.ProgressStepPercent {
			return
		}
		last = pct
		c.publish(transport.Progress{Token: tok, Percent: pct})
	}
}

// Close cancels every transfer and quits the control connection.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.tmu.Lock()
	workers := make([]*worker, 0, len(c.active))
	for _, w := range c.active {
		workers = append(workers, w)
	}
	c.tmu.Unlock()
	for _, w := range workers {
		w.cancel()
		w.quit()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ctrl.Quit(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("quit: %w", err)
	}
	return nil
}

// wrapErr attaches a kind to server replies. A 421 reply means the server is
// closing the control connection. Other failures keep their cause so the
// connection monitor can classify them.
func wrapErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ftp.ProtocolError
	if errors.As(err, &pe) {
		if pe.Code == 421 {
			return ftperr.Wrap(ftperr.TransportFatal, op, path, err)
		}
		return ftperr.Rejected(op, path, err)
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

type ctxWriter struct {
	ctx context.Context
	w   io.Writer
}

func (w ctxWriter) Write(p []byte) (int, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}

// Package transporttest provides an in-memory transport.Transport with
// explicit control over transfer completion, progress and failures, plus a
// helper that starts a real FTP server for integration tests.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ftphandler/ftp-handler/internal/transport"
)

// ErrNoSuchPath is returned for operations on missing remote paths.
var ErrNoSuchPath = errors.New("550 no such file or directory")

// Transport is an in-memory remote tree.
type Transport struct {
	mu    sync.Mutex
	dirs  map[string]bool
	files map[string][]byte

	failNext map[string]error
	dead     error
	closed   bool

	gated   bool
	pending map[transport.Token]chan error
	started chan transport.Token

	downloadResult bool
	skipWrite      bool
	refuseDeletes  bool
	cancelErr      error
	ignoreCancel   bool
	cancels        []transport.Token
	calls          []string
	listDelay      time.Duration
	subs           map[int]func(transport.Progress)
	nextSub        int
}

var _ transport.Transport = (*Transport)(nil)

// New returns an empty tree containing only the root directory.
func New() *Transport {
	return &Transport{
		dirs:           map[string]bool{"/": true},
		files:          make(map[string][]byte),
		failNext:       make(map[string]error),
		pending:        make(map[transport.Token]chan error),
		started:        make(chan transport.Token, 16),
		downloadResult: true,
		subs:           make(map[int]func(transport.Progress)),
	}
}

// AddDir creates dir and its parents.
func (t *Transport) AddDir(dir string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for d := path.Clean(dir); ; d = path.Dir(d) {
		t.dirs[d] = true
		if d == "/" || d == "." {
			return
		}
	}
}

// AddFile stores data at p, creating parent directories.
func (t *Transport) AddFile(p string, data []byte) {
	t.AddDir(path.Dir(p))
	t.mu.Lock()
	t.files[path.Clean(p)] = data
	t.mu.Unlock()
}

// File returns the content stored at p.
func (t *Transport) File(p string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, ok := t.files[path.Clean(p)]
	return data, ok
}

// HasDir reports whether dir exists.
func (t *Transport) HasDir(dir string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirs[path.Clean(dir)]
}

// FailNext makes the next call of op return err. Ops are the method names in
// lower case: list, mkdir, deletefile, deletedir, rename, upload, download.
func (t *Transport) FailNext(op string, err error) {
	t.mu.Lock()
	t.failNext[op] = err
	t.mu.Unlock()
}

// Kill simulates a dropped control connection: every later call fails with
// err wrapping io.EOF and in-flight transfers fail the same way.
func (t *Transport) Kill() {
	t.mu.Lock()
	t.dead = fmt.Errorf("connection reset: %w", io.EOF)
	for tok, ch := range t.pending {
		select {
		case ch <- t.dead:
		default:
		}
		delete(t.pending, tok)
	}
	t.mu.Unlock()
}

// Revive undoes Kill and Close, as a reconnect would.
func (t *Transport) Revive() {
	t.mu.Lock()
	t.dead = nil
	t.closed = false
	t.mu.Unlock()
}

// GateTransfers makes Upload and Download block until Release or Cancel.
func (t *Transport) GateTransfers(on bool) {
	t.mu.Lock()
	t.gated = on
	t.mu.Unlock()
}

// SetDownloadResult sets the boolean a successful Download reports.
func (t *Transport) SetDownloadResult(ok bool) {
	t.mu.Lock()
	t.downloadResult = ok
	t.mu.Unlock()
}

// SkipDownloadWrite makes Download report success without writing the file.
func (t *Transport) SkipDownloadWrite(skip bool) {
	t.mu.Lock()
	t.skipWrite = skip
	t.mu.Unlock()
}

// RefuseDeletes makes DeleteFile and DeleteDir report false.
func (t *Transport) RefuseDeletes(refuse bool) {
	t.mu.Lock()
	t.refuseDeletes = refuse
	t.mu.Unlock()
}

// SetCancelError makes Cancel return err after cancelling.
func (t *Transport) SetCancelError(err error) {
	t.mu.Lock()
	t.cancelErr = err
	t.mu.Unlock()
}

// IgnoreCancel makes gated transfers deaf to Cancel and to their context, as
// a server that finishes a transfer before the abort lands. Only Release ends
// them.
func (t *Transport) IgnoreCancel(on bool) {
	t.mu.Lock()
	t.ignoreCancel = on
	t.mu.Unlock()
}

// SetListDelay delays every List call.
func (t *Transport) SetListDelay(d time.Duration) {
	t.mu.Lock()
	t.listDelay = d
	t.mu.Unlock()
}

// WaitStarted blocks until a gated transfer for tok is in flight.
func (t *Transport) WaitStarted(tok transport.Token, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case got := <-t.started:
			if got == tok {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// Release completes the gated transfer for tok with err.
func (t *Transport) Release(tok transport.Token, err error) bool {
	t.mu.Lock()
	ch, ok := t.pending[tok]
	delete(t.pending, tok)
	t.mu.Unlock()
	if ok {
		ch <- err
	}
	return ok
}

// Emit publishes a progress update for tok to every subscriber.
func (t *Transport) Emit(tok transport.Token, percent float64) {
	t.mu.Lock()
	fns := make([]func(transport.Progress), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(transport.Progress{Token: tok, Percent: percent})
	}
}

// Cancels returns the tokens passed to Cancel.
func (t *Transport) Cancels() []transport.Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transport.Token(nil), t.cancels...)
}

// Calls returns the recorded operations as "op path" strings.
func (t *Transport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

// Subscribers returns the number of live progress subscriptions.
func (t *Transport) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// begin records a call and returns the error it must fail with, if any.
// Callers hold t.mu.
func (t *Transport) begin(op, p string) error {
	t.calls = append(t.calls, op+" "+p)
	if t.dead != nil {
		return t.dead
	}
	if t.closed {
		return fmt.Errorf("%s: use of closed connection", op)
	}
	if err, ok := t.failNext[op]; ok {
		delete(t.failNext, op)
		return err
	}
	return nil
}

func (t *Transport) List(ctx context.Context, dir string) ([]transport.Entry, error) {
	t.mu.Lock()
	delay := t.listDelay
	t.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("list", dir); err != nil {
		return nil, err
	}
	dir = path.Clean(dir)
	if !t.dirs[dir] {
		return nil, fmt.Errorf("list %s: %w", dir, ErrNoSuchPath)
	}

	var entries []transport.Entry
	for d := range t.dirs {
		if d != dir && path.Dir(d) == dir {
			entries = append(entries, transport.Entry{Name: path.Base(d), Kind: transport.Directory})
		}
	}
	for f, data := range t.files {
		if path.Dir(f) == dir {
			entries = append(entries, transport.Entry{Name: path.Base(f), Kind: transport.File, Size: uint64(len(data))})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (t *Transport) MakeDir(ctx context.Context, dir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("mkdir", dir); err != nil {
		return err
	}
	dir = path.Clean(dir)
	if t.dirs[dir] || t.files[dir] != nil {
		return fmt.Errorf("mkdir %s: 550 already exists", dir)
	}
	if !t.dirs[path.Dir(dir)] {
		return fmt.Errorf("mkdir %s: %w", dir, ErrNoSuchPath)
	}
	t.dirs[dir] = true
	return nil
}

func (t *Transport) DeleteFile(ctx context.Context, p string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("deletefile", p); err != nil {
		return false, err
	}
	p = path.Clean(p)
	if _, ok := t.files[p]; !ok || t.refuseDeletes {
		return false, nil
	}
	delete(t.files, p)
	return true, nil
}

func (t *Transport) DeleteDir(ctx context.Context, p string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("deletedir", p); err != nil {
		return false, err
	}
	p = path.Clean(p)
	if !t.dirs[p] || p == "/" || t.refuseDeletes {
		return false, nil
	}
	prefix := p + "/"
	for d := range t.dirs {
		if strings.HasPrefix(d, prefix) {
			return false, nil
		}
	}
	for f := range t.files {
		if strings.HasPrefix(f, prefix) {
			return false, nil
		}
	}
	delete(t.dirs, p)
	return true, nil
}

func (t *Transport) Rename(ctx context.Context, from, to string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin("rename", from+" -> "+to); err != nil {
		return err
	}
	from, to = path.Clean(from), path.Clean(to)
	if data, ok := t.files[from]; ok {
		delete(t.files, from)
		t.files[to] = data
		return nil
	}
	if t.dirs[from] {
		prefix := from + "/"
		for d := range t.dirs {
			if d == from || strings.HasPrefix(d, prefix) {
				delete(t.dirs, d)
				t.dirs[to+strings.TrimPrefix(d, from)] = true
			}
		}
		for f, data := range t.files {
			if strings.HasPrefix(f, prefix) {
				delete(t.files, f)
				t.files[to+strings.TrimPrefix(f, from)] = data
			}
		}
		return nil
	}
	return fmt.Errorf("rename %s: %w", from, ErrNoSuchPath)
}

// wait blocks a gated transfer until it is released or cancelled. Callers
// must not hold t.mu.
func (t *Transport) wait(ctx context.Context, tok transport.Token) error {
	t.mu.Lock()
	if !t.gated {
		t.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	t.pending[tok] = ch
	deaf := t.ignoreCancel
	t.mu.Unlock()

	select {
	case t.started <- tok:
	default:
	}
	if deaf {
		return <-ch
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		t.mu.Lock()
		if t.pending[tok] == ch {
			delete(t.pending, tok)
		}
		t.mu.Unlock()
		return ctx.Err()
	}
}

func (t *Transport) Upload(ctx context.Context, tok transport.Token) error {
	t.mu.Lock()
	err := t.begin("upload", tok.String())
	t.mu.Unlock()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(tok.LocalPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", tok.LocalPath, err)
	}
	if err := t.wait(ctx, tok); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirs[path.Dir(path.Clean(tok.RemotePath))] {
		return fmt.Errorf("upload %s: %w", tok.RemotePath, ErrNoSuchPath)
	}
	t.files[path.Clean(tok.RemotePath)] = data
	return nil
}

func (t *Transport) Download(ctx context.Context, tok transport.Token) (bool, error) {
	t.mu.Lock()
	err := t.begin("download", tok.String())
	data, exists := t.files[path.Clean(tok.RemotePath)]
	t.mu.Unlock()
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	if err := t.wait(ctx, tok); err != nil {
		return false, err
	}

	t.mu.Lock()
	ok, skip := t.downloadResult, t.skipWrite
	t.mu.Unlock()
	if ok && !skip {
		if err := os.WriteFile(tok.LocalPath, data, 0644); err != nil {
			return false, err
		}
	}
	return ok, nil
}

// Cancel aborts a gated transfer, which then returns context.Canceled, unless
// IgnoreCancel is on.
func (t *Transport) Cancel(tok transport.Token) error {
	t.mu.Lock()
	t.cancels = append(t.cancels, tok)
	err := t.cancelErr
	if t.ignoreCancel {
		t.mu.Unlock()
		return err
	}
	ch, ok := t.pending[tok]
	delete(t.pending, tok)
	t.mu.Unlock()
	if ok {
		ch <- context.Canceled
	}
	return err
}

func (t *Transport) SubscribeProgress(fn func(transport.Progress)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.calls = append(t.calls, "close")
	t.mu.Unlock()
	return nil
}

// Dialer hands out a single Transport. It implements transport.Dialer.
type Dialer struct {
	Transport *Transport
	Err       error // returned by Dial when set

	mu    sync.Mutex
	dials []transport.Credentials
}

// NewDialer returns a Dialer for t.
func NewDialer(t *Transport) *Dialer {
	return &Dialer{Transport: t}
}

func (d *Dialer) Dial(ctx context.Context, creds transport.Credentials) (transport.Transport, error) {
	d.mu.Lock()
	d.dials = append(d.dials, creds)
	err := d.Err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.Transport.Revive()
	return d.Transport, nil
}

// Dials returns the credentials of every Dial call.
func (d *Dialer) Dials() []transport.Credentials {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]transport.Credentials(nil), d.dials...)
}

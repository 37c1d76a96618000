package session

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ftphandler/ftp-handler/internal/config"
	"github.com/ftphandler/ftp-handler/internal/events"
	"github.com/ftphandler/ftp-handler/internal/ftperr"
	"github.com/ftphandler/ftp-handler/internal/transfer"
	"github.com/ftphandler/ftp-handler/internal/transport"
	"github.com/ftphandler/ftp-handler/internal/transport/ftpclient"
	"github.com/ftphandler/ftp-handler/internal/transport/transporttest"
)

const waitLimit = 10 * time.Second

func testProfile(t *testing.T) *config.Profile {
	t.Helper()
	p := config.NewProfile()
	p.Server.Host = "ftp.test"
	p.Transfer.DownloadDir = filepath.Join(t.TempDir(), "downloads")
	return p
}

func newFakeSession(t *testing.T) (*Session, *transporttest.Transport, *events.EventBus) {
	t.Helper()
	tr := transporttest.New()
	bus := events.NewEventBus(256)
	s, err := New(Options{
		Profile: testProfile(t),
		Dialer:  transporttest.NewDialer(tr),
		Bus:     bus,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		s.Close()
		bus.Close()
	})
	return s, tr, bus
}

func connect(t *testing.T, s *Session) {
	t.Helper()
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func waitSettled(t *testing.T, s *Session, d transport.Direction) transfer.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitLimit)
	defer cancel()
	st, err := s.Wait(ctx, d)
	if err != nil {
		t.Fatalf("Wait(%s): %v", d, err)
	}
	return st
}

func writeLocal(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSession_AgainstFTPServer(t *testing.T) {
	root := t.TempDir()
	creds := transporttest.StartServer(t, root)

	profile := testProfile(t)
	profile.Server.Host = creds.Host
	profile.Server.Port = creds.Port
	profile.Server.User = creds.User
	profile.Server.Password = creds.Password

	s, err := New(Options{
		Profile: profile,
		Dialer:  ftpclient.NewDialer(ftpclient.Options{Timeout: 5 * time.Second}),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !s.Connected() {
		t.Fatal("not connected after Connect")
	}

	created, err := s.MakeDirectory(ctx, "backup")
	if err != nil {
		t.Fatalf("MakeDirectory: %v", err)
	}
	if created != "/backup" {
		t.Errorf("created %q, want /backup", created)
	}
	entries, err := s.List(ctx, "/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := transport.Entry{Name: "backup", Kind: transport.Directory, Size: 0}
	if !slices.Contains(entries, want) {
		t.Fatalf("listing %v does not contain %v", entries, want)
	}

	if _, err := s.Navigate(ctx, "backup"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	payload := bytes.Repeat([]byte("0123456789"), 4096)
	local := writeLocal(t, t.TempDir(), "data.bin", string(payload))
	tok, err := s.StartUpload(ctx, local)
	if err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	if tok.RemotePath != "/backup/data.bin" {
		t.Errorf("upload target = %s", tok.RemotePath)
	}
	if st := waitSettled(t, s, transport.Upload); st.Status != transfer.StatusCompleted {
		t.Fatalf("upload = %s (%v)", st.Status, st.Err)
	}
	if got, err := os.ReadFile(filepath.Join(root, "backup", "data.bin")); err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("server copy differs (%d bytes, %v)", len(got), err)
	}

	if _, err := s.StartDownload(ctx, "data.bin", transfer.FixedPolicy(transfer.Cancel)); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if st := waitSettled(t, s, transport.Download); st.Status != transfer.StatusCompleted {
		t.Fatalf("download = %s (%v)", st.Status, st.Err)
	}
	if got, err := os.ReadFile(filepath.Join(profile.Transfer.DownloadDir, "data.bin")); err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("downloaded copy differs (%d bytes, %v)", len(got), err)
	}

	if err := s.Disconnect(); err != nil {
		t.Errorf("Disconnect: %v", err)
	}
	if _, err := s.List(ctx, "/"); ftperr.KindOf(err) != ftperr.NotConnected {
		t.Errorf("List after disconnect = %v, want NotConnected", err)
	}
}

func TestSession_RequiresConnection(t *testing.T) {
	s, tr, _ := newFakeSession(t)
	ctx := context.Background()
	local := writeLocal(t, t.TempDir(), "a.txt", "a")

	checks := map[string]error{}
	_, checks["list"] = s.List(ctx, "/")
	_, checks["mkdir"] = s.MakeDirectory(ctx, "x")
	_, checks["delete"] = s.Delete(ctx, "/x", false)
	_, checks["rename"] = s.Rename(ctx, "/x", "y")
	_, checks["navigate"] = s.Navigate(ctx, "/x")
	_, _, checks["back"] = s.Back(ctx)
	_, checks["upload"] = s.StartUpload(ctx, local)
	_, checks["download"] = s.StartDownload(ctx, "/x", nil)

	for op, err := range checks {
		if ftperr.KindOf(err) != ftperr.NotConnected {
			t.Errorf("%s: err = %v, want NotConnected", op, err)
		}
	}
	if calls := tr.Calls(); len(calls) != 0 {
		t.Errorf("transport used while disconnected: %v", calls)
	}
}

func TestSession_Connect(t *testing.T) {
	t.Run("lists root", func(t *testing.T) {
		s, tr, bus := newFakeSession(t)
		listings := bus.Subscribe(events.EventListing)
		tr.AddDir("/pub")

		entries, err := s.Connect(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 || entries[0].Name != "pub" {
			t.Errorf("root entries = %v", entries)
		}
		select {
		case ev := <-listings:
			if le := ev.(*events.ListingEvent); le.Path != "/" || le.Entries != 1 {
				t.Errorf("listing event = %+v", le)
			}
		case <-time.After(waitLimit):
			t.Error("no listing event")
		}
	})

	t.Run("twice", func(t *testing.T) {
		s, _, _ := newFakeSession(t)
		connect(t, s)
		if _, err := s.Connect(context.Background()); ftperr.KindOf(err) != ftperr.StateConflict {
			t.Errorf("second Connect = %v, want StateConflict", err)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		tr := transporttest.New()
		d := transporttest.NewDialer(tr)
		d.Err = ftperr.New(ftperr.AuthError, "login", "530 login incorrect")
		s, err := New(Options{Profile: testProfile(t), Dialer: d})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.Connect(context.Background()); ftperr.KindOf(err) != ftperr.AuthError {
			t.Errorf("Connect = %v, want AuthError", err)
		}
		if s.Connected() {
			t.Error("connected after rejected login")
		}
	})

	t.Run("network failure", func(t *testing.T) {
		refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
		d := transporttest.NewDialer(transporttest.New())
		d.Err = refused
		s, err := New(Options{Profile: testProfile(t), Dialer: d})
		if err != nil {
			t.Fatal(err)
		}
		_, err = s.Connect(context.Background())
		if ftperr.KindOf(err) != ftperr.AuthError {
			t.Errorf("Connect = %v, want AuthError", err)
		}
		if ftperr.IsKind(err, ftperr.TransportFatal) {
			t.Errorf("Connect = %v, a failed dial is not connection loss", err)
		}
		var opErr *net.OpError
		if !errors.As(err, &opErr) {
			t.Errorf("network cause lost: %v", err)
		}
		if s.Connected() {
			t.Error("connected after failed dial")
		}
	})

	t.Run("invalid profile", func(t *testing.T) {
		p := testProfile(t)
		p.Server.Host = ""
		if _, err := New(Options{Profile: p, Dialer: transporttest.NewDialer(transporttest.New())}); err == nil {
			t.Error("New accepted a profile without host")
		}
	})
}

func TestSession_Navigation(t *testing.T) {
	s, tr, _ := newFakeSession(t)
	tr.AddDir("/docs/sub")
	connect(t, s)
	ctx := context.Background()

	if _, err := s.Navigate(ctx, "docs"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Navigate(ctx, "sub"); err != nil {
		t.Fatal(err)
	}
	if got := s.CurrentPath(); got != "/docs/sub" {
		t.Fatalf("CurrentPath = %q", got)
	}

	if _, moved, err := s.Back(ctx); err != nil || !moved || s.CurrentPath() != "/docs" {
		t.Errorf("Back = moved %v, %v, at %q", moved, err, s.CurrentPath())
	}
	if _, moved, err := s.Forward(ctx); err != nil || !moved || s.CurrentPath() != "/docs/sub" {
		t.Errorf("Forward = moved %v, %v, at %q", moved, err, s.CurrentPath())
	}
	if _, moved, _ := s.Forward(ctx); moved {
		t.Error("Forward moved past the end")
	}
	if got, want := s.Recents(), []string{"/docs/sub", "/docs"}; !slices.Equal(got, want) {
		t.Errorf("Recents = %v, want %v", got, want)
	}

	if _, err := s.Navigate(ctx, "/missing"); ftperr.KindOf(err) != ftperr.RemoteError {
		t.Errorf("Navigate(missing) = %v, want RemoteError", err)
	}
	if got := s.CurrentPath(); got != "/docs/sub" {
		t.Errorf("failed navigation moved to %q", got)
	}

	// A failed listing undoes the step.
	tr.FailNext("list", ftperr.New(ftperr.RemoteError, "list", "550 gone"))
	if _, moved, err := s.Back(ctx); err == nil || moved {
		t.Errorf("Back over a failing listing = moved %v, %v", moved, err)
	}
	if got := s.CurrentPath(); got != "/docs/sub" {
		t.Errorf("after failed Back at %q", got)
	}
}

func TestSession_DirectoryOperations(t *testing.T) {
	s, tr, _ := newFakeSession(t)
	tr.AddFile("/docs/a.txt", []byte("a"))
	connect(t, s)
	ctx := context.Background()

	newPath, err := s.Rename(ctx, "/docs/a.txt", "b.txt")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if newPath != "/docs/b.txt" {
		t.Errorf("renamed to %q", newPath)
	}
	if _, ok := tr.File("/docs/b.txt"); !ok {
		t.Error("rename did not reach the transport")
	}
	if _, err := s.Rename(ctx, "/docs/b.txt", "../c.txt"); err == nil {
		t.Error("Rename accepted a name with a separator")
	}

	ok, err := s.Delete(ctx, "/docs/b.txt", false)
	if err != nil || !ok {
		t.Errorf("Delete = %v, %v", ok, err)
	}

	tr.AddFile("/docs/keep.txt", nil)
	tr.RefuseDeletes(true)
	ok, err = s.Delete(ctx, "/docs/keep.txt", false)
	if err != nil || ok {
		t.Errorf("refused Delete = %v, %v, want false without error", ok, err)
	}
	if !s.Connected() {
		t.Error("a refused delete disconnected the session")
	}
}

func TestSession_RejectionKeepsConnection(t *testing.T) {
	for _, name := range []string{"closed-projects", "geoffrey", "connection-logs"} {
		t.Run(name, func(t *testing.T) {
			s, tr, bus := newFakeSession(t)
			lost := bus.Subscribe(events.EventConnectionLost)
			connect(t, s)

			tr.FailNext("mkdir", errors.New("ftp: MKD /"+name+" failed: 550 Directory already exists (code 550)"))
			if _, err := s.MakeDirectory(context.Background(), name); !ftperr.IsKind(err, ftperr.RemoteError) {
				t.Fatalf("MakeDirectory = %v, want RemoteError", err)
			}
			if !s.Connected() {
				t.Fatal("rejected mkdir tore the session down")
			}
			select {
			case ev := <-lost:
				t.Errorf("unexpected %v", ev.Type())
			case <-time.After(50 * time.Millisecond):
			}
			if _, err := s.List(context.Background(), "/"); err != nil {
				t.Errorf("List after rejection: %v", err)
			}
		})
	}
}

func TestSession_ConnectionLoss(t *testing.T) {
	s, tr, bus := newFakeSession(t)
	lost := bus.Subscribe(events.EventConnectionLost)
	connect(t, s)
	tr.Kill()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.List(context.Background(), "/")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if k := ftperr.KindOf(err); k != ftperr.TransportFatal && k != ftperr.NotConnected {
			t.Errorf("List %d = %v, want TransportFatal or NotConnected", i, err)
		}
	}
	if s.Connected() {
		t.Fatal("still connected after fatal failures")
	}

	count := 0
	timeout := time.After(200 * time.Millisecond)
collect:
	for {
		select {
		case <-lost:
			count++
		case <-timeout:
			break collect
		}
	}
	if count != 1 {
		t.Errorf("connection-lost events = %d, want 1", count)
	}

	deadline := time.Now().Add(waitLimit)
	for !tr.Closed() {
		if time.Now().After(deadline) {
			t.Fatal("lost connection was never closed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !s.Connected() {
		t.Error("not connected after reconnect")
	}
}

func TestSession_Transfers(t *testing.T) {
	s, tr, _ := newFakeSession(t)
	tr.AddDir("/docs")
	tr.AddFile("/docs/r.txt", []byte("remote"))
	connect(t, s)
	ctx := context.Background()

	if _, err := s.Navigate(ctx, "/docs"); err != nil {
		t.Fatal(err)
	}
	local := writeLocal(t, t.TempDir(), "up.txt", "up")
	tok, err := s.StartUpload(ctx, local)
	if err != nil {
		t.Fatal(err)
	}
	if tok.RemotePath != "/docs/up.txt" || tok.Direction != transport.Upload {
		t.Errorf("upload token = %+v", tok)
	}
	if st := waitSettled(t, s, transport.Upload); st.Status != transfer.StatusCompleted {
		t.Fatalf("upload = %s (%v)", st.Status, st.Err)
	}

	dtok, err := s.StartDownload(ctx, "r.txt", nil)
	if err != nil {
		t.Fatal(err)
	}
	wantLocal := filepath.Join(s.profile.Transfer.DownloadDir, "r.txt")
	if dtok.LocalPath != wantLocal || dtok.RemotePath != "/docs/r.txt" {
		t.Errorf("download token = %+v", dtok)
	}
	if st := waitSettled(t, s, transport.Download); st.Status != transfer.StatusCompleted {
		t.Fatalf("download = %s (%v)", st.Status, st.Err)
	}

	if _, err := s.StartDownload(ctx, "r.txt", nil); err != transfer.ErrDownloadCancelled {
		t.Errorf("download onto existing file without policy = %v", err)
	}
	if _, err := s.StartUpload(ctx, filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Error("upload of a missing local file succeeded")
	}
}

func TestSession_PausedTransferSurvivesReconnect(t *testing.T) {
	s, tr, _ := newFakeSession(t)
	tr.GateTransfers(true)
	connect(t, s)
	ctx := context.Background()

	tok, err := s.StartUpload(ctx, writeLocal(t, t.TempDir(), "big.bin", "data"))
	if err != nil {
		t.Fatal(err)
	}
	if !tr.WaitStarted(tok, waitLimit) {
		t.Fatal("upload never started")
	}
	if _, err := s.Pause(transport.Upload); err != nil {
		t.Fatal(err)
	}

	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Resume(ctx, transport.Upload); ftperr.KindOf(err) != ftperr.NotConnected {
		t.Errorf("Resume while disconnected = %v", err)
	}
	connect(t, s)

	resumed, err := s.Resume(ctx, transport.Upload)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed != tok {
		t.Errorf("resumed %s, want %s", resumed, tok)
	}
	if !tr.WaitStarted(tok, waitLimit) {
		t.Fatal("resumed upload never started")
	}
	tr.Release(tok, nil)
	if st := waitSettled(t, s, transport.Upload); st.Status != transfer.StatusCompleted {
		t.Errorf("status = %s (%v)", st.Status, st.Err)
	}
	if snap := s.Transfers(); snap.Upload.Paused != nil {
		t.Error("paused record kept after completion")
	}
}

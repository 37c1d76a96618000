package ftpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gonzalop/ftp"

	"github.com/ftphandler/ftp-handler/internal/ftperr"
	"github.com/ftphandler/ftp-handler/internal/transport"
	"github.com/ftphandler/ftp-handler/internal/transport/transporttest"
)

func dialTest(t *testing.T, root string) *Client {
	t.Helper()
	creds := transporttest.StartServer(t, root)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tr, err := NewDialer(Options{Timeout: 5 * time.Second}).Dial(ctx, creds)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	c := tr.(*Client)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func findEntry(entries []transport.Entry, name string) (transport.Entry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return transport.Entry{}, false
}

func TestClient_DirectoryOperations(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello ftp"), 0644); err != nil {
		t.Fatal(err)
	}
	c := dialTest(t, root)
	ctx := context.Background()

	if err := c.MakeDir(ctx, "/backup"); err != nil {
		t.Fatalf("MakeDir: %v", err)
	}

	entries, err := c.List(ctx, "/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	dir, ok := findEntry(entries, "backup")
	if !ok || dir.Kind != transport.Directory || dir.Size != 0 {
		t.Errorf("backup entry = %+v (found %v)", dir, ok)
	}
	file, ok := findEntry(entries, "notes.txt")
	if !ok || file.Kind != transport.File || file.Size != 9 {
		t.Errorf("notes.txt entry = %+v (found %v)", file, ok)
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			t.Errorf("listing contains %q", e.Name)
		}
	}

	if err := c.Rename(ctx, "/notes.txt", "/backup/notes.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "backup", "notes.txt")); err != nil {
		t.Errorf("renamed file missing on server: %v", err)
	}

	ok, err = c.DeleteFile(ctx, "/backup/notes.txt")
	if err != nil || !ok {
		t.Errorf("DeleteFile = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = c.DeleteFile(ctx, "/backup/notes.txt")
	if err != nil || ok {
		t.Errorf("DeleteFile(missing) = (%v, %v), want (false, nil)", ok, err)
	}

	ok, err = c.DeleteDir(ctx, "/backup")
	if err != nil || !ok {
		t.Errorf("DeleteDir = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestClient_MakeDirCollision(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "exists"), 0755); err != nil {
		t.Fatal(err)
	}
	c := dialTest(t, root)

	err := c.MakeDir(context.Background(), "/exists")
	if !ftperr.IsKind(err, ftperr.RemoteError) {
		t.Errorf("MakeDir(existing) = %v, want RemoteError", err)
	}
	if !ftperr.IsReply(err) {
		t.Errorf("MakeDir(existing) = %v, not marked as a server reply", err)
	}
}

func TestClient_UploadDownload(t *testing.T) {
	root := t.TempDir()
	c := dialTest(t, root)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("0123456789abcdef"), 16*1024)
	local := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(local, payload, 0644); err != nil {
		t.Fatal(err)
	}

	var (
		mu      sync.Mutex
		updates []transport.Progress
	)
	unsubscribe := c.SubscribeProgress(func(p transport.Progress) {
		mu.Lock()
		updates = append(updates, p)
		mu.Unlock()
	})
	defer unsubscribe()

	up := transport.Token{Direction: transport.Upload, LocalPath: local, RemotePath: "/payload.bin"}
	if err := c.Upload(ctx, up); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	stored, err := os.ReadFile(filepath.Join(root, "payload.bin"))
	if err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}
	if !bytes.Equal(stored, payload) {
		t.Error("uploaded content differs")
	}

	dest := filepath.Join(t.TempDir(), "copy.bin")
	down := transport.Token{Direction: transport.Download, LocalPath: dest, RemotePath: "/payload.bin"}
	ok, err := c.Download(ctx, down)
	if err != nil || !ok {
		t.Fatalf("Download = (%v, %v)", ok, err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("downloaded content differs")
	}

	mu.Lock()
	defer mu.Unlock()
	last := map[transport.Token]float64{}
	for _, p := range updates {
		if p.Percent < last[p.Token] {
			t.Errorf("progress for %s went backwards: %v after %v", p.Token, p.Percent, last[p.Token])
		}
		last[p.Token] = p.Percent
	}
	if last[up] != 100 || last[down] != 100 {
		t.Errorf("final progress up=%v down=%v, want 100", last[up], last[down])
	}
}

func TestClient_DownloadMissingRemoveLocal(t *testing.T) {
	c := dialTest(t, t.TempDir())

	dest := filepath.Join(t.TempDir(), "absent.bin")
	tok := transport.Token{Direction: transport.Download, LocalPath: dest, RemotePath: "/absent.bin"}
	ok, err := c.Download(context.Background(), tok)
	if ok || err == nil {
		t.Fatalf("Download(missing) = (%v, %v), want failure", ok, err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("partial file left behind")
	}
}

func TestClient_CancelUnknownToken(t *testing.T) {
	c := dialTest(t, t.TempDir())
	if err := c.Cancel(transport.Token{Direction: transport.Upload, LocalPath: "/x", RemotePath: "/x"}); err != nil {
		t.Errorf("Cancel(unknown) = %v", err)
	}
}

func TestClient_ClosedRejectsOperations(t *testing.T) {
	c := dialTest(t, t.TempDir())
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := c.List(context.Background(), "/"); err == nil {
		t.Error("List after Close succeeded")
	}
}

func TestDialer_RejectsBadPassword(t *testing.T) {
	creds := transporttest.StartServer(t, t.TempDir())
	creds.Password = "wrong"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := NewDialer(Options{Timeout: 5 * time.Second}).Dial(ctx, creds)
	if err == nil {
		t.Fatal("Dial with bad password succeeded")
	}
	if ftperr.KindOf(err) != ftperr.AuthError {
		t.Errorf("err = %v, want AuthError", err)
	}
}

func TestDialer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDialer(Options{}).Dial(ctx, transport.Credentials{Host: "127.0.0.1", Port: 1})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Dial = %v, want context.Canceled", err)
	}
}

func TestDialer_UnsupportedTLS(t *testing.T) {
	_, err := NewDialer(Options{TLS: "starttls"}).Dial(context.Background(), transport.Credentials{Host: "127.0.0.1"})
	if err == nil {
		t.Fatal("expected error for unsupported tls mode")
	}
}

func TestWrapErr(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		want  ftperr.Kind
		reply bool
	}{
		{"service closing", &ftp.ProtocolError{Command: "LIST", Response: "421 Timeout", Code: 421}, ftperr.TransportFatal, false},
		{"permanent", &ftp.ProtocolError{Command: "MKD /closed-projects", Response: "550 exists", Code: 550}, ftperr.RemoteError, true},
		{"transient", &ftp.ProtocolError{Command: "STOR", Response: "450 busy", Code: 450}, ftperr.RemoteError, true},
		{"network", io.EOF, ftperr.KindUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapErr("op", "/p", tt.err)
			if got := ftperr.KindOf(err); got != tt.want {
				t.Errorf("KindOf = %v, want %v", got, tt.want)
			}
			if got := ftperr.IsReply(err); got != tt.reply {
				t.Errorf("IsReply = %v, want %v", got, tt.reply)
			}
			if !errors.Is(err, tt.err) {
				t.Error("cause not preserved")
			}
		})
	}

	if wrapErr("op", "/p", nil) != nil {
		t.Error("wrapErr(nil) != nil")
	}
}

func TestDeleted(t *testing.T) {
	ok, err := deleted("delete", "/a", nil)
	if !ok || err != nil {
		t.Errorf("nil error: (%v, %v)", ok, err)
	}

	ok, err = deleted("delete", "/a", &ftp.ProtocolError{Code: 550})
	if ok || err != nil {
		t.Errorf("550: (%v, %v), want (false, nil)", ok, err)
	}

	ok, err = deleted("delete", "/a", io.ErrUnexpectedEOF)
	if ok || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("network error: (%v, %v)", ok, err)
	}
}

func TestReporter_Steps(t *testing.T) {
	c := &Client{subs: make(map[int]func(transport.Progress))}
	var got []float64
	c.SubscribeProgress(func(p transport.Progress) { got = append(got, p.Percent) })

	report := c.reporter(transport.Token{}, 1000)
	for _, n := range []int64{5, 10, 15, 20, 500, 1000} {
		report(n)
	}

	want := []float64{0.5, 1.5, 50, 100}
	if len(got) != len(want) {
		t.Fatalf("updates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("update %d = %v, want %v", i, got[i], want[i])
		}
	}

	if c.reporter(transport.Token{}, 0) != nil {
		t.Error("unknown size should disable reporting")
	}
}

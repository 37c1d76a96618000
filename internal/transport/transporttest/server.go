package transporttest

import (
	"context"
	"net"
	"os"
	"testing"

	"github.com/gonzalop/ftp/server"

	"github.com/ftphandler/ftp-handler/internal/transport"
)

// Credentials accepted by servers started with StartServer.
const (
	ServerUser     = "tester"
	ServerPassword = "secret"
)

// StartServer serves root over FTP on a random loopback port and returns
// credentials for it. The server is shut down when the test ends.
func StartServer(tb testing.TB, root string) transport.Credentials {
	tb.Helper()

	driver, err := server.NewFSDriver(root, server.WithAuthenticator(func(user, pass, host string) (string, bool, error) {
		if user != ServerUser || pass != ServerPassword {
			return "", false, os.ErrPermission
		}
		return root, false, nil
	}))
	if err != nil {
		tb.Fatalf("ftp driver: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)

	s, err := server.NewServer(ln.Addr().String(), server.WithDriver(driver))
	if err != nil {
		ln.Close()
		tb.Fatalf("ftp server: %v", err)
	}

	go func() {
		if err := s.Serve(ln); err != nil && err != server.ErrServerClosed {
			tb.Logf("ftp server stopped: %v", err)
		}
	}()
	tb.Cleanup(func() { shutdown(s) })

	return transport.Credentials{
		Host:     "127.0.0.1",
		Port:     addr.Port,
		User:     ServerUser,
		Password: ServerPassword,
	}
}

// shutdown stops s. Releases of the server package differ on whether
// Shutdown takes a context.
func shutdown(s any) {
	switch srv := s.(type) {
	case interface{ Shutdown(context.Context) error }:
		_ = srv.Shutdown(context.Background())
	case interface{ Shutdown() error }:
		_ = srv.Shutdown()
	}
}

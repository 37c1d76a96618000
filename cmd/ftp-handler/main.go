// ftp-handler - resumable, session-aware FTP client
package main

import (
	"os"

	"github.com/ftphandler/ftp-handler/internal/cli"
	"github.com/ftphandler/ftp-handler/internal/version"
)

// Version information, overridden by -ldflags at release time
var (
	Version   = "v0.3.0"
	BuildTime = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ftphandler/ftp-handler/internal/constants"
	"github.com/ftphandler/ftp-handler/internal/events"
	"github.com/ftphandler/ftp-handler/internal/localfs"
	"github.com/ftphandler/ftp-handler/internal/progress"
	"github.com/ftphandler/ftp-handler/internal/remote"
	"github.com/ftphandler/ftp-handler/internal/session"
	"github.com/ftphandler/ftp-handler/internal/transfer"
	"github.com/ftphandler/ftp-handler/internal/transport"
)

// newPutCmd creates the 'put' command.
func newPutCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "put <local-file>",
		Short: "Upload a file",
		Long: `Upload a local file into a remote directory under its own name.

Examples:
  ftp-handler put report.pdf
  ftp-handler put report.pdf --dir /incoming`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			conn, err := connectFromFlags(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			if dir != "" {
				if _, err := conn.sess.Navigate(ctx, dir); err != nil {
					return err
				}
			}

			ch := conn.sess.Events().SubscribeAll()
			defer conn.sess.Events().UnsubscribeAll(ch)

			tok, err := conn.sess.StartUpload(ctx, args[0])
			if err != nil {
				return err
			}
			st, err := waitTransfer(ctx, conn.sess, tok, ch, progress.NewReporter(os.Stderr))
			if err != nil {
				return err
			}
			return reportResult(cmd.OutOrStdout(), st, tok)
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Remote directory to upload into (default /)")
	return cmd
}

// newGetCmd creates the 'get' command.
func newGetCmd() *cobra.Command {
	var outDir, onConflict string

	cmd := &cobra.Command{
		Use:   "get <remote-file>",
		Short: "Download a file",
		Long: `Download a remote file into the profile's download directory, or into
--out when given. Missing local directories are created.

When the destination exists, --on-conflict decides:
  ask        prompt (default from the profile)
  overwrite  replace the existing file
  rename     keep both; the new file gets a <unix-millis>_ prefix
  cancel     do not download`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			conn, err := connectFromFlags(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			if onConflict == "" {
				onConflict = conn.profile.Transfer.OnConflict
			}
			policy, err := conflictPolicy(onConflict, newPrompter(os.Stdin, cmd.OutOrStdout()))
			if err != nil {
				return err
			}

			ch := conn.sess.Events().SubscribeAll()
			defer conn.sess.Events().UnsubscribeAll(ch)

			tok, err := startDownload(ctx, conn.sess, args[0], outDir, conn.profile.Transfer.DownloadDir, policy)
			if errors.Is(err, transfer.ErrDownloadCancelled) {
				fmt.Fprintln(cmd.OutOrStdout(), "Download cancelled.")
				return nil
			}
			if err != nil {
				return err
			}
			st, err := waitTransfer(ctx, conn.sess, tok, ch, progress.NewReporter(os.Stderr))
			if err != nil {
				return err
			}
			return reportResult(cmd.OutOrStdout(), st, tok)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Local directory to download into")
	cmd.Flags().StringVar(&onConflict, "on-conflict", "", "ask, overwrite, rename or cancel")
	return cmd
}

// startDownload downloads remotePath into outDir, or into the profile's
// download directory when outDir is empty, after checking that it fits.
func startDownload(ctx context.Context, sess *session.Session, remotePath, outDir string, defaultDir string, policy transfer.CollisionPolicy) (transport.Token, error) {
	remotePath = sess.Resolve(remotePath)
	dir := outDir
	if dir == "" {
		dir = defaultDir
	}
	if err := checkSpace(ctx, sess, remotePath, dir); err != nil {
		return transport.Token{}, err
	}
	if outDir == "" {
		return sess.StartDownload(ctx, remotePath, policy)
	}
	name := remote.Base(remotePath)
	if err := localfs.ValidateFilename(name); err != nil {
		return transport.Token{}, fmt.Errorf("download: %w", err)
	}
	return sess.StartDownloadTo(ctx, remotePath, filepath.Join(outDir, name), policy)
}

// checkSpace looks up the remote size in the parent listing and refuses a
// download that cannot fit in dir. A failed lookup skips the check.
func checkSpace(ctx context.Context, sess *session.Session, remotePath, dir string) error {
	entries, err := sess.List(ctx, remote.Parent(remotePath))
	if err != nil {
		GetLogger().Debug().Err(err).Str("path", remotePath).Msg("size lookup failed, skipping space check")
		return nil
	}
	name := remote.Base(remotePath)
	for _, e := range entries {
		if e.Name == name && !e.IsDir() {
			return localfs.CheckAvailableSpace(dir, int64(e.Size), constants.DiskSpaceSafetyMargin)
		}
	}
	return nil
}

// waitTransfer drives r until the transfer under tok settles. When ctx is
// cancelled first the transfer is paused.
func waitTransfer(ctx context.Context, sess *session.Session, tok transport.Token, ch <-chan events.Event, r progress.Reporter) (transfer.State, error) {
	tracked := make(chan struct{})
	go func() {
		progress.Track(ch, tok.String(), r)
		close(tracked)
	}()

	st, err := sess.Wait(ctx, tok.Direction)
	if err != nil {
		if _, perr := sess.Pause(tok.Direction); perr != nil {
			GetLogger().Warn().Err(perr).Str("direction", tok.Direction.String()).Msg("pause after interrupt failed")
		}
		return st, fmt.Errorf("%s interrupted: %w", tok.Direction, err)
	}

	// The bar may still be drawing the final event.
	select {
	case <-tracked:
	case <-time.After(time.Second):
	}
	return st, nil
}

// reportResult prints the outcome of a settled transfer.
func reportResult(w io.Writer, st transfer.State, tok transport.Token) error {
	switch st.Status {
	case transfer.StatusCompleted:
		if tok.Direction == transport.Upload {
			fmt.Fprintf(w, "✓ Uploaded %s to %s\n", tok.LocalPath, tok.RemotePath)
			return nil
		}
		fmt.Fprintf(w, "✓ Downloaded %s to %s\n", tok.RemotePath, tok.LocalPath)
		if !localfs.IsOpenable(tok.LocalPath) {
			fmt.Fprintf(w, "  Note: no viewer is known for %s files\n", fileKind(tok.LocalPath))
		}
		return nil
	case transfer.StatusFailed:
		return st.Err
	default:
		return fmt.Errorf("%s ended %s", tok.Direction, st.Status)
	}
}

func fileKind(p string) string {
	if ext := filepath.Ext(p); ext != "" {
		return ext
	}
	return "extensionless"
}

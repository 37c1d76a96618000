package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ftphandler/ftp-handler/internal/localfs"
	"github.com/ftphandler/ftp-handler/internal/session"
)

// newLsCmd creates the 'ls' command.
func newLsCmd() *cobra.Command {
	var match string

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a remote directory",
		Long: `List a remote directory, directories first.

Examples:
  ftp-handler ls
  ftp-handler ls /pub --match "*.iso"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := compileMatch(match)
			if err != nil {
				return err
			}
			ctx := GetContext()
			conn, err := connectFromFlags(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			entries := conn.root
			if len(args) == 1 {
				entries, err = conn.sess.Navigate(ctx, args[0])
				if err != nil {
					return err
				}
			}
			printEntries(cmd.OutOrStdout(), conn.sess.CurrentPath(), filterEntries(entries, g))
			return nil
		},
	}

	cmd.Flags().StringVarP(&match, "match", "m", "", "Only show files whose name matches this glob")
	return cmd
}

// newMkdirCmd creates the 'mkdir' command.
func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <name>",
		Short: "Create a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			conn, err := connectFromFlags(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			created, err := conn.sess.MakeDirectory(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Created %s\n", created)
			return nil
		},
	}
}

// newRmCmd creates the 'rm' command.
func newRmCmd() *cobra.Command {
	var isDir, yes bool

	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a remote file or empty directory",
		Long: `Delete a remote file, or an empty directory with --dir.

Asks for confirmation unless --yes is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			conn, err := connectFromFlags(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			p := conn.sess.Resolve(args[0])
			if !yes {
				pr := newPrompter(os.Stdin, cmd.OutOrStdout())
				if !pr.confirm(fmt.Sprintf("Delete %s?", p)) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}
			return deleteRemote(ctx, conn.sess, p, isDir, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&isDir, "dir", "d", false, "Delete a directory")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// newMvCmd creates the 'mv' command.
func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <path> <new-name>",
		Short: "Rename a remote file or directory in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			conn, err := connectFromFlags(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			renamed, err := conn.sess.Rename(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Renamed to %s\n", renamed)
			return nil
		},
	}
}

// newLlsCmd creates the 'lls' command.
func newLlsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "lls [dir]",
		Short: "List a local directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return listLocal(cmd.OutOrStdout(), dir, all)
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include hidden files")
	return cmd
}

func listLocal(w io.Writer, dir string, all bool) error {
	entries, err := localfs.ListDirectory(dir, localfs.ListOptions{IncludeHidden: all})
	if err != nil {
		return err
	}
	printLocalEntries(w, dir, entries)
	return nil
}

// deleteRemote deletes p and reports a refusal by the server as an error.
func deleteRemote(ctx context.Context, sess *session.Session, p string, isDir bool, w io.Writer) error {
	deleted, err := sess.Delete(ctx, p, isDir)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("server refused to delete %s", p)
	}
	fmt.Fprintf(w, "✓ Deleted %s\n", p)
	return nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/ftphandler/ftp-handler/internal/events"
	"github.com/ftphandler/ftp-handler/internal/progress"
	"github.com/ftphandler/ftp-handler/internal/session"
	"github.com/ftphandler/ftp-handler/internal/transfer"
	"github.com/ftphandler/ftp-handler/internal/transport"
)

const shellHelp = `Commands:
  pwd                       Show the current remote directory
  ls [glob]                 List the current directory
  cd <dir>                  Change directory ("cd .." goes up)
  back | forward            Move through the browsing history
  recent [n]                Show recent directories, or jump to number n
  mkdir <name>              Create a directory here
  rm <path>                 Delete a file
  rmdir <path>              Delete an empty directory
  mv <path> <new-name>      Rename in place
  put <local-file>          Start uploading into the current directory
  get <remote> [local-dir]  Start downloading
  pause <up|down>           Pause the running upload or download
  resume <up|down>          Restart a paused transfer from the beginning
  discard <up|down>         Forget a paused transfer
  status                    Show connection and transfer state
  watch                     Show live progress until transfers settle
  lls [dir]                 List a local directory
  connect | disconnect      Reconnect after a loss, or drop the connection
  help                      Show this help
  quit | exit               Leave the shell`

// newShellCmd creates the 'shell' command.
func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session with browsing, pause and resume",
		Long: `Open an interactive session. Uploads and downloads run in the
background, one of each at a time, and can be paused and resumed.

` + shellHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			conn, err := connectFromFlags(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			sh, err := newShell(conn, os.Stdin, cmd.OutOrStdout(), progress.IsTerminal(os.Stdout))
			if err != nil {
				return err
			}
			defer sh.close()

			fmt.Fprintf(sh.out, "Connected to %s. Type 'help' for commands.\n", conn.sess.Host())
			printEntries(sh.out, conn.sess.CurrentPath(), conn.root)
			return sh.run(ctx)
		},
	}
}

// syncWriter serializes writes from the command loop and the notifier.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type shell struct {
	sess        *session.Session
	prompt      *prompter
	out         io.Writer
	policy      transfer.CollisionPolicy
	downloadDir string
	terminal    bool

	watching   atomic.Bool
	notifyStop context.CancelFunc
	notifyDone chan struct{}
}

func newShell(conn *connection, in io.Reader, out io.Writer, terminal bool) (*shell, error) {
	sw := &syncWriter{w: out}
	pr := newPrompter(in, sw)
	policy, err := conflictPolicy(conn.profile.Transfer.OnConflict, pr)
	if err != nil {
		return nil, err
	}
	sh := &shell{
		sess:        conn.sess,
		prompt:      pr,
		out:         sw,
		policy:      policy,
		downloadDir: conn.profile.Transfer.DownloadDir,
		terminal:    terminal,
	}
	sh.startNotifier()
	return sh, nil
}

// startNotifier prints transfer outcomes and connection loss as they happen.
func (sh *shell) startNotifier() {
	ctx, cancel := context.WithCancel(context.Background())
	sh.notifyStop = cancel
	sh.notifyDone = make(chan struct{})
	bus := sh.sess.Events()
	ch := bus.SubscribeAll()

	go func() {
		defer close(sh.notifyDone)
		defer bus.UnsubscribeAll(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				sh.notify(ev)
			}
		}
	}()
}

func (sh *shell) notify(ev events.Event) {
	switch e := ev.(type) {
	case *events.ConnectionEvent:
		if e.Type() == events.EventConnectionLost {
			fmt.Fprintf(sh.out, "\n✗ Connection to %s lost: %s. Type 'connect' to reconnect.\n", e.Host, e.Reason)
		}
	case *events.TransferEvent:
		if sh.watching.Load() {
			return
		}
		switch e.Type() {
		case events.EventTransferCompleted:
			fmt.Fprintf(sh.out, "\n✓ %s finished: %s\n", e.Direction, e.Token)
		case events.EventTransferFailed:
			fmt.Fprintf(sh.out, "\n✗ %s failed: %v\n", e.Direction, e.Error)
		}
	}
}

func (sh *shell) close() {
	sh.notifyStop()
	<-sh.notifyDone
}

func (sh *shell) promptString() string {
	if !sh.sess.Connected() {
		return "ftp (disconnected)> "
	}
	return "ftp:" + sh.sess.CurrentPath() + "> "
}

// run reads commands until quit, end of input or ctx is done.
func (sh *shell) run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(sh.out, sh.promptString())
		line, err := sh.prompt.readLine()
		if err != nil {
			fmt.Fprintln(sh.out)
			return nil
		}
		quit, err := sh.exec(ctx, line)
		if err != nil {
			fmt.Fprintf(sh.out, "Error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// exec runs one command line.
func (sh *shell) exec(ctx context.Context, line string) (quit bool, err error) {
	args, err := splitArgs(line)
	if err != nil {
		return false, err
	}
	if len(args) == 0 {
		return false, nil
	}
	name, args := strings.ToLower(args[0]), args[1:]

	switch name {
	case "help", "?":
		fmt.Fprintln(sh.out, shellHelp)
	case "quit", "exit":
		return sh.confirmQuit(), nil
	case "pwd":
		fmt.Fprintln(sh.out, sh.sess.CurrentPath())
	case "ls":
		return false, sh.ls(ctx, args)
	case "cd":
		if len(args) != 1 {
			return false, usage("cd <dir>")
		}
		entries, err := sh.sess.Navigate(ctx, args[0])
		if err != nil {
			return false, err
		}
		printEntries(sh.out, sh.sess.CurrentPath(), entries)
	case "back", "forward":
		move := sh.sess.Back
		if name == "forward" {
			move = sh.sess.Forward
		}
		entries, moved, err := move(ctx)
		if err != nil {
			return false, err
		}
		if !moved {
			fmt.Fprintf(sh.out, "Nothing to go %s to.\n", name)
			return false, nil
		}
		printEntries(sh.out, sh.sess.CurrentPath(), entries)
	case "recent":
		return false, sh.recent(ctx, args)
	case "mkdir":
		if len(args) != 1 {
			return false, usage("mkdir <name>")
		}
		created, err := sh.sess.MakeDirectory(ctx, args[0])
		if err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "✓ Created %s\n", created)
	case "rm", "rmdir":
		if len(args) != 1 {
			return false, usage(name + " <path>")
		}
		return false, deleteRemote(ctx, sh.sess, args[0], name == "rmdir", sh.out)
	case "mv":
		if len(args) != 2 {
			return false, usage("mv <path> <new-name>")
		}
		renamed, err := sh.sess.Rename(ctx, args[0], args[1])
		if err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "✓ Renamed to %s\n", renamed)
	case "put":
		if len(args) != 1 {
			return false, usage("put <local-file>")
		}
		tok, err := sh.sess.StartUpload(ctx, args[0])
		if err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "Uploading %s\n", tok)
	case "get":
		if len(args) < 1 || len(args) > 2 {
			return false, usage("get <remote> [local-dir]")
		}
		outDir := ""
		if len(args) == 2 {
			outDir = args[1]
		}
		tok, err := startDownload(ctx, sh.sess, args[0], outDir, sh.downloadDir, sh.policy)
		if errors.Is(err, transfer.ErrDownloadCancelled) {
			fmt.Fprintln(sh.out, "Download cancelled.")
			return false, nil
		}
		if err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "Downloading %s\n", tok)
	case "pause", "resume", "discard":
		return false, sh.slotCommand(ctx, name, args)
	case "status":
		sh.printStatus()
	case "watch":
		return false, sh.watch(ctx)
	case "lls":
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		return false, listLocal(sh.out, dir, false)
	case "connect":
		entries, err := sh.sess.Connect(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "Connected to %s.\n", sh.sess.Host())
		printEntries(sh.out, sh.sess.CurrentPath(), entries)
	case "disconnect":
		if err := sh.sess.Disconnect(); err != nil {
			return false, err
		}
		fmt.Fprintln(sh.out, "Disconnected.")
	default:
		return false, fmt.Errorf("unknown command %q, type 'help'", name)
	}
	return false, nil
}

func usage(s string) error {
	return fmt.Errorf("usage: %s", s)
}

func (sh *shell) ls(ctx context.Context, args []string) error {
	pattern := ""
	if len(args) > 0 {
		pattern = args[0]
	}
	g, err := compileMatch(pattern)
	if err != nil {
		return err
	}
	entries, err := sh.sess.Refresh(ctx)
	if err != nil {
		return err
	}
	printEntries(sh.out, sh.sess.CurrentPath(), filterEntries(entries, g))
	return nil
}

func (sh *shell) recent(ctx context.Context, args []string) error {
	recents := sh.sess.Recents()
	if len(args) == 0 {
		if len(recents) == 0 {
			fmt.Fprintln(sh.out, "No recent directories.")
			return nil
		}
		for i, p := range recents {
			fmt.Fprintf(sh.out, "  %d. %s\n", i+1, p)
		}
		return nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(recents) {
		return fmt.Errorf("recent: choose a number between 1 and %d", len(recents))
	}
	entries, err := sh.sess.Navigate(ctx, recents[n-1])
	if err != nil {
		return err
	}
	printEntries(sh.out, sh.sess.CurrentPath(), entries)
	return nil
}

func (sh *shell) slotCommand(ctx context.Context, name string, args []string) error {
	if len(args) != 1 {
		return usage(name + " <up|down>")
	}
	dir, err := transport.ParseDirection(args[0])
	if err != nil {
		return err
	}
	switch name {
	case "pause":
		rec, err := sh.sess.Pause(dir)
		if rec.LocalPath != "" {
			fmt.Fprintf(sh.out, "‖ Paused %s %s\n", dir, rec.Token())
		}
		return err
	case "resume":
		tok, err := sh.sess.Resume(ctx, dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "Restarted %s %s from the beginning\n", dir, tok)
	case "discard":
		if err := sh.sess.CancelPaused(dir); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "Discarded paused %s\n", dir)
	}
	return nil
}

func (sh *shell) printStatus() {
	if sh.sess.Connected() {
		fmt.Fprintf(sh.out, "Connected to %s, at %s\n", sh.sess.Host(), sh.sess.CurrentPath())
	} else {
		fmt.Fprintf(sh.out, "Not connected (%s)\n", sh.sess.Host())
	}
	ts := sh.sess.Transfers()
	for _, st := range []transfer.State{ts.Upload, ts.Download} {
		fmt.Fprintf(sh.out, "  %-8s %s\n", st.Direction.String()+":", describeState(st))
	}
}

func describeState(st transfer.State) string {
	switch st.Status {
	case transfer.StatusRunning:
		return fmt.Sprintf("running %3.0f%%  %s", st.Progress, st.Token)
	case transfer.StatusPaused:
		return fmt.Sprintf("paused  %s", st.Paused.Token())
	case transfer.StatusFailed:
		return fmt.Sprintf("failed  %v", st.Err)
	case transfer.StatusCompleted:
		return fmt.Sprintf("completed at %s", st.CompletedAt.Format("15:04:05"))
	default:
		return string(st.Status)
	}
}

// watch shows live bars for the running transfers and returns once they
// have all settled.
func (sh *shell) watch(ctx context.Context) error {
	ts := sh.sess.Transfers()
	var running []transfer.State
	for _, st := range []transfer.State{ts.Upload, ts.Download} {
		if st.Status == transfer.StatusRunning {
			running = append(running, st)
		}
	}
	if len(running) == 0 {
		fmt.Fprintln(sh.out, "No transfer is running.")
		return nil
	}

	sh.watching.Store(true)
	defer sh.watching.Store(false)

	bus := sh.sess.Events()
	ch := bus.SubscribeAll()
	defer bus.UnsubscribeAll(ch)

	ui := progress.NewSlotUI(sh.out, sh.terminal)
	for _, st := range running {
		ui.Handle(transferEvent(events.EventTransferStarted, st))
		ui.Handle(transferEvent(events.EventTransferProgress, st))
	}

	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		ui.Run(wctx, ch)
		close(done)
	}()

	var err error
	for _, st := range running {
		if _, err = sh.sess.Wait(ctx, st.Direction); err != nil {
			break
		}
	}
	// Let the final events reach the bars.
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	sh.printStatus()
	return err
}

func transferEvent(t events.EventType, st transfer.State) *events.TransferEvent {
	return &events.TransferEvent{
		BaseEvent:  events.BaseEvent{EventType: t, Time: time.Now()},
		Direction:  st.Direction.String(),
		Token:      st.Token.String(),
		LocalPath:  st.Token.LocalPath,
		RemotePath: st.Token.RemotePath,
		Progress:   st.Progress,
	}
}

func (sh *shell) confirmQuit() bool {
	ts := sh.sess.Transfers()
	if ts.Upload.Status != transfer.StatusRunning && ts.Download.Status != transfer.StatusRunning {
		return true
	}
	return sh.prompt.confirm("Transfers are still running and will be stopped. Quit anyway?")
}

// splitArgs splits a command line on spaces. Double quotes group words.
func splitArgs(line string) ([]string, error) {
	var args []string
	var cur strings.Builder
	inQuote, hasArg := false, false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			hasArg = true
		case (r == ' ' || r == '\t') && !inQuote:
			if hasArg {
				args = append(args, cur.String())
				cur.Reset()
				hasArg = false
			}
		default:
			cur.WriteRune(r)
			hasArg = true
		}
	}
	if inQuote {
		return nil, errors.New("unterminated quote")
	}
	if hasArg {
		args = append(args, cur.String())
	}
	return args, nil
}

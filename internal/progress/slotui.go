package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/ftphandler/ftp-handler/internal/events"
)

// SlotUI shows one live bar per transfer slot, fed from the event bus.
type SlotUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool

	mu   sync.Mutex
	bars map[string]*slotBar // direction -> bar of the current attempt
}

type slotBar struct {
	bar   *mpb.Bar
	token string
	start time.Time
}

// NewSlotUI renders to out. Without a terminal only one line per state change
// is printed.
func NewSlotUI(out io.Writer, isTerminal bool) *SlotUI {
	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}
	return &SlotUI{
		progress:   p,
		out:        out,
		isTerminal: isTerminal,
		bars:       make(map[string]*slotBar),
	}
}

// Run consumes events until ctx is done or ch closes, then waits for the bars
// to finish rendering.
func (u *SlotUI) Run(ctx context.Context, ch <-chan events.Event) {
	defer u.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if te, ok := ev.(*events.TransferEvent); ok {
				u.Handle(te)
			}
		}
	}
}

// Handle applies a single transfer event.
func (u *SlotUI) Handle(te *events.TransferEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	sb := u.bars[te.Direction]
	switch te.Type() {
	case events.EventTransferStarted:
		if sb != nil {
			sb.abort()
		}
		u.bars[te.Direction] = u.newBar(te)
		if !u.isTerminal {
			fmt.Fprintf(u.out, "%s started: %s\n", te.Direction, te.Token)
		}
	case events.EventTransferProgress:
		if sb != nil && sb.token == te.Token && sb.bar != nil {
			sb.bar.SetCurrent(int64(te.Progress))
		}
	case events.EventTransferCompleted:
		if sb != nil && sb.bar != nil {
			sb.bar.SetCurrent(100)
			sb.bar.SetTotal(100, true)
		}
		delete(u.bars, te.Direction)
		elapsed := time.Duration(0)
		if sb != nil {
			elapsed = time.Since(sb.start).Round(time.Second)
		}
		u.println(fmt.Sprintf("✓ %s %s (%s)", te.Direction, truncatePath(te.LocalPath, 2), elapsed))
	case events.EventTransferFailed:
		if sb != nil {
			sb.abort()
		}
		delete(u.bars, te.Direction)
		u.println(fmt.Sprintf("✗ %s %s: %v", te.Direction, truncatePath(te.LocalPath, 2), te.Error))
	case events.EventTransferPaused:
		if sb != nil {
			sb.abort()
		}
		delete(u.bars, te.Direction)
		u.println(fmt.Sprintf("‖ %s paused at %.0f%%: %s", te.Direction, te.Progress, truncatePath(te.LocalPath, 2)))
	case events.EventTransferDiscarded:
		u.println(fmt.Sprintf("- %s discarded: %s", te.Direction, truncatePath(te.LocalPath, 2)))
	}
}

func (u *SlotUI) newBar(te *events.TransferEvent) *slotBar {
	sb := &slotBar{token: te.Token, start: time.Now()}
	if !u.isTerminal {
		return sb
	}
	label := fmt.Sprintf("%-8s %s ⇄ %s", te.Direction, truncatePath(te.LocalPath, 2), te.RemotePath)
	sb.bar = u.progress.New(100,
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(label, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
	return sb
}

func (sb *slotBar) abort() {
	if sb.bar != nil {
		sb.bar.Abort(false)
	}
}

// println writes above the bars in terminal mode.
func (u *SlotUI) println(msg string) {
	if u.isTerminal {
		fmt.Fprintln(u.progress, msg)
		return
	}
	fmt.Fprintln(u.out, msg)
}

func (u *SlotUI) shutdown() {
	u.mu.Lock()
	for dir, sb := range u.bars {
		sb.abort()
		delete(u.bars, dir)
	}
	u.mu.Unlock()
	u.progress.Wait()
}

// truncatePath truncates a file path to show only the last N components
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}

// enableANSIOnWindows enables Virtual Terminal processing on Windows for ANSI
// escape sequences. No-op elsewhere.
func enableANSIOnWindows(f *os.File) {
	if runtime.GOOS == "windows" {
		enableWindowsANSI(f)
	}
}

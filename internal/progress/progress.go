// Package progress renders transfer progress in the terminal, either as a
// single progress bar for one transfer or as live bars for both slots.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/ftphandler/ftp-handler/internal/events"
)

// Reporter receives percent-based progress for one transfer.
type Reporter interface {
	Start(description string)
	Update(percent float64)
	Finish()
	Error(err error)
}

// CLIProgress implements Reporter with a progress bar.
type CLIProgress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a reporter writing to w, or stderr when w is nil.
func NewCLIProgress(w io.Writer) *CLIProgress {
	if w == nil {
		w = os.Stderr
	}
	return &CLIProgress{w: w}
}

// Start initializes the bar on a 0-100 scale.
func (p *CLIProgress) Start(description string) {
	w := p.w
	p.bar = progressbar.NewOptions(100,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update moves the bar to percent.
func (p *CLIProgress) Update(percent float64) {
	if p.bar != nil {
		_ = p.bar.Set(int(percent))
	}
}

// Finish completes the bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error displays an error message below the bar.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.w, "\nError: %v\n", err)
	}
}

// NoOpProgress is a reporter that does nothing (non-interactive output).
type NoOpProgress struct{}

func (NoOpProgress) Start(string)   {}
func (NoOpProgress) Update(float64) {}
func (NoOpProgress) Finish()        {}
func (NoOpProgress) Error(error)    {}

// NewReporter returns a CLIProgress when f is a terminal and a no-op
// reporter otherwise.
func NewReporter(f *os.File) Reporter {
	if IsTerminal(f) {
		enableANSIOnWindows(f)
		return NewCLIProgress(f)
	}
	return NoOpProgress{}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Track drives r from the transfer events on ch that belong to token, until
// the transfer completes, fails, pauses or is discarded, or ch closes. It
// returns the event that ended the transfer, or nil when ch closed first.
func Track(ch <-chan events.Event, token string, r Reporter) *events.TransferEvent {
	started := false
	for ev := range ch {
		te, ok := ev.(*events.TransferEvent)
		if !ok || te.Token != token {
			continue
		}
		if !started {
			r.Start(fmt.Sprintf("%-8s %s", te.Direction, truncatePath(te.LocalPath, 2)))
			started = true
		}
		switch te.Type() {
		case events.EventTransferProgress:
			r.Update(te.Progress)
		case events.EventTransferCompleted:
			r.Update(100)
			r.Finish()
			return te
		case events.EventTransferFailed:
			r.Error(te.Error)
			return te
		case events.EventTransferPaused, events.EventTransferDiscarded:
			return te
		}
	}
	return nil
}

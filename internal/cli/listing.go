package cli

import (
	"fmt"
	"io"

	"github.com/gobwas/glob"

	"github.com/ftphandler/ftp-handler/internal/localfs"
	"github.com/ftphandler/ftp-handler/internal/transport"
)

// compileMatch compiles a --match pattern. An empty pattern matches all.
func compileMatch(pattern string) (glob.Glob, error) {
	if pattern == "" {
		return nil, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return g, nil
}

// filterEntries keeps the entries whose name matches g. Directories always
// stay so the listing remains navigable.
func filterEntries(entries []transport.Entry, g glob.Glob) []transport.Entry {
	if g == nil {
		return entries
	}
	out := make([]transport.Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || g.Match(e.Name) {
			out = append(out, e)
		}
	}
	return out
}

func printEntries(w io.Writer, dir string, entries []transport.Entry) {
	fmt.Fprintf(w, "%s\n", dir)
	if len(entries) == 0 {
		fmt.Fprintln(w, "  (empty)")
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(w, "  %-4s %10s  %s/\n", e.Kind, "-", e.Name)
			continue
		}
		fmt.Fprintf(w, "  %-4s %10s  %s\n", e.Kind, formatBytes(int64(e.Size)), e.Name)
	}
}

func printLocalEntries(w io.Writer, dir string, entries []localfs.FileEntry) {
	fmt.Fprintf(w, "%s\n", dir)
	if len(entries) == 0 {
		fmt.Fprintln(w, "  (empty)")
		return
	}
	for _, e := range entries {
		if e.IsDir {
			fmt.Fprintf(w, "  %-4s %10s  %s  %s/\n", "dir", "-", e.ModTime.Format("2006-01-02 15:04"), e.Name)
			continue
		}
		fmt.Fprintf(w, "  %-4s %10s  %s  %s\n", "file", formatBytes(e.Size), e.ModTime.Format("2006-01-02 15:04"), e.Name)
	}
}

// formatBytes returns a human-readable byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

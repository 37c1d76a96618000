package cli

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ftphandler/ftp-handler/internal/config"
	"github.com/ftphandler/ftp-handler/internal/transfer"
)

// prompter reads answers from one shared reader, so the shell and the
// prompts it triggers never compete for buffered stdin.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	br, ok := in.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(in)
	}
	return &prompter{in: br, out: out}
}

func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// downloadConflict asks what to do when a download destination exists.
// A closed input answers Cancel.
func (p *prompter) downloadConflict(localPath string) transfer.CollisionChoice {
	fmt.Fprintf(p.out, "\n⚠️  File '%s' already exists in '%s'.\n", filepath.Base(localPath), filepath.Dir(localPath))
	fmt.Fprintln(p.out, "What would you like to do?")
	fmt.Fprintln(p.out, "  1. Overwrite - Replace the existing file")
	fmt.Fprintln(p.out, "  2. Rename - Keep both, prefix the new file with a timestamp")
	fmt.Fprintln(p.out, "  3. Cancel - Do not download")
	fmt.Fprint(p.out, "Choose [1-3]: ")

	input, err := p.readLine()
	if err != nil {
		return transfer.Cancel
	}
	switch input {
	case "1":
		return transfer.Overwrite
	case "2":
		return transfer.Rename
	case "3":
		return transfer.Cancel
	default:
		fmt.Fprintln(p.out, "Invalid choice, please try again.")
		return p.downloadConflict(localPath)
	}
}

// confirm asks a yes/no question; anything but y/yes is no.
func (p *prompter) confirm(question string) bool {
	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	input, err := p.readLine()
	if err != nil {
		return false
	}
	input = strings.ToLower(input)
	return input == "y" || input == "yes"
}

// conflictPolicy maps an on_conflict setting to a policy. "ask" prompts.
func conflictPolicy(name string, p *prompter) (transfer.CollisionPolicy, error) {
	if strings.EqualFold(name, config.ConflictAsk) {
		return transfer.PolicyFunc(p.downloadConflict), nil
	}
	choice, err := transfer.ParseChoice(name)
	if err != nil {
		return nil, fmt.Errorf("invalid --on-conflict: %w", err)
	}
	return transfer.FixedPolicy(choice), nil
}

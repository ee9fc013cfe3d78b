// Package prompt reads secrets from the controlling terminal.
package prompt

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// Terminal asks for a password on a terminal with echo disabled
type Terminal struct {
	in     *os.File
	out    io.Writer
	label  string
	isTerm func(fd uintptr) bool
	read   func(fd int) ([]byte, error)
}

// NewTerminal creates a prompt reading from stdin and writing the label to
// stderr.
func NewTerminal(label string) *Terminal {
	return &Terminal{
		in:     os.Stdin,
		out:    os.Stderr,
		label:  label,
		isTerm: isTerminal,
		read:   term.ReadPassword,
	}
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Password reads one line without echo. It returns "" without prompting
// when stdin is not a terminal.
func (t *Terminal) Password(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !t.isTerm(t.in.Fd()) {
		return "", nil
	}

	_, _ = fmt.Fprint(t.out, t.label)
	password, err := t.read(int(t.in.Fd()))
	_, _ = fmt.Fprintln(t.out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

// Package report prints the human-readable run summary.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	createStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	updateStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	deleteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Printer writes progress and summary lines for a run. A quiet printer
// discards everything.
type Printer struct {
	w     io.Writer
	quiet bool
	color bool
}

// New creates a printer writing to w. Colors are used only when w is a
// terminal.
func New(w io.Writer, quiet bool) *Printer {
	return &Printer{
		w:     w,
		quiet: quiet,
		color: isTerminal(w),
	}
}

// Discard returns a printer that prints nothing
func Discard() *Printer {
	return &Printer{w: io.Discard, quiet: true}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Printer) paint(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

func (p *Printer) printf(format string, args ...any) {
	if p.quiet {
		return
	}
	_, _ = fmt.Fprintf(p.w, format, args...)
}

// Section prints a heading line
func (p *Printer) Section(title string) {
	p.printf("%s\n", p.paint(headingStyle, title))
}

// Line prints an indented plain line
func (p *Printer) Line(format string, args ...any) {
	p.printf("  %s\n", fmt.Sprintf(format, args...))
}

// Created prints a created entry
func (p *Printer) Created(name, detail string) {
	p.entry(createStyle, "+", name, detail)
}

// Updated prints an updated entry
func (p *Printer) Updated(name, detail string) {
	p.entry(updateStyle, "~", name, detail)
}

// Deleted prints a deleted entry
func (p *Printer) Deleted(name, detail string) {
	p.entry(deleteStyle, "-", name, detail)
}

func (p *Printer) entry(style lipgloss.Style, symbol, name, detail string) {
	if detail != "" {
		p.printf("  %s %s %s\n", p.paint(style, symbol), name, p.paint(mutedStyle, "("+detail+")"))
		return
	}
	p.printf("  %s %s\n", p.paint(style, symbol), name)
}

// Would prints a dry-run action line such as "Would create: db1"
func (p *Printer) Would(action, name string) {
	p.printf("  Would %s: %s\n", action, name)
}

// Summary prints the non-zero counts joined by commas, or fallback when all
// counts are zero.
func (p *Printer) Summary(counts []Count, fallback string) {
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		if c.N > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.N, c.Label))
		}
	}
	if len(parts) == 0 {
		if fallback != "" {
			p.Line("%s", fallback)
		}
		return
	}
	p.Line("%s", strings.Join(parts, ", "))
}

// Count is a labelled number in a summary line
type Count struct {
	N     int
	Label string
}

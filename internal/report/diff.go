package report

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffContext is the number of unchanged lines kept around each change
const diffContext = 2

// LineDiff renders a line-based diff of before and after. Changed lines are
// prefixed with "-" or "+", unchanged lines with a space, and long unchanged
// runs are collapsed to "...". Returns "" when the texts are equal.
func LineDiff(before, after string) string {
	if before == after {
		return ""
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	type line struct {
		op   diffmatchpatch.Operation
		text string
	}
	var all []line
	for _, d := range diffs {
		for _, l := range strings.SplitAfter(d.Text, "\n") {
			if l == "" {
				continue
			}
			all = append(all, line{op: d.Type, text: strings.TrimSuffix(l, "\n")})
		}
	}

	keep := make([]bool, len(all))
	for i, l := range all {
		if l.op == diffmatchpatch.DiffEqual {
			continue
		}
		for j := i - diffContext; j <= i+diffContext; j++ {
			if j >= 0 && j < len(all) {
				keep[j] = true
			}
		}
	}

	var sb strings.Builder
	skipped := false
	for i, l := range all {
		if !keep[i] {
			if !skipped {
				sb.WriteString("...\n")
				skipped = true
			}
			continue
		}
		skipped = false
		switch l.op {
		case diffmatchpatch.DiffInsert:
			sb.WriteString("+")
		case diffmatchpatch.DiffDelete:
			sb.WriteString("-")
		default:
			sb.WriteString(" ")
		}
		sb.WriteString(l.text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Diff prints the line diff of before and after, colored when enabled
func (p *Printer) Diff(before, after string) {
	out := LineDiff(before, after)
	if out == "" {
		p.Line("(no changes to the rclone config)")
		return
	}
	for _, l := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
		switch {
		case strings.HasPrefix(l, "+"):
			p.printf("%s\n", p.paint(createStyle, l))
		case strings.HasPrefix(l, "-"):
			p.printf("%s\n", p.paint(deleteStyle, l))
		default:
			p.printf("%s\n", p.paint(mutedStyle, l))
		}
	}
}

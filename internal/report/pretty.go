package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// WritePretty renders findings as a colorized tree, grouped by path, in
// the console-output style of nabbar-golib's console package: a color
// handle per severity, falling back to plain text when color is
// disabled (e.g. not a TTY).
func WritePretty(w io.Writer, findings []Finding, useColor bool) {
	var (
		hit       *color.Color
		suppressed *color.Color
		path      *color.Color
	)
	if useColor {
		hit = color.New(color.FgRed, color.Bold)
		suppressed = color.New(color.FgYellow)
		path = color.New(color.FgCyan)
	}

	byPath := map[string][]Finding{}
	var order []string
	for _, f := range findings {
		if _, ok := byPath[f.Path]; !ok {
			order = append(order, f.Path)
		}
		byPath[f.Path] = append(byPath[f.Path], f)
	}

	for _, p := range order {
		if path != nil {
			_, _ = path.Fprintln(w, p)
		} else {
			_, _ = fmt.Fprintln(w, p)
		}

		for _, f := range byPath[p] {
			line := fmt.Sprintf("  [%s] offset=%d confidence=%d", f.Source.RuleID, f.Location.Offset, f.Confidence)
			if f.Location.Line != nil {
				line += fmt.Sprintf(" line=%d", *f.Location.Line)
			}

			switch {
			case f.Ignored != nil:
				line += fmt.Sprintf(" ignored=%q", f.Ignored.Reason)
				if suppressed != nil {
					_, _ = suppressed.Fprintln(w, line)
				} else {
					_, _ = fmt.Fprintln(w, line)
				}
			default:
				if hit != nil {
					_, _ = hit.Fprintln(w, line)
				} else {
					_, _ = fmt.Fprintln(w, line)
				}
			}
		}
	}
}

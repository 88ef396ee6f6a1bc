// Package ui renders CLI output: styled text, durations, progress bars and
// day arguments.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Printer writes styled lines to out. Styling is dropped when out is not a
// terminal or NO_COLOR is set.
type Printer struct {
	out io.Writer
	r   *lipgloss.Renderer

	title   lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	errorS  lipgloss.Style
	muted   lipgloss.Style
	bold    lipgloss.Style
}

// NewPrinter creates a printer for out.
func NewPrinter(out io.Writer) *Printer {
	r := lipgloss.NewRenderer(out)
	if !IsTerminal(out) || os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Printer{
		out:     out,
		r:       r,
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		success: r.NewStyle().Foreground(lipgloss.Color("10")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("11")),
		errorS:  r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		bold:    r.NewStyle().Bold(true),
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of out, or fallback.
func (p *Printer) Width(fallback int) int {
	if f, ok := p.out.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return fallback
}

// Title prints a heading line.
func (p *Printer) Title(format string, args ...any) {
	fmt.Fprintln(p.out, p.title.Render(fmt.Sprintf(format, args...)))
}

// Success prints a confirmation line prefixed with a check mark.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.out, p.success.Render("✓ ")+fmt.Sprintf(format, args...))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.out, p.warn.Render("! ")+fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	fmt.Fprintln(p.out, p.errorS.Render("Error: ")+fmt.Sprintf(format, args...))
}

// Line prints an unstyled line.
func (p *Printer) Line(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Muted renders s dimmed.
func (p *Printer) Muted(s string) string {
	return p.muted.Render(s)
}

// Bold renders s in bold.
func (p *Printer) Bold(s string) string {
	return p.bold.Render(s)
}

// Swatch renders a colored dot for an activity color such as "#FF8800".
func (p *Printer) Swatch(hex string) string {
	if hex == "" {
		return " "
	}
	return p.r.NewStyle().Foreground(lipgloss.Color(hex)).Render("●")
}

// Table prints rows as left-aligned columns.
func (p *Printer) Table(header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	renderRow := func(cells []string) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			pad := 0
			if i < len(widths) {
				pad = widths[i] - lipgloss.Width(cell)
			}
			parts[i] = cell + strings.Repeat(" ", max(pad, 0))
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	fmt.Fprintln(p.out, p.bold.Render(renderRow(header)))
	for _, row := range rows {
		fmt.Fprintln(p.out, renderRow(row))
	}
}

// ProgressBar renders fraction (clamped to [0, 1]) as a bar width cells wide.
func ProgressBar(fraction float64, width int) string {
	if width <= 0 {
		width = 20
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

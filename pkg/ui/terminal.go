// Package ui formats the CLI's human-facing output.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"
)

// Banner is printed by commands that start long-running work
const Banner = `
  ╔═══════════════════════════════════════════════╗
  ║  igautomate · instagram call budget tracker   ║
  ╚═══════════════════════════════════════════════╝
`

// Printer writes colored status lines. Color is dropped when disabled or
// when the output is not a terminal.
type Printer struct {
	out   io.Writer
	color bool
}

// NewPrinter returns a printer for out. Color is enabled only for a
// terminal and when noColor is false.
func NewPrinter(out io.Writer, noColor bool) *Printer {
	color := !noColor
	if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		color = false
	}
	return &Printer{out: out, color: color}
}

func (p *Printer) paint(code, text string) string {
	if !p.color {
		return text
	}
	return "\033[" + code + "m" + text + "\033[0m"
}

func (p *Printer) Cyan(s string) string    { return p.paint("36", s) }
func (p *Printer) Yellow(s string) string  { return p.paint("33", s) }
func (p *Printer) Red(s string) string     { return p.paint("31", s) }
func (p *Printer) Green(s string) string   { return p.paint("32", s) }
func (p *Printer) Magenta(s string) string { return p.paint("35", s) }
func (p *Printer) Dim(s string) string     { return p.paint("2", s) }

// Writer returns the underlying output
func (p *Printer) Writer() io.Writer {
	return p.out
}

// PrintBanner prints the banner in cyan
func (p *Printer) PrintBanner() {
	fmt.Fprint(p.out, p.Cyan(Banner))
}

// Error prints an error message in red, with an optional detail
func (p *Printer) Error(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg += ": " + fmt.Sprintf("%v", args[0])
	}
	fmt.Fprintln(p.out, p.Red(msg))
}

// Success prints a success message in green
func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.out, p.Green(msg))
}

// Info prints a label/value pair
func (p *Printer) Info(label, value string) {
	fmt.Fprintf(p.out, "%s: %s\n", p.Cyan(label), p.Yellow(value))
}

// Warning prints a warning message in yellow, with an optional detail
func (p *Printer) Warning(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg += ": " + fmt.Sprintf("%v", args[0])
	}
	fmt.Fprintln(p.out, p.Yellow(msg))
}

// Highlight prints a heading in magenta
func (p *Printer) Highlight(msg string) {
	fmt.Fprintln(p.out, p.Magenta(msg))
}

// List prints items as an indented bullet list
func (p *Printer) List(items []string) {
	for _, it := range items {
		fmt.Fprintf(p.out, "  - %s\n", it)
	}
}

// Table prints key/value rows sorted by key with aligned values
func (p *Printer) Table(rows map[string]string) {
	keys := make([]string, 0, len(rows))
	width := 0
	for k := range rows {
		keys = append(keys, k)
		width = max(width, len(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(p.out, "  %s%s  %s\n", p.Cyan(k), strings.Repeat(" ", width-len(k)), rows[k])
	}
}

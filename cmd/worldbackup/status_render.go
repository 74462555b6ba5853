package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"worldbackup/internal/cycle"
	"worldbackup/internal/preflight"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset = "\x1b[0m"
	ansiBlue  = "\x1b[34m"
)

var statusKinds = map[statusKind]struct{ label, color string }{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", "\x1b[32m"},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

const statusLabelWidth = 20

// statusPrinter writes the sectioned status report. Colors are only used on
// terminals.
type statusPrinter struct {
	out      io.Writer
	colorize bool
}

func newStatusPrinter(out io.Writer) statusPrinter {
	return statusPrinter{out: out, colorize: shouldColorize(out)}
}

func (p statusPrinter) section(title string) {
	heading := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(heading))
	if p.colorize {
		heading, rule = ansiBlue+heading+ansiReset, ansiBlue+rule+ansiReset
	}
	fmt.Fprintln(p.out, heading)
	fmt.Fprintln(p.out, rule)
}

func (p statusPrinter) line(label string, kind statusKind, message string) {
	fmt.Fprintln(p.out, formatStatusLine(label, kind, message, p.colorize))
}

func (p statusPrinter) check(result preflight.Result) {
	kind := statusOK
	if !result.Passed {
		kind = statusError
	}
	p.line(result.Name, kind, result.Detail)
}

func (p statusPrinter) outcome(label string, out cycle.Outcome) {
	kind := statusError
	switch {
	case out.Kind == cycle.Success:
		kind = statusOK
	case out.Kind.Skipped():
		kind = statusWarn
	}
	detail := string(out.Kind)
	if out.Reason != "" {
		detail += ": " + out.Reason
	}
	p.line(label, kind, detail)
}

func formatStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style := statusKinds[kind]
	badge := "[" + style.label + "]"
	if message != "" {
		badge += " " + message
	}
	text := fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", badge)
	if colorize {
		return style.color + text + ansiReset
	}
	return text
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

// Package cliutil holds small helpers shared by cmd/ostrepo's subcommands:
// human-readable size parsing and colored, isatty-gated summary printing.
package cliutil

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ParseSize parses a human-readable size string ("100", "1K", "10M", "1GiB").
func ParseSize(s string) (int64, error) {
	bytes, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(bytes), nil
}

// colorsEnabled reports whether w is a terminal that should receive ANSI
// color codes — checked once per call rather than cached, since tests
// redirect stderr to a buffer mid-run.
func colorsEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// PrintSummary writes a one-line "label: value" summary to w, coloring
// value green when w is a terminal and leaving it plain otherwise — the
// same gate cobra/CLI tools in this lineage use before touching
// fatih/color, since piping output to a file or another program should
// never embed escape codes.
func PrintSummary(w io.Writer, label, value string) {
	if colorsEnabled(w) {
		green := color.New(color.FgGreen, color.Bold)
		fmt.Fprintf(w, "%s: %s\n", label, green.Sprint(value))
		return
	}
	fmt.Fprintf(w, "%s: %s\n", label, value)
}

// PrintError writes a one-line "error: message" line to w, in red when w
// is a terminal.
func PrintError(w io.Writer, err error) {
	if colorsEnabled(w) {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintf(w, "%s %v\n", red.Sprint("error:"), err)
		return
	}
	fmt.Fprintf(w, "error: %v\n", err)
}

// FormatBytes renders n bytes in human-readable SI units ("1.2 MB"
// rather than a raw byte count).
func FormatBytes(n int64) string {
	return humanize.Bytes(uint64(n))
}

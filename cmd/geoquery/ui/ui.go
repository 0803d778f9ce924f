// Package ui provides terminal output helpers for the geoquery CLI.
package ui

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

var verbose bool

// Init applies the global output flags.
func Init(noColor, verboseFlag bool) {
	if noColor {
		color.NoColor = true
	}
	verbose = verboseFlag
}

// Info prints an informational message.
func Info(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}

// Success prints a success message in green.
func Success(format string, args ...interface{}) {
	color.Green(format, args...)
}

// Warn prints a warning message in yellow.
func Warn(format string, args ...interface{}) {
	color.Yellow(format, args...)
}

// Error prints an error message in red to stderr.
func Error(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, color.RedString(format, args...))
}

// Debug prints only when verbose output is enabled.
func Debug(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}

// Section prints a bold section heading.
func Section(title string) {
	fmt.Println()
	color.New(color.Bold).Println(title)
}

// Table displays data in a formatted table.
func Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))

	separator := make([]string, len(headers))
	for i := range separator {
		separator[i] = strings.Repeat("-", len(headers[i]))
	}
	fmt.Fprintln(w, strings.Join(separator, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	_ = w.Flush()
}

// Spinner wraps a spinner instance for indeterminate progress display.
type Spinner struct {
	spinner *spinner.Spinner
}

// NewSpinner creates a new spinner with the given message.
func NewSpinner(message string) *Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	return &Spinner{spinner: s}
}

// Start starts the spinner animation.
func (s *Spinner) Start() {
	s.spinner.Start()
}

// Stop stops the spinner animation and clears the line.
func (s *Spinner) Stop() {
	s.spinner.Stop()
}

// Package peerlog is a thin wrapper over the standard library's log
// package carrying the teacher's bracketed-severity-tag convention
// (log.Printf("[INFO]\t...")) and the color-per-severity idea from
// original_source/Client2.py's update_gui_log(msg, color), which tagged
// log lines red/blue/cyan/yellow for a Tkinter log widget. There is no
// GUI here (out of scope), so the color is applied directly to the
// bracketed tag as ANSI escape codes in the standard logger's output,
// whether or not that output is a terminal.
package peerlog

import (
	"fmt"
	"log"

	"github.com/mitchellh/colorstring"
)

// Info logs an informational message, colored blue.
func Info(format string, args ...any) {
	logTagged("[blue][INFO][reset]", format, args...)
}

// Warn logs a recoverable-failure message, colored yellow, matching the
// teacher's "[FAIL]" tag (transient peer errors, retries).
func Warn(format string, args ...any) {
	logTagged("[yellow][FAIL][reset]", format, args...)
}

// Error logs a hard failure, colored red, matching the teacher's
// "[ERROR]" tag.
func Error(format string, args ...any) {
	logTagged("[red][ERROR][reset]", format, args...)
}

func logTagged(tag, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Print(colorstring.Color(tag) + "\t" + msg)
}

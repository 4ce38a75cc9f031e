// Package logging provides the prefixed, leveled console output used across
// the daemon: "[Prefix]: message" lines with color-coded prefixes.
package logging

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
)

var (
	infoPrefix  = color.New(color.FgCyan).SprintFunc()
	warnPrefix  = color.New(color.FgYellow).SprintFunc()
	errorPrefix = color.New(color.FgRed, color.Bold).SprintFunc()

	std = log.New(os.Stdout, "", log.LstdFlags)
)

// Info logs a routine message tagged with the given component prefix.
func Info(prefix, format string, args ...interface{}) {
	std.Printf("[%s]: %s", infoPrefix(prefix), fmt.Sprintf(format, args...))
}

// Warn logs a recoverable problem tagged with the given component prefix.
func Warn(prefix, format string, args ...interface{}) {
	std.Printf("[%s]: %s", warnPrefix(prefix), fmt.Sprintf(format, args...))
}

// Error logs a failure tagged with the given component prefix.
func Error(prefix, format string, args ...interface{}) {
	std.Printf("[%s]: %s", errorPrefix(prefix), fmt.Sprintf(format, args...))
}

// Package debugger drives a CDB/WinDbg subprocess over redirected pipes.
//
// Completion of a command is never inferred from debugger prompts alone.
// Each command is followed by a `.echo` sentinel; the echoed tag (or an
// ultra-safe marker such as a syntax-error caret or a ModLoad line) is the
// only authoritative signal that the debugger finished processing input.
package debugger

import (
	"regexp"
	"strings"
)

var (
	// promptPattern matches the CDB ready-for-input prompt, e.g. "0:000>" or
	// "3:017:x86> ". The thread field is always three digits; an optional
	// process-name suffix may follow.
	promptPattern = regexp.MustCompile(`^\s*\d+:\d{3}(:\w+)?>\s*.*$`)

	// ultraSafePattern matches lines that unambiguously indicate the
	// debugger has processed input: the syntax-error caret and module
	// load/unload announcements.
	ultraSafePattern = regexp.MustCompile(`(?i)^\s*(\^|mod(un)?load:)`)
)

// IsPrompt reports whether line is a debugger prompt.
func IsPrompt(line string) bool {
	return promptPattern.MatchString(line)
}

// IsUltraSafeCompletion reports whether line is an ultra-safe completion
// marker: a caret-prefixed syntax error or a ModLoad:/ModUnload: line.
func IsUltraSafeCompletion(line string) bool {
	return ultraSafePattern.MatchString(line)
}

// MatchesSentinel reports whether line is exactly the sentinel tag after
// trimming surrounding whitespace.
func MatchesSentinel(line, tag string) bool {
	return strings.TrimSpace(line) == tag
}

package debugger

import "testing"

func TestIsPrompt(t *testing.T) {
	tests := []struct {
		name string
		line string
		want bool
	}{
		{"basic prompt", "0:000> ", true},
		{"kernel-style processor", "3:017> ", true},
		{"thread-qualified prompt", "0:000:x86> ", true},
		{"prompt with trailing command echo", "0:000> k", true},
		{"leading whitespace", "  1:002> ", true},
		{"no digits", ":000> ", false},
		{"missing thread digits", "0:> ", false},
		{"two-digit thread", "0:00> ", false},
		{"plain output", "Loading Dump File", false},
		{"empty", "", false},
		{"prompt-like mid-sentence", "value 0:000> here", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPrompt(tt.line); got != tt.want {
				t.Errorf("IsPrompt(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestIsUltraSafeCompletion(t *testing.T) {
	tests := []struct {
		name string
		line string
		want bool
	}{
		{"caret error", "^ Syntax error in 'xyz'", true},
		{"caret with leading spaces", "   ^ Extra character error", true},
		{"modload", "ModLoad: 00007ff8`00000000 ntdll.dll", true},
		{"modunload", "ModUnload: 00007ff8`00000000 ntdll.dll", true},
		{"lowercase modload", "modload: something", true},
		{"modload mid-line", "note ModLoad: x", false},
		{"plain output", "Symbol search path is: srv*", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUltraSafeCompletion(tt.line); got != tt.want {
				t.Errorf("IsUltraSafeCompletion(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestMatchesSentinel(t *testing.T) {
	tag := "NEXUS-SENTINEL-sess-000001-abcd1234-1-deadbeef"

	if !MatchesSentinel(tag, tag) {
		t.Error("exact tag should match")
	}
	if !MatchesSentinel("  "+tag+"  ", tag) {
		t.Error("surrounding whitespace should be ignored")
	}
	if MatchesSentinel(tag+" trailing", tag) {
		t.Error("extra content should not match")
	}
	if MatchesSentinel(".echo "+tag, tag) {
		t.Error("the echo command itself should not match")
	}
	if MatchesSentinel("", tag) {
		t.Error("empty line should not match")
	}
}

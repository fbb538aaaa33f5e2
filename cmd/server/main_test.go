package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestModesCommand(t *testing.T) {
	var out bytes.Buffer
	modesCmd.SetOut(&out)
	if err := modesCmd.RunE(modesCmd, nil); err != nil {
		t.Fatalf("modes: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("Expected header plus 4 modes, got %d lines:\n%s", len(lines), out.String())
	}
	for i, mode := range []string{"ask", "plan", "debug", "execute"} {
		if !strings.HasPrefix(lines[i+1], mode) {
			t.Errorf("Line %d: expected %s, got %q", i+1, mode, lines[i+1])
		}
	}
	if !strings.Contains(lines[4], "yes") {
		t.Errorf("Expected execute to require approval: %q", lines[4])
	}
}

func TestApplyLogLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"warn":  zerolog.WarnLevel,
		"":      zerolog.InfoLevel,
		"loud":  zerolog.InfoLevel,
	}
	for name, want := range tests {
		if got := applyLogLevel(name); got != want {
			t.Errorf("applyLogLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

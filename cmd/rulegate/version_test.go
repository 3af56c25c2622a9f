package main

import (
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = origVersion, origCommit })
	Version = "0.1.0-test"
	GitCommit = "abc123"

	cmd, out := newTestCommand(t)
	versionCmd.Run(cmd, nil)

	for _, want := range []string{"Rulegate 0.1.0-test", "Git Commit: abc123", "Go Version:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"adaptation", "audit", "bench", "completion", "doctor", "eval", "feedback", "lint", "override", "stream", "test", "version"}
	have := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("command %q is not registered", name)
		}
	}
}

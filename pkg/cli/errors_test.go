package cli

import (
	"errors"
	"fmt"
	"testing"
)

func TestCommandError(t *testing.T) {
	cause := errors.New("2 rules invalid")
	err := NewCommandError("lint", cause)

	if err.Error() != "command lint failed: 2 rules invalid" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("CommandError should unwrap to its cause")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"command error", NewCommandError("test", errors.New("failures")), ExitFailure},
		{"plain error", errors.New("boom"), ExitFailure},
		{"usage error", NewUsageError("either --file or --dir must be specified"), ExitUsage},
		{"wrapped usage error", fmt.Errorf("lint: %w", NewUsageError("bad flag")), ExitUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

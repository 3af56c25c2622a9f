package cli

import (
	"errors"
	"fmt"
)

// Exit codes returned by the rulegate command.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// CommandError is a command that ran but failed, for example a lint run that
// found invalid rules or a test run with failing cases.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UsageError is an invalid combination of flags or arguments.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// NewUsageError creates a new UsageError.
func NewUsageError(message string) *UsageError {
	return &UsageError{Message: message}
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsage
	}
	return ExitFailure
}

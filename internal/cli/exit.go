package cli

import (
	"errors"

	"github.com/hupe1980/flashsim"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitUsageError     = 2
	ExitPanic          = 3
	ExitConfigError    = 10
	ExitInvariantError = 11
)

// ErrInvalidConfig marks configuration problems.
var ErrInvalidConfig = errors.New("invalid configuration")

// UsageError is returned for malformed arguments or flags.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

// ExitCodeForError maps an error returned by a command to a process exit code.
func ExitCodeForError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	switch {
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, flashsim.ErrConfigNotFound):
		return ExitConfigError
	case errors.Is(err, flashsim.ErrInvariantViolation):
		return ExitInvariantError
	default:
		return ExitGeneralError
	}
}

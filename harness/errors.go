package harness

import (
	"errors"
	"fmt"
)

// ErrEmptyRegistry is returned by New for a registry without scenarios.
var ErrEmptyRegistry = errors.New("harness: no scenarios registered")

// InvariantError reports a failed scenario check.
//
// The underlying check error can be accessed via errors.Unwrap.
type InvariantError struct {
	Scenario string
	// Iteration is the number of completed perform iterations when the check
	// ran; 0 means right after setup.
	Iteration int
	Err       error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("harness: %s invariant violated after iteration %d: %v", e.Scenario, e.Iteration, e.Err)
}

func (e *InvariantError) Unwrap() error { return e.Err }

// PhaseError reports an unexpected failure outside of a check: a mount,
// format or scenario action returning an error that is not capacity
// exhaustion.
type PhaseError struct {
	Phase     string
	Scenario  string // empty for filesystem lifecycle failures
	Iteration int
	Err       error
}

func (e *PhaseError) Error() string {
	if e.Scenario == "" {
		return fmt.Sprintf("harness: %s (iteration %d): %v", e.Phase, e.Iteration, e.Err)
	}
	return fmt.Sprintf("harness: %s %s (iteration %d): %v", e.Phase, e.Scenario, e.Iteration, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// IsInvariantViolation reports whether err contains an InvariantError.
func IsInvariantViolation(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

package harness

import (
	"errors"
	"fmt"

	"github.com/hupe1980/flashsim/vfs"
)

// Scenario is one crash-safety pattern.
type Scenario struct {
	// Name identifies the scenario in reports and logs.
	Name string

	// Setup prepares the initial files on a freshly mounted filesystem.
	Setup func(fsys vfs.FileSystem) error

	// Perform runs one step of the pattern. exhausted reports that the
	// filesystem ran out of space; err is reserved for unexpected failures.
	Perform func(fsys vfs.FileSystem) (exhausted bool, err error)

	// Check verifies the invariant. It must not modify the filesystem.
	Check func(fsys vfs.FileSystem) error
}

// ErrDuplicateScenario is returned when a scenario name is registered twice.
var ErrDuplicateScenario = errors.New("harness: duplicate scenario")

// ErrIncompleteScenario is returned for scenarios missing a name or a phase.
var ErrIncompleteScenario = errors.New("harness: incomplete scenario")

// Registry is an ordered list of scenarios. Phases visit scenarios in
// registration order.
type Registry struct {
	scenarios []Scenario
	names     map[string]struct{}
}

// NewRegistry returns a registry holding the given scenarios.
func NewRegistry(scenarios ...Scenario) (*Registry, error) {
	r := &Registry{names: make(map[string]struct{})}
	for _, s := range scenarios {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
func MustRegistry(scenarios ...Scenario) *Registry {
	r, err := NewRegistry(scenarios...)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultRegistry returns the swap-rename and counter scenarios.
func DefaultRegistry() *Registry {
	return MustRegistry(SwapRename(), Counter())
}

// Register appends s.
func (r *Registry) Register(s Scenario) error {
	if s.Name == "" || s.Setup == nil || s.Perform == nil || s.Check == nil {
		return fmt.Errorf("%w: %q", ErrIncompleteScenario, s.Name)
	}
	if _, dup := r.names[s.Name]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateScenario, s.Name)
	}
	r.names[s.Name] = struct{}{}
	r.scenarios = append(r.scenarios, s)
	return nil
}

// Len returns the number of scenarios.
func (r *Registry) Len() int { return len(r.scenarios) }

// Names returns the scenario names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.scenarios))
	for i, s := range r.scenarios {
		names[i] = s.Name
	}
	return names
}

// Scenarios returns a copy of the registered scenarios.
func (r *Registry) Scenarios() []Scenario {
	return append([]Scenario(nil), r.scenarios...)
}

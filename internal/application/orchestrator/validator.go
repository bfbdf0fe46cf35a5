package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownOrchestrator is returned when starting a name that is not registered
var ErrUnknownOrchestrator = errors.New("unknown orchestrator")

// DefaultActivity is the activity every registered orchestrator calls
const DefaultActivity = "say_hello"

// Validator validates start requests against the registered orchestrators
type Validator struct {
	// orchestrator name (lower-cased) -> activity name
	orchestrators map[string]string
}

// NewValidator registers the given orchestrator names, each calling DefaultActivity
func NewValidator(names []string) *Validator {
	v := &Validator{orchestrators: make(map[string]string, len(names))}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		v.orchestrators[strings.ToLower(name)] = DefaultActivity
	}
	return v
}

// Validate checks that an orchestrator name is registered. Names match case-insensitively.
func (v *Validator) Validate(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("orchestrator name is required")
	}
	if _, ok := v.orchestrators[strings.ToLower(name)]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrchestrator, name)
	}
	return nil
}

// ActivityFor returns the activity an orchestrator calls
func (v *Validator) ActivityFor(name string) string {
	return v.orchestrators[strings.ToLower(name)]
}

// Names returns the registered orchestrator names, sorted
func (v *Validator) Names() []string {
	names := make([]string, 0, len(v.orchestrators))
	for name := range v.orchestrators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Package uicontract names the machine-readable hooks the UI exposes to
// automated drivers. The page renders these and the harness drivers query
// them; neither side hardcodes the strings.
package uicontract

import "fmt"

// TestIDAttr is the attribute carrying each element's stable identifier
const TestIDAttr = "data-testid"

// Element identifiers
const (
	StartButton   = "start-orchestration"
	StatusURL     = "status-url"
	CheckButton   = "check-status"
	RuntimeStatus = "runtime-status"
	Alert         = "alert"
)

// Value attributes hold the raw machine-readable value of an element,
// independent of its display text
const (
	StatusURLAttr     = "data-status-url"
	RuntimeStatusAttr = "data-runtime-status"
)

// Selector returns the CSS selector of the element with the given identifier
func Selector(id string) string {
	return fmt.Sprintf(`[%s="%s"]`, TestIDAttr, id)
}

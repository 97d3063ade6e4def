package engine

import "fmt"

// InvariantViolationError reports a state the engine must never reach,
// such as two simultaneous broker positions or an illegal tracker
// transition. It is fatal: the live loop halts instead of trading on
// state it cannot trust.
type InvariantViolationError struct {
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Reason)
}

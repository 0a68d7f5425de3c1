// Package fault defines the unrecoverable error type used for invariant
// violations: cycle introduction, type mismatches, duplicate registrations,
// misuse of the scheduler's suppression slot. These indicate a defect in
// wiring, not a runtime condition to recover from, so they are raised with
// panic and recovered exactly once at the top level of the binary.
//
// Transient conditions (network failures, timeouts, missing data files) are
// never faults; they travel as ordinary error values.
package fault

import "fmt"

// Invariant is the payload carried by a fault panic.
type Invariant struct {
	msg string
}

// Error implements the error interface.
func (e *Invariant) Error() string {
	return e.msg
}

// Failf raises an invariant-violation panic with a formatted message.
func Failf(format string, args ...any) {
	panic(&Invariant{msg: fmt.Sprintf(format, args...)})
}

// AsInvariant reports whether a recovered panic value is a fault, returning
// it when so. Top-level recover blocks use this to distinguish wiring defects
// from genuine runtime panics, which are re-raised.
func AsInvariant(r any) (*Invariant, bool) {
	inv, ok := r.(*Invariant)
	return inv, ok
}

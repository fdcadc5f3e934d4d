/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All ledger and store error types in one place. Validation failures are
  not here: they live in the validation package and are returned as
  structured field errors, never as faults.

ERROR CATEGORIES:
  1. Lookup errors - Unknown charge ids (caller programming error)
  2. Store errors - Persistence constraint violations
  3. Invariant errors - A computed charge breaks the money rules

USAGE:
  if errors.Is(err, ledger.ErrChargeNotFound) {
      // 404
  }

SEE ALSO:
  - store.go: Uses these errors
  - charges/service.go: Surfaces these errors to callers
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrChargeNotFound is returned when a referenced charge doesn't exist.
	ErrChargeNotFound = errors.New("charge not found")

	// ErrDuplicateChargeID is returned when inserting a charge whose id is taken.
	ErrDuplicateChargeID = errors.New("duplicate charge id")

	// ErrHistoryRewrite is returned when an update would drop or alter
	// entries already written to a charge's payment history.
	ErrHistoryRewrite = errors.New("payment history is append-only")

	// ErrInvariantViolation is returned when a charge breaks 0 <= paid <= amount.
	ErrInvariantViolation = errors.New("charge invariant violated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the charge that could not be found.
type NotFoundError struct {
	ID ChargeID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("charge not found: %s", e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrChargeNotFound
}

// InvariantError describes which money rule a charge breaks.
type InvariantError struct {
	ID     ChargeID
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("charge %s: %s", e.ID, e.Reason)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing charge.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrChargeNotFound)
}

// CheckInvariants verifies the at-rest money rules of c.
func CheckInvariants(c Charge) error {
	switch {
	case !c.ChargeAmount.IsPositive():
		return &InvariantError{ID: c.ID, Reason: "charge amount must be positive"}
	case c.PaidAmount.IsNegative():
		return &InvariantError{ID: c.ID, Reason: "paid amount is negative"}
	case c.PaidAmount.GreaterThan(c.ChargeAmount):
		return &InvariantError{ID: c.ID, Reason: "paid amount exceeds charge amount"}
	}
	for i, e := range c.PaymentHistory {
		if e.OutstandingAfter.IsNegative() {
			return &InvariantError{ID: c.ID, Reason: fmt.Sprintf("history entry %d has negative outstanding", i)}
		}
	}
	return nil
}

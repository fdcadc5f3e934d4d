/*
Package ledger provides the charge ledger engine.

PURPOSE:
  This package holds the charge data model and the pure state transitions
  that move a charge from one state to the next. Every payment or amount
  correction goes through here, and every journaled event lands in the
  charge's payment history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Charge: One billable event for one student
  - PaymentHistoryEntry: An immutable audit record of one amendment
  - PaymentType: initial / partial / full
  - Status: Derived unpaid / partial / paid view of a charge

DESIGN PRINCIPLES:
  1. Immutability: History entries are never modified, only appended
  2. Precision: Uses decimal.Decimal to avoid floating-point drift
  3. Derived values: Outstanding and Status are computed, never stored
  4. Purity: Engine functions return new charges and never touch their input

USAGE:
  c := ledger.CreateCharge("chg_001", ledger.MustParseAmount("120.00"), decimal.Zero,
      "stu_101", ledger.NewDate(2025, time.January, 5), time.Now())
  c = ledger.RecordPayment(c, ledger.MustParseAmount("30.00"), nil, time.Now())

SEE ALSO:
  - engine.go: Charge creation and amendment transitions
  - store.go: Persistence interface
  - errors.go: Sentinel and structured errors
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ChargeID string
type StudentID string

// =============================================================================
// PAYMENT HISTORY - Append-only audit trail of a charge
// =============================================================================

type PaymentType string

const (
	PaymentInitial PaymentType = "initial" // Charge created with nothing paid
	PaymentPartial PaymentType = "partial" // Balance remains after the event
	PaymentFull    PaymentType = "full"    // Balance reached exactly zero
)

// Valid reports whether t is one of the known payment types.
func (t PaymentType) Valid() bool {
	switch t {
	case PaymentInitial, PaymentPartial, PaymentFull:
		return true
	}
	return false
}

// PaymentHistoryEntry records one amendment event.
// AmountPaid is the increment of this event, not a running total.
type PaymentHistoryEntry struct {
	Date             time.Time
	AmountPaid       decimal.Decimal
	OutstandingAfter decimal.Decimal
	PaymentType      PaymentType
	Notes            string
}

// =============================================================================
// CHARGE
// =============================================================================

type Charge struct {
	ID           ChargeID
	ChargeAmount decimal.Decimal
	PaidAmount   decimal.Decimal
	StudentID    StudentID
	DateCharged  Date

	// PaymentHistory may be nil on charges built outside the engine.
	// A nil history behaves exactly like an empty one.
	PaymentHistory []PaymentHistoryEntry
}

// Outstanding returns the unpaid balance.
func (c Charge) Outstanding() decimal.Decimal {
	return c.ChargeAmount.Sub(c.PaidAmount)
}

// Status derives the payment status from the stored amounts.
func (c Charge) Status() Status {
	switch {
	case c.Outstanding().Sign() <= 0:
		return StatusPaid
	case c.PaidAmount.IsZero():
		return StatusUnpaid
	default:
		return StatusPartial
	}
}

// History returns a copy of the payment history. Never nil.
func (c Charge) History() []PaymentHistoryEntry {
	out := make([]PaymentHistoryEntry, len(c.PaymentHistory))
	copy(out, c.PaymentHistory)
	return out
}

// Clone returns a deep copy of the charge.
func (c Charge) Clone() Charge {
	cp := c
	if c.PaymentHistory != nil {
		cp.PaymentHistory = c.History()
	}
	return cp
}

// withEntry returns a copy of c with entry appended to a fresh history slice,
// so the caller's backing array is never shared.
func (c Charge) withEntry(entry PaymentHistoryEntry) Charge {
	cp := c
	cp.PaymentHistory = make([]PaymentHistoryEntry, 0, len(c.PaymentHistory)+1)
	cp.PaymentHistory = append(cp.PaymentHistory, c.PaymentHistory...)
	cp.PaymentHistory = append(cp.PaymentHistory, entry)
	return cp
}

// =============================================================================
// STATUS - Derived view, never stored
// =============================================================================

type Status string

const (
	StatusUnpaid  Status = "unpaid"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
)

/*
engine.go - Charge state transitions

PURPOSE:
  Given a charge and an amendment, compute the next charge and the history
  entry (if any) to append. These functions are pure: they take the current
  time as an argument, never read the clock, never re-validate, and never
  mutate the charge they are given.

TRANSITIONS:
  CreateCharge              -> exactly one entry (initial / partial / full)
  RecordPayment             -> one entry, amount_paid = the increment
  CorrectChargeAmount       -> one entry, amount_paid = 0
  CorrectPaidAmountDownward -> no entry (silent fix)
  Amend                     -> dispatches to one of the above

PRECONDITIONS:
  Callers run the validation package first. The engine assumes
  0 < payment <= outstanding and 0 <= paid <= amount on its inputs.

STATUS FLOW:
  unpaid ──RecordPayment──▶ partial ──RecordPayment──▶ paid
  Corrections may move a charge backward or sideways.

SEE ALSO:
  - validation/validation.go: The gate in front of every transition
  - charges/service.go: Runs validation, then the engine, then the store
*/
package ledger

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CHARGE IDS
// =============================================================================

const chargeIDPrefix = "chg_"

var chargeIDPattern = regexp.MustCompile(`^chg_(\d+)$`)

// ChargeNumber extracts the numeric suffix of a chg_NNN id.
// Ids that don't follow the pattern count as 0.
func ChargeNumber(id ChargeID) int {
	m := chargeIDPattern.FindStringSubmatch(string(id))
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// FormatChargeID renders n as chg_NNN (at least three digits).
func FormatChargeID(n int) ChargeID {
	return ChargeID(fmt.Sprintf("%s%03d", chargeIDPrefix, n))
}

// NextChargeID returns the id after the highest number in use.
// issuedHighWater is the highest number ever handed out by the store, so
// a deleted charge's id is never issued again.
func NextChargeID(existing []Charge, issuedHighWater int) ChargeID {
	highest := issuedHighWater
	for _, c := range existing {
		if n := ChargeNumber(c.ID); n > highest {
			highest = n
		}
	}
	return FormatChargeID(highest + 1)
}

// =============================================================================
// CREATION
// =============================================================================

// CreateCharge builds a new charge with its single creation entry.
func CreateCharge(id ChargeID, amount, paid decimal.Decimal, student StudentID, dateCharged Date, now time.Time) Charge {
	outstanding := amount.Sub(paid)

	entry := PaymentHistoryEntry{
		Date:             now,
		AmountPaid:       paid,
		OutstandingAfter: outstanding,
	}
	switch {
	case paid.IsZero():
		entry.PaymentType = PaymentInitial
		entry.Notes = "Charge created"
	case paid.GreaterThanOrEqual(amount):
		entry.PaymentType = PaymentFull
		entry.Notes = "Full payment received"
	default:
		entry.PaymentType = PaymentPartial
		entry.Notes = "Initial partial payment"
	}

	return Charge{
		ID:             id,
		ChargeAmount:   amount,
		PaidAmount:     paid,
		StudentID:      student,
		DateCharged:    dateCharged,
		PaymentHistory: []PaymentHistoryEntry{entry},
	}
}

// =============================================================================
// AMENDMENTS
// =============================================================================

// RecordPayment applies an incremental payment and journals it.
// paymentDate, when set, becomes the entry date at local midnight.
func RecordPayment(c Charge, amount decimal.Decimal, paymentDate *Date, now time.Time) Charge {
	next := c
	next.PaidAmount = c.PaidAmount.Add(amount)
	outstanding := next.Outstanding()

	at := now
	if paymentDate != nil && !paymentDate.IsZero() {
		at = paymentDate.Midnight(now.Location())
	}

	return next.withEntry(PaymentHistoryEntry{
		Date:             at,
		AmountPaid:       amount,
		OutstandingAfter: outstanding,
		PaymentType:      typeForBalance(outstanding),
		Notes:            paymentNote(outstanding),
	})
}

// CorrectChargeAmount changes the total owed. Paid amount is untouched.
func CorrectChargeAmount(c Charge, newAmount decimal.Decimal, now time.Time) Charge {
	next := c
	next.ChargeAmount = newAmount
	outstanding := next.Outstanding()

	return next.withEntry(PaymentHistoryEntry{
		Date:             now,
		AmountPaid:       decimal.Zero,
		OutstandingAfter: outstanding,
		PaymentType:      typeForBalance(outstanding),
		Notes: fmt.Sprintf("Charge amount updated from %s to %s",
			FormatAmount(c.ChargeAmount), FormatAmount(newAmount)),
	})
}

// CorrectPaidAmountDownward lowers the paid amount without a history entry.
// Increases are journaled as payments; decreases are silent fixes.
func CorrectPaidAmountDownward(c Charge, newPaid decimal.Decimal) Charge {
	next := c.Clone()
	next.PaidAmount = newPaid
	return next
}

// Change describes an amendment in already-parsed form. Nil fields are unchanged.
type Change struct {
	ChargeAmount *decimal.Decimal // corrected total
	PaidAmount   *decimal.Decimal // resulting cumulative paid amount
	PaymentDate  *Date            // date a payment was received
}

// AmendPath names the transition Amend took.
type AmendPath string

const (
	PathNone             AmendPath = "none"
	PathPayment          AmendPath = "payment"
	PathChargeCorrection AmendPath = "charge_correction"
	PathPaidCorrection   AmendPath = "paid_correction"
)

// Amend dispatches a change to the matching transition.
//
// A paid-amount change wins over a charge-amount change: when both are
// present the new total is applied first and only the payment (or the
// silent downward correction) is evaluated. At most one entry is appended.
func Amend(c Charge, change Change, now time.Time) (Charge, AmendPath) {
	base := c
	amountChanged := change.ChargeAmount != nil && !change.ChargeAmount.Equal(c.ChargeAmount)
	paidChanged := change.PaidAmount != nil && !change.PaidAmount.Equal(c.PaidAmount)

	if paidChanged {
		if amountChanged {
			base.ChargeAmount = *change.ChargeAmount
		}
		delta := change.PaidAmount.Sub(c.PaidAmount)
		if delta.IsPositive() {
			return RecordPayment(base, delta, change.PaymentDate, now), PathPayment
		}
		return CorrectPaidAmountDownward(base, *change.PaidAmount), PathPaidCorrection
	}

	if amountChanged {
		return CorrectChargeAmount(c, *change.ChargeAmount, now), PathChargeCorrection
	}

	return c.Clone(), PathNone
}

// =============================================================================
// HELPERS
// =============================================================================

func typeForBalance(outstanding decimal.Decimal) PaymentType {
	if outstanding.Sign() <= 0 {
		return PaymentFull
	}
	return PaymentPartial
}

func paymentNote(outstanding decimal.Decimal) string {
	if outstanding.IsZero() {
		return "Final payment received - fully paid"
	}
	return fmt.Sprintf("Payment received - %s remaining", FormatAmount(outstanding))
}

/*
Package validation gates every charge mutation.

PURPOSE:
  Parses free-form text from the operator (amounts, dates, student ids) and
  checks it against the money rules. Each validator returns the parsed,
  typed values alongside an ordered list of field errors, so the engine
  never re-parses text.

RULES:
  - At most one error per field; the first failing rule wins
  - Several fields may fail in one run
  - An empty Errors means the input is accepted

PURITY:
  Validators take the reference date as an argument. Identical inputs always
  produce identical results; nothing is mutated.

SEE ALSO:
  - ledger/engine.go: Consumes the parsed values
  - charges/service.go: Calls these before every mutation
*/
package validation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/swim-ledger/ledger"
)

// =============================================================================
// NEW CHARGE
// =============================================================================

// NewChargeInput is a charge as typed by the operator.
type NewChargeInput struct {
	ChargeAmount string
	PaidAmount   string
	StudentID    string
	DateCharged  string
}

// ParsedCharge holds the typed values of an accepted NewChargeInput.
type ParsedCharge struct {
	ChargeAmount decimal.Decimal
	PaidAmount   decimal.Decimal
	StudentID    ledger.StudentID
	DateCharged  ledger.Date
}

// ValidateNewCharge checks a charge-creation candidate against today's date.
func ValidateNewCharge(in NewChargeInput, today ledger.Date) (ParsedCharge, Errors) {
	var (
		errs   Errors
		parsed ParsedCharge
	)

	chargeAmount, _ := parseAmount(in.ChargeAmount)
	chargeOK := true
	if fe := checkChargeAmount(in.ChargeAmount); fe != nil {
		errs = append(errs, *fe)
		chargeOK = false
	} else {
		parsed.ChargeAmount = chargeAmount
	}

	paid, ok := parseAmount(in.PaidAmount)
	switch {
	case !ok:
		errs.add(FieldPaidAmount, KindInvalidAmount, "Paid amount is required and must be a valid number")
	case !ledger.HasValidPlaces(paid):
		errs.add(FieldPaidAmount, KindInvalidAmount, "Paid amount cannot have more than 2 decimal places")
	case paid.IsNegative():
		errs.add(FieldPaidAmount, KindNegativeAmount, "Paid amount cannot be negative")
	case chargeOK && paid.GreaterThan(chargeAmount):
		errs.add(FieldPaidAmount, KindOverpaymentAtCreation, "Paid amount cannot exceed charge amount")
	default:
		parsed.PaidAmount = paid
	}

	student := strings.TrimSpace(in.StudentID)
	if student == "" {
		errs.add(FieldStudentID, KindMissingStudent, "Student is required")
	} else {
		parsed.StudentID = ledger.StudentID(student)
	}

	if d, fe := checkDate(FieldDateCharged, in.DateCharged, today, "Date charged"); fe != nil {
		errs = append(errs, *fe)
	} else {
		parsed.DateCharged = d
	}

	return parsed, errs
}

// =============================================================================
// INCREMENTAL PAYMENT
// =============================================================================

// ValidateIncrementalPayment checks a payment made right now, not a new
// running total. alreadyPaid and chargeAmount describe the charge before it.
func ValidateIncrementalPayment(amountText string, alreadyPaid, chargeAmount decimal.Decimal) (decimal.Decimal, Errors) {
	var errs Errors

	payment, ok := parseAmount(amountText)
	if !ok {
		errs.add(FieldNewPayment, KindInvalidAmount, "Payment amount is required and must be a valid number")
		return decimal.Zero, errs
	}
	if !ledger.HasValidPlaces(payment) {
		errs.add(FieldNewPayment, KindInvalidAmount, "Payment amount cannot have more than 2 decimal places")
		return decimal.Zero, errs
	}

	if !payment.IsPositive() {
		errs.add(FieldNewPayment, KindNonPositiveAmount, "Payment amount must be greater than 0")
	}

	remaining := chargeAmount.Sub(alreadyPaid)
	if payment.GreaterThan(remaining) {
		errs.add(FieldNewPayment, KindExceedsOutstanding,
			fmt.Sprintf("Payment cannot exceed outstanding balance of %s", ledger.FormatAmount(remaining)))
	}

	if len(errs) > 0 {
		return decimal.Zero, errs
	}
	return payment, nil
}

// =============================================================================
// AMENDMENT
// =============================================================================

// AmendmentInput is an edit to an existing charge. Blank fields are unchanged.
type AmendmentInput struct {
	NewPayment   string // incremental payment
	PaymentDate  string // YYYY-MM-DD the payment was received
	ChargeAmount string // corrected total
	PaidAmount   string // corrected cumulative paid amount
}

// ValidateAmendment checks an edit against the charge it applies to and
// returns the parsed change for ledger.Amend.
func ValidateAmendment(in AmendmentInput, current ledger.Charge, today ledger.Date) (ledger.Change, Errors) {
	var (
		errs   Errors
		change ledger.Change
	)

	targetAmount := current.ChargeAmount
	amountOK := true
	if !blank(in.ChargeAmount) {
		if fe := checkChargeAmount(in.ChargeAmount); fe != nil {
			errs = append(errs, *fe)
			amountOK = false
		} else {
			amt, _ := parseAmount(in.ChargeAmount)
			targetAmount = amt
			change.ChargeAmount = &amt
		}
	}

	switch {
	case !blank(in.NewPayment) && !blank(in.PaidAmount):
		errs.add(FieldNewPayment, KindConflictingFields, "Enter either a new payment or a corrected paid amount, not both")

	case !blank(in.NewPayment):
		if !amountOK {
			break
		}
		payment, perrs := ValidateIncrementalPayment(in.NewPayment, current.PaidAmount, targetAmount)
		if len(perrs) > 0 {
			errs = append(errs, perrs...)
			break
		}
		paid := current.PaidAmount.Add(payment)
		change.PaidAmount = &paid

	case !blank(in.PaidAmount):
		paid, ok := parseAmount(in.PaidAmount)
		switch {
		case !ok || !ledger.HasValidPlaces(paid):
			errs.add(FieldPaidAmount, KindInvalidAmount, "Paid amount must be a valid number with at most 2 decimal places")
		case paid.IsNegative():
			errs.add(FieldPaidAmount, KindNegativeAmount, "Paid amount cannot be negative")
		case amountOK && paid.GreaterThan(targetAmount):
			errs.add(FieldPaidAmount, KindExceedsOutstanding,
				fmt.Sprintf("Paid amount cannot exceed charge amount of %s", ledger.FormatAmount(targetAmount)))
		default:
			change.PaidAmount = &paid
		}
	}

	if change.ChargeAmount != nil {
		resultingPaid := current.PaidAmount
		if change.PaidAmount != nil {
			resultingPaid = *change.PaidAmount
		}
		if change.ChargeAmount.LessThan(resultingPaid) {
			errs.add(FieldChargeAmount, KindBelowPaidAmount,
				fmt.Sprintf("Charge amount cannot be less than the amount already paid (%s)", ledger.FormatAmount(resultingPaid)))
			change.ChargeAmount = nil
		}
	}

	if !blank(in.PaymentDate) {
		if d, fe := checkDate(FieldPaymentDate, in.PaymentDate, today, "Payment date"); fe != nil {
			errs = append(errs, *fe)
		} else {
			change.PaymentDate = &d
		}
	}

	if len(errs) > 0 {
		return ledger.Change{}, errs
	}
	return change, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// parseAmount parses a decimal literal. Blank and malformed text report false.
func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func checkChargeAmount(text string) *FieldError {
	amount, ok := parseAmount(text)
	switch {
	case !ok:
		return &FieldError{FieldChargeAmount, KindInvalidAmount, "Charge amount is required and must be a valid number"}
	case !ledger.HasValidPlaces(amount):
		return &FieldError{FieldChargeAmount, KindInvalidAmount, "Charge amount cannot have more than 2 decimal places"}
	case !amount.IsPositive():
		return &FieldError{FieldChargeAmount, KindNonPositiveAmount, "Charge amount must be greater than 0"}
	case amount.GreaterThan(ledger.MaxChargeAmount):
		return &FieldError{FieldChargeAmount, KindAmountTooLarge, "Charge amount cannot exceed RM999,999.99"}
	}
	return nil
}

func checkDate(field, text string, today ledger.Date, label string) (ledger.Date, *FieldError) {
	if blank(text) {
		return ledger.Date{}, &FieldError{field, KindInvalidDate, label + " is required"}
	}
	d, err := ledger.ParseDate(text)
	if err != nil {
		return ledger.Date{}, &FieldError{field, KindInvalidDate, "Invalid date format"}
	}
	if d.After(today) {
		return ledger.Date{}, &FieldError{field, KindFutureDate, label + " cannot be in the future"}
	}
	return d, nil
}

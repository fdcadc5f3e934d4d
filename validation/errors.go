package validation

import (
	"fmt"
	"strings"
)

// Kind classifies a validation failure.
type Kind string

const (
	KindInvalidAmount         Kind = "InvalidAmount"
	KindNonPositiveAmount     Kind = "NonPositiveAmount"
	KindAmountTooLarge        Kind = "AmountTooLarge"
	KindNegativeAmount        Kind = "NegativeAmount"
	KindOverpaymentAtCreation Kind = "OverpaymentAtCreation"
	KindExceedsOutstanding    Kind = "ExceedsOutstanding"
	KindBelowPaidAmount       Kind = "BelowPaidAmount"
	KindMissingStudent        Kind = "MissingStudent"
	KindInvalidDate           Kind = "InvalidDate"
	KindFutureDate            Kind = "FutureDate"
	KindConflictingFields     Kind = "ConflictingFields"
)

// Field names as they appear in requests.
const (
	FieldChargeAmount = "charge_amount"
	FieldPaidAmount   = "paid_amount"
	FieldStudentID    = "student_id"
	FieldDateCharged  = "date_charged"
	FieldNewPayment   = "new_payment"
	FieldPaymentDate  = "payment_date"
)

// FieldError is a single rule violation on one input field.
type FieldError struct {
	Field   string
	Kind    Kind
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errors is the ordered result of a validation run. Empty means accepted.
type Errors []FieldError

func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Err returns nil for an empty result so callers can use the usual err != nil.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// For returns the error recorded for field, if any.
func (e Errors) For(field string) (FieldError, bool) {
	for _, fe := range e {
		if fe.Field == field {
			return fe, true
		}
	}
	return FieldError{}, false
}

// HasKind reports whether any field failed with kind.
func (e Errors) HasKind(kind Kind) bool {
	for _, fe := range e {
		if fe.Kind == kind {
			return true
		}
	}
	return false
}

func (e *Errors) add(field string, kind Kind, message string) {
	*e = append(*e, FieldError{Field: field, Kind: kind, Message: message})
}

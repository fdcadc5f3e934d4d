package validation_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/swim-ledger/ledger"
	"github.com/warp/swim-ledger/validation"
)

var today = ledger.NewDate(2025, time.May, 15)

func amt(s string) decimal.Decimal { return ledger.MustParseAmount(s) }

func validInput() validation.NewChargeInput {
	return validation.NewChargeInput{
		ChargeAmount: "120.00",
		PaidAmount:   "0",
		StudentID:    "stu_101",
		DateCharged:  "2025-05-01",
	}
}

func existing(amount, paid string) ledger.Charge {
	return ledger.CreateCharge("chg_001", amt(amount), amt(paid), "stu_101",
		ledger.NewDate(2025, time.May, 1), time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC))
}

func kindOf(t *testing.T, errs validation.Errors, field string) validation.Kind {
	t.Helper()
	fe, ok := errs.For(field)
	require.True(t, ok, "expected an error on %s, got %v", field, errs)
	return fe.Kind
}

// =============================================================================
// NEW CHARGE
// =============================================================================

func TestValidateNewCharge_Accepts(t *testing.T) {
	parsed, errs := validation.ValidateNewCharge(validInput(), today)

	require.Empty(t, errs)
	assert.True(t, parsed.ChargeAmount.Equal(amt("120")))
	assert.True(t, parsed.PaidAmount.IsZero())
	assert.Equal(t, ledger.StudentID("stu_101"), parsed.StudentID)
	assert.Equal(t, ledger.NewDate(2025, time.May, 1), parsed.DateCharged)
	assert.NoError(t, errs.Err())
}

func TestValidateNewCharge_TodayIsNotFuture(t *testing.T) {
	in := validInput()
	in.DateCharged = today.String()

	_, errs := validation.ValidateNewCharge(in, today)

	assert.Empty(t, errs)
}

func TestValidateNewCharge_FieldRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*validation.NewChargeInput)
		field  string
		kind   validation.Kind
	}{
		{"negative charge", func(in *validation.NewChargeInput) { in.ChargeAmount = "-10" },
			validation.FieldChargeAmount, validation.KindNonPositiveAmount},
		{"zero charge", func(in *validation.NewChargeInput) { in.ChargeAmount = "0" },
			validation.FieldChargeAmount, validation.KindNonPositiveAmount},
		{"blank charge", func(in *validation.NewChargeInput) { in.ChargeAmount = "  " },
			validation.FieldChargeAmount, validation.KindInvalidAmount},
		{"text charge", func(in *validation.NewChargeInput) { in.ChargeAmount = "ten" },
			validation.FieldChargeAmount, validation.KindInvalidAmount},
		{"three decimals", func(in *validation.NewChargeInput) { in.ChargeAmount = "10.005" },
			validation.FieldChargeAmount, validation.KindInvalidAmount},
		{"too large", func(in *validation.NewChargeInput) { in.ChargeAmount = "1000000" },
			validation.FieldChargeAmount, validation.KindAmountTooLarge},
		{"negative paid", func(in *validation.NewChargeInput) { in.PaidAmount = "-1" },
			validation.FieldPaidAmount, validation.KindNegativeAmount},
		{"paid over charge", func(in *validation.NewChargeInput) { in.PaidAmount = "120.01" },
			validation.FieldPaidAmount, validation.KindOverpaymentAtCreation},
		{"missing student", func(in *validation.NewChargeInput) { in.StudentID = "" },
			validation.FieldStudentID, validation.KindMissingStudent},
		{"bad date", func(in *validation.NewChargeInput) { in.DateCharged = "01/05/2025" },
			validation.FieldDateCharged, validation.KindInvalidDate},
		{"missing date", func(in *validation.NewChargeInput) { in.DateCharged = "" },
			validation.FieldDateCharged, validation.KindInvalidDate},
		{"future date", func(in *validation.NewChargeInput) { in.DateCharged = "2025-05-16" },
			validation.FieldDateCharged, validation.KindFutureDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)

			_, errs := validation.ValidateNewCharge(in, today)

			require.Len(t, errs, 1)
			assert.Equal(t, tt.kind, kindOf(t, errs, tt.field))
		})
	}
}

func TestValidateNewCharge_NegativeChargeMessage(t *testing.T) {
	// GIVEN: the operator types -10 as the charge
	in := validInput()
	in.ChargeAmount = "-10"

	_, errs := validation.ValidateNewCharge(in, today)

	fe, ok := errs.For(validation.FieldChargeAmount)
	require.True(t, ok)
	assert.Equal(t, "Charge amount must be greater than 0", fe.Message)
	assert.Contains(t, errs.Error(), "charge_amount")
}

func TestValidateNewCharge_ReportsEveryField(t *testing.T) {
	in := validation.NewChargeInput{ChargeAmount: "abc", PaidAmount: "-5", DateCharged: "2099-01-01"}

	_, errs := validation.ValidateNewCharge(in, today)

	assert.Len(t, errs, 4)
	assert.True(t, errs.HasKind(validation.KindMissingStudent))
	assert.True(t, errs.HasKind(validation.KindFutureDate))
}

func TestValidateNewCharge_Deterministic(t *testing.T) {
	in := validInput()
	in.ChargeAmount = "-3"
	in.StudentID = ""

	_, first := validation.ValidateNewCharge(in, today)
	_, second := validation.ValidateNewCharge(in, today)

	assert.Equal(t, first, second)
}

// =============================================================================
// INCREMENTAL PAYMENT
// =============================================================================

func TestValidateIncrementalPayment(t *testing.T) {
	payment, errs := validation.ValidateIncrementalPayment("30.00", amt("0"), amt("120"))

	require.Empty(t, errs)
	assert.True(t, payment.Equal(amt("30")))
}

func TestValidateIncrementalPayment_Overpayment(t *testing.T) {
	// GIVEN: RM120.00 charge, nothing paid; operator enters 150.00
	_, errs := validation.ValidateIncrementalPayment("150.00", amt("0"), amt("120.00"))

	// THEN: rejected quoting the outstanding balance
	require.Len(t, errs, 1)
	assert.Equal(t, validation.KindExceedsOutstanding, errs[0].Kind)
	assert.Equal(t, "Payment cannot exceed outstanding balance of RM120.00", errs[0].Message)
}

func TestValidateIncrementalPayment_ExactRemainder(t *testing.T) {
	_, errs := validation.ValidateIncrementalPayment("90", amt("30"), amt("120"))

	assert.Empty(t, errs)
}

func TestValidateIncrementalPayment_Rejects(t *testing.T) {
	tests := []struct {
		text string
		kind validation.Kind
	}{
		{"", validation.KindInvalidAmount},
		{"1,000", validation.KindInvalidAmount},
		{"1.001", validation.KindInvalidAmount},
		{"0", validation.KindNonPositiveAmount},
		{"-5", validation.KindNonPositiveAmount},
		{"90.01", validation.KindExceedsOutstanding},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, errs := validation.ValidateIncrementalPayment(tt.text, amt("30"), amt("120"))

			require.NotEmpty(t, errs)
			assert.Equal(t, tt.kind, errs[0].Kind)
		})
	}
}

func TestValidateIncrementalPayment_FullyPaidCharge(t *testing.T) {
	_, errs := validation.ValidateIncrementalPayment("1", amt("120"), amt("120"))

	assert.True(t, errs.HasKind(validation.KindExceedsOutstanding))
	assert.Equal(t, "Payment cannot exceed outstanding balance of RM0.00", errs[0].Message)
}

// =============================================================================
// AMENDMENT
// =============================================================================

func TestValidateAmendment_NewPayment(t *testing.T) {
	current := existing("120", "30")

	change, errs := validation.ValidateAmendment(validation.AmendmentInput{
		NewPayment:  "20",
		PaymentDate: "2025-05-10",
	}, current, today)

	require.Empty(t, errs)
	require.NotNil(t, change.PaidAmount)
	assert.True(t, change.PaidAmount.Equal(amt("50")))
	assert.Nil(t, change.ChargeAmount)
	require.NotNil(t, change.PaymentDate)
	assert.Equal(t, ledger.NewDate(2025, time.May, 10), *change.PaymentDate)
}

func TestValidateAmendment_PaymentAgainstCorrectedTotal(t *testing.T) {
	// GIVEN: charge raised from 120 to 200 while paying 150
	current := existing("120", "30")

	change, errs := validation.ValidateAmendment(validation.AmendmentInput{
		ChargeAmount: "200",
		NewPayment:   "150",
	}, current, today)

	// THEN: the payment is checked against the new outstanding (170)
	require.Empty(t, errs)
	assert.True(t, change.ChargeAmount.Equal(amt("200")))
	assert.True(t, change.PaidAmount.Equal(amt("180")))
}

func TestValidateAmendment_ConflictingFields(t *testing.T) {
	_, errs := validation.ValidateAmendment(validation.AmendmentInput{
		NewPayment: "10",
		PaidAmount: "50",
	}, existing("120", "30"), today)

	assert.Equal(t, validation.KindConflictingFields, kindOf(t, errs, validation.FieldNewPayment))
}

func TestValidateAmendment_ChargeBelowPaid(t *testing.T) {
	_, errs := validation.ValidateAmendment(validation.AmendmentInput{
		ChargeAmount: "20",
	}, existing("120", "30"), today)

	require.Len(t, errs, 1)
	assert.Equal(t, validation.KindBelowPaidAmount, kindOf(t, errs, validation.FieldChargeAmount))
	assert.Contains(t, errs[0].Message, "RM30.00")
}

func TestValidateAmendment_PaidCorrection(t *testing.T) {
	current := existing("120", "30")

	t.Run("downward", func(t *testing.T) {
		change, errs := validation.ValidateAmendment(validation.AmendmentInput{PaidAmount: "10"}, current, today)

		require.Empty(t, errs)
		assert.True(t, change.PaidAmount.Equal(amt("10")))
	})

	t.Run("negative", func(t *testing.T) {
		_, errs := validation.ValidateAmendment(validation.AmendmentInput{PaidAmount: "-1"}, current, today)

		assert.Equal(t, validation.KindNegativeAmount, kindOf(t, errs, validation.FieldPaidAmount))
	})

	t.Run("above charge", func(t *testing.T) {
		_, errs := validation.ValidateAmendment(validation.AmendmentInput{PaidAmount: "121"}, current, today)

		assert.Equal(t, validation.KindExceedsOutstanding, kindOf(t, errs, validation.FieldPaidAmount))
	})

	t.Run("lowered together with the charge", func(t *testing.T) {
		change, errs := validation.ValidateAmendment(validation.AmendmentInput{
			ChargeAmount: "25",
			PaidAmount:   "25",
		}, current, today)

		require.Empty(t, errs)
		assert.True(t, change.ChargeAmount.Equal(amt("25")))
	})
}

func TestValidateAmendment_FuturePaymentDate(t *testing.T) {
	_, errs := validation.ValidateAmendment(validation.AmendmentInput{
		NewPayment:  "10",
		PaymentDate: "2025-06-01",
	}, existing("120", "30"), today)

	assert.Equal(t, validation.KindFutureDate, kindOf(t, errs, validation.FieldPaymentDate))
}

func TestValidateAmendment_EmptyIsNoChange(t *testing.T) {
	change, errs := validation.ValidateAmendment(validation.AmendmentInput{}, existing("120", "30"), today)

	assert.Empty(t, errs)
	assert.Equal(t, ledger.Change{}, change)
}

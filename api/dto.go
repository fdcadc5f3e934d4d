package api

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/warp/swim-ledger/directory"
	"github.com/warp/swim-ledger/ledger"
)

// =============================================================================
// AMOUNTS
// =============================================================================

// Amount is money as typed by the client. It accepts a JSON string or a
// JSON number and keeps the literal text, so "120.5" and 120.5 validate
// the same way and no precision is lost to float64.
type Amount string

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*a = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("amount must be a number or a string")
	}
	*a = Amount(n.String())
	return nil
}

func (a Amount) String() string { return string(a) }

// money renders a decimal as a JSON number with two decimal places.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(ledger.AmountPlaces))
}

// =============================================================================
// REQUESTS
// =============================================================================

// CreateChargeRequest is the body of POST /api/charges.
// Content rules live in the validation package; tags only bound the shape.
type CreateChargeRequest struct {
	ChargeAmount Amount `json:"charge_amount" validate:"max=32"`
	PaidAmount   Amount `json:"paid_amount" validate:"max=32"`
	StudentID    string `json:"student_id" validate:"max=64"`
	DateCharged  string `json:"date_charged" validate:"max=32"`
}

// AmendChargeRequest is the body of PATCH /api/charges/{id}.
type AmendChargeRequest struct {
	NewPayment   Amount `json:"new_payment" validate:"max=32"`
	PaymentDate  string `json:"payment_date" validate:"max=32"`
	ChargeAmount Amount `json:"charge_amount" validate:"max=32"`
	PaidAmount   Amount `json:"paid_amount" validate:"max=32"`
}

// RecordPaymentRequest is the body of POST /api/charges/{id}/payments.
type RecordPaymentRequest struct {
	Amount      Amount `json:"amount" validate:"max=32"`
	PaymentDate string `json:"payment_date" validate:"max=32"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type PaymentHistoryEntryDTO struct {
	Date             string      `json:"date"`
	AmountPaid       json.Number `json:"amount_paid"`
	OutstandingAfter json.Number `json:"outstanding_after"`
	PaymentType      string      `json:"payment_type"`
	Notes            string      `json:"notes"`
}

type ChargeDTO struct {
	ID             string                   `json:"id"`
	StudentID      string                   `json:"student_id"`
	StudentName    string                   `json:"student_name,omitempty"`
	ChargeAmount   json.Number              `json:"charge_amount"`
	PaidAmount     json.Number              `json:"paid_amount"`
	Outstanding    json.Number              `json:"outstanding"`
	Status         string                   `json:"status"`
	DateCharged    string                   `json:"date_charged"`
	PaymentHistory []PaymentHistoryEntryDTO `json:"payment_history"`
}

type StudentDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Display string `json:"display"`
}

type SummaryDTO struct {
	Count            int            `json:"count"`
	TotalCharged     json.Number    `json:"total_charged"`
	TotalPaid        json.Number    `json:"total_paid"`
	TotalOutstanding json.Number    `json:"total_outstanding"`
	ByStatus         map[string]int `json:"by_status"`
}

type LoadResultDTO struct {
	Loaded int `json:"loaded"`
}

type FieldErrorDTO struct {
	Field   string `json:"field"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toHistoryDTO(e ledger.PaymentHistoryEntry) PaymentHistoryEntryDTO {
	return PaymentHistoryEntryDTO{
		Date:             ledger.FormatTimestamp(e.Date),
		AmountPaid:       money(e.AmountPaid),
		OutstandingAfter: money(e.OutstandingAfter),
		PaymentType:      string(e.PaymentType),
		Notes:            e.Notes,
	}
}

func toHistoryDTOs(entries []ledger.PaymentHistoryEntry) []PaymentHistoryEntryDTO {
	out := make([]PaymentHistoryEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toHistoryDTO(e)
	}
	return out
}

func toChargeDTO(c ledger.Charge, students *directory.Directory) ChargeDTO {
	dto := ChargeDTO{
		ID:             string(c.ID),
		StudentID:      string(c.StudentID),
		ChargeAmount:   money(c.ChargeAmount),
		PaidAmount:     money(c.PaidAmount),
		Outstanding:    money(c.Outstanding()),
		Status:         string(c.Status()),
		DateCharged:    c.DateCharged.String(),
		PaymentHistory: toHistoryDTOs(c.PaymentHistory),
	}
	if students != nil {
		dto.StudentName = students.Name(c.StudentID)
	}
	return dto
}

func toStudentDTO(s directory.Student, students *directory.Directory) StudentDTO {
	return StudentDTO{ID: string(s.ID), Name: s.Name, Display: students.Display(s.ID)}
}

func toSummaryDTO(s ledger.Summary) SummaryDTO {
	byStatus := make(map[string]int, len(s.ByStatus))
	for status, n := range s.ByStatus {
		byStatus[string(status)] = n
	}
	return SummaryDTO{
		Count:            s.Count,
		TotalCharged:     money(s.TotalCharged),
		TotalPaid:        money(s.TotalPaid),
		TotalOutstanding: money(s.TotalOutstanding),
		ByStatus:         byStatus,
	}
}

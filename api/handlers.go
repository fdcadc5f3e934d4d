/*
handlers.go - HTTP API handlers for the swim school charge ledger

PURPOSE:
  Exposes the charge ledger via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every command to charges.Service.

ENDPOINTS:
  Charges:
    GET    /api/charges                 List charges in creation order
    POST   /api/charges                 Create charge
    GET    /api/charges/{id}            Get charge
    PATCH  /api/charges/{id}            Amend charge (payment or correction)
    DELETE /api/charges/{id}            Delete charge and its history
    POST   /api/charges/{id}/payments   Record an incremental payment
    GET    /api/charges/{id}/history    Payment history

  Directory:
    GET    /api/students                List students
    GET    /api/students/{id}           Get student

  Reporting:
    GET    /api/summary                 Totals and status counts

  Demo:
    POST   /api/demo/load               Replace the ledger with demo charges

REQUEST FLOW:
  1. Decode and shape-check the JSON body
  2. Hand the raw text to the service (validation happens there)
  3. Serialize the resulting charge
  4. Map errors through the code table in errors.go

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error codes and HTTP mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"

	"github.com/warp/swim-ledger/charges"
	"github.com/warp/swim-ledger/directory"
	"github.com/warp/swim-ledger/ledger"
	"github.com/warp/swim-ledger/logger"
	"github.com/warp/swim-ledger/validation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Charges  *charges.Service
	Students *directory.Directory
	Log      *logger.Logger

	// Checks are run by /healthz, keyed by dependency name.
	Checks map[string]HealthCheck
}

// NewHandler creates a new handler.
func NewHandler(svc *charges.Service, students *directory.Directory, log *logger.Logger) *Handler {
	if students == nil {
		students = directory.Default()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		Charges:  svc,
		Students: students,
		Log:      log,
		Checks:   map[string]HealthCheck{},
	}
}

// =============================================================================
// CHARGE HANDLERS
// =============================================================================

// ListCharges returns all charges.
func (h *Handler) ListCharges(w http.ResponseWriter, r *http.Request) {
	list, err := h.Charges.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]ChargeDTO, len(list))
	for i, c := range list {
		dtos[i] = toChargeDTO(c, h.Students)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCharge validates and appends a new charge.
func (h *Handler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	var req CreateChargeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	c, err := h.Charges.Create(r.Context(), validation.NewChargeInput{
		ChargeAmount: req.ChargeAmount.String(),
		PaidAmount:   req.PaidAmount.String(),
		StudentID:    req.StudentID,
		DateCharged:  req.DateCharged,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/charges/"+string(c.ID))
	writeJSON(w, http.StatusCreated, toChargeDTO(c, h.Students))
}

// GetCharge returns a single charge.
func (h *Handler) GetCharge(w http.ResponseWriter, r *http.Request) {
	c, err := h.Charges.Get(r.Context(), chargeID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTO(c, h.Students))
}

// AmendCharge applies a payment or correction. An edit that changes
// nothing returns the charge unchanged.
func (h *Handler) AmendCharge(w http.ResponseWriter, r *http.Request) {
	var req AmendChargeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	c, err := h.Charges.Amend(r.Context(), chargeID(r), validation.AmendmentInput{
		NewPayment:   req.NewPayment.String(),
		PaymentDate:  req.PaymentDate,
		ChargeAmount: req.ChargeAmount.String(),
		PaidAmount:   req.PaidAmount.String(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTO(c, h.Students))
}

// RecordPayment adds an incremental payment to a charge.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	c, err := h.Charges.RecordPayment(r.Context(), chargeID(r), req.Amount.String(), req.PaymentDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTO(c, h.Students))
}

// DeleteCharge removes a charge and its history.
func (h *Handler) DeleteCharge(w http.ResponseWriter, r *http.Request) {
	if err := h.Charges.Remove(r.Context(), chargeID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHistory returns the payment history of a charge, oldest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Charges.History(r.Context(), chargeID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(entries))
}

// =============================================================================
// DIRECTORY & REPORTING HANDLERS
// =============================================================================

func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students := h.Students.All()
	dtos := make([]StudentDTO, len(students))
	for i, s := range students {
		dtos[i] = toStudentDTO(s, h.Students)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))
	s, ok := h.Students.Lookup(id)
	if !ok {
		h.fail(w, r, newError(CodeNotFound, fmt.Sprintf("student %s not found", id)))
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(s, h.Students))
}

// GetSummary returns ledger totals.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Charges.Summary(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

// LoadDemo replaces the ledger with the demo charges.
func (h *Handler) LoadDemo(w http.ResponseWriter, r *http.Request) {
	demo := DemoCharges()
	if err := h.Charges.Load(r.Context(), demo); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoadResultDTO{Loaded: len(demo)})
}

// Health runs every dependency check. Any failure answers 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs error
	for _, name := range names {
		if err := h.Checks[name](r.Context()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if errs != nil {
		failures := multierr.Errors(errs)
		msgs := make([]string, len(failures))
		for i, err := range failures {
			msgs[i] = err.Error()
		}
		h.Log.Warn(h.Log.WithField(r.Context(), "failures", msgs), "health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "errors": msgs})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func chargeID(r *http.Request) ledger.ChargeID {
	return ledger.ChargeID(chi.URLParam(r, "id"))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(r.Context(), h.Log, w, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// decodeJSONBody decodes a single JSON object into dest, rejecting unknown
// fields, then runs the struct's shape checks.
func decodeJSONBody(r *http.Request, dest any) error {
	defer io.Copy(io.Discard, r.Body)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return wrapError(CodeBadRequest, err, "invalid request body").
			withDetails([]FieldErrorDTO{{Field: "body", Message: err.Error()}})
	}
	if decoder.More() {
		return newError(CodeBadRequest, "request body must contain a single JSON object")
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *Error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return wrapError(CodeBadRequest, err, "invalid request body")
	}
	details := make([]FieldErrorDTO, len(errs))
	for i, fe := range errs {
		details[i] = FieldErrorDTO{Field: fe.Field(), Message: validationMessage(fe)}
	}
	return newError(CodeBadRequest, "invalid request body").withDetails(details)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	}
	return "is invalid"
}

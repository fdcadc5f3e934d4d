package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/warp/swim-ledger/ledger"
	"github.com/warp/swim-ledger/logger"
	"github.com/warp/swim-ledger/validation"
)

// =============================================================================
// ERROR CODES
// =============================================================================

type Code string

const (
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeBadRequest  Code = "BAD_REQUEST"
	CodeNotFound    Code = "NOT_FOUND"
	CodeIdempotency Code = "IDEMPOTENCY_CONFLICT"
	CodeCancelled   Code = "REQUEST_CANCELLED"
	CodeDependency  Code = "DEPENDENCY_ERROR"
	CodeInternal    Code = "INTERNAL_ERROR"
)

// Metadata describes how a code is rendered.
type Metadata struct {
	HTTPStatus     int
	PublicMessage  string
	DetailsAllowed bool
}

var codeMetadata = map[Code]Metadata{
	CodeValidation:  {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "validation failed", DetailsAllowed: true},
	CodeBadRequest:  {HTTPStatus: http.StatusBadRequest, PublicMessage: "invalid request", DetailsAllowed: true},
	CodeNotFound:    {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
	CodeIdempotency: {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key conflict"},
	CodeCancelled:   {HTTPStatus: http.StatusServiceUnavailable, PublicMessage: "request cancelled before commit"},
	CodeDependency:  {HTTPStatus: http.StatusServiceUnavailable, PublicMessage: "dependency unavailable"},
	CodeInternal:    {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error"},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := codeMetadata[code]; ok {
		return meta
	}
	return codeMetadata[CodeInternal]
}

// Error is an API error carrying a code, a public message and optional details.
type Error struct {
	code    Code
	message string
	details any
	err     error
}

func newError(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func wrapError(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, err: err}
}

func (e *Error) withDetails(details any) *Error {
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.message + ": " + e.err.Error()
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Code() Code { return e.code }

// =============================================================================
// CLASSIFICATION
// =============================================================================

// classify maps service errors onto API errors.
func classify(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		details := make([]FieldErrorDTO, len(verrs))
		for i, fe := range verrs {
			details[i] = FieldErrorDTO{Field: fe.Field, Kind: string(fe.Kind), Message: fe.Message}
		}
		return wrapError(CodeValidation, err, "validation failed").withDetails(details)
	}

	var nf *ledger.NotFoundError
	switch {
	case errors.As(err, &nf):
		return wrapError(CodeNotFound, err, "charge "+string(nf.ID)+" not found")
	case errors.Is(err, ledger.ErrChargeNotFound):
		return wrapError(CodeNotFound, err, "charge not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return wrapError(CodeCancelled, err, "")
	}
	return wrapError(CodeInternal, err, "unexpected error")
}

// =============================================================================
// RESPONSE
// =============================================================================

func writeError(ctx context.Context, log *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := classify(err)
	meta := MetadataFor(typed.code)

	msg := meta.PublicMessage
	switch typed.code {
	case CodeValidation, CodeBadRequest, CodeNotFound, CodeIdempotency:
		if typed.message != "" {
			msg = typed.message
		}
	}

	resp := ErrorResponse{Error: APIError{Code: string(typed.code), Message: msg}}
	if meta.DetailsAllowed && typed.details != nil {
		resp.Error.Details = typed.details
	}

	if log != nil {
		ctx = log.WithFields(ctx, map[string]any{
			"error_code": typed.code,
			"status":     meta.HTTPStatus,
		})
		if meta.HTTPStatus >= http.StatusInternalServerError {
			log.Error(ctx, "request failed", err)
		} else {
			log.Warn(log.WithField(ctx, "error", err.Error()), "request rejected")
		}
	}

	writeJSON(w, meta.HTTPStatus, resp)
}

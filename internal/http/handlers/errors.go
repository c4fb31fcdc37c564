// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants and the mapping from
// service errors to HTTP responses. Codes give clients a stable,
// machine-readable taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Generic codes (bad_request, unauthorized, conflict) mirror HTTP status
//     semantics.
//   - Domain codes (lead_unavailable, payout_already_pending, ...) are used
//     when the status alone does not tell the client what to do next.
//   - Ledger rule violations reuse the violation's Reason as the code.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "lead_unavailable",
//	  "message": "lead no longer available"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lead-exchange/internal/payments"
	"github.com/tbourn/go-lead-exchange/internal/services"
	"github.com/tbourn/go-lead-exchange/internal/storage"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeValidation                 = "validation_failed"
	ErrCodeBatchAlreadyProcessed      = "batch_already_processed"
	ErrCodeFileMissing                = "file_missing"
	ErrCodeBatchNotRetryable          = "batch_not_retryable"
	ErrCodeLeadUnavailable            = "lead_unavailable"
	ErrCodePaymentMismatch            = "payment_mismatch"
	ErrCodePaymentNotSucceeded        = "payment_not_succeeded"
	ErrCodePaymentProviderUnavailable = "payment_provider_unavailable"
	ErrCodePurchaseNotCompleted       = "purchase_not_completed"
	ErrCodeInvalidSignature           = "invalid_signature"
	ErrCodeUploadTooLarge             = "upload_too_large"
)

// failErr maps a service error to a status and code and writes the envelope.
// Unknown errors become 500 internal_error without leaking their text.
func failErr(c *gin.Context, err error) {
	status, code, msg := classify(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	fail(c, status, code, msg)
}

// classify is the single place that turns service errors into HTTP terms.
func classify(err error) (status int, code, msg string) {
	var (
		verr *services.ValidationError
		lerr *services.LedgerInvariantViolation
		cerr *services.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrCodeValidation, verr.Error()
	case errors.As(err, &lerr):
		status = http.StatusBadRequest
		if errors.Is(err, services.ErrPayoutAlreadyPending) {
			status = http.StatusConflict
		}
		return status, lerr.Reason, lerr.Error()

	case errors.Is(err, services.ErrBatchNotFound),
		errors.Is(err, services.ErrLeadNotFound),
		errors.Is(err, services.ErrPurchaseNotFound),
		errors.Is(err, services.ErrPayoutNotFound):
		return http.StatusNotFound, ErrCodeNotFound, err.Error()

	case errors.Is(err, services.ErrBatchAlreadyProcessed):
		return http.StatusBadRequest, ErrCodeBatchAlreadyProcessed, err.Error()
	case errors.Is(err, services.ErrUploadFileMissing):
		return http.StatusBadRequest, ErrCodeFileMissing, err.Error()
	case errors.Is(err, services.ErrBatchNotRetryable):
		return http.StatusConflict, ErrCodeBatchNotRetryable, err.Error()

	case errors.As(err, &cerr) && errors.Is(err, services.ErrLeadUnavailable):
		return http.StatusConflict, ErrCodeLeadUnavailable, services.ErrLeadUnavailable.Error()
	case errors.Is(err, services.ErrLeadUnavailable):
		return http.StatusConflict, ErrCodeLeadUnavailable, err.Error()
	case errors.As(err, &cerr):
		return http.StatusConflict, ErrCodeConflict, err.Error()

	case errors.Is(err, services.ErrIntentMismatch):
		return http.StatusBadRequest, ErrCodePaymentMismatch, err.Error()
	case errors.Is(err, services.ErrPaymentNotSucceeded):
		return http.StatusBadRequest, ErrCodePaymentNotSucceeded, err.Error()
	case errors.Is(err, services.ErrPaymentProviderUnavailable):
		return http.StatusServiceUnavailable, ErrCodePaymentProviderUnavailable, services.ErrPaymentProviderUnavailable.Error()
	case errors.Is(err, services.ErrPurchaseNotCompleted):
		return http.StatusConflict, ErrCodePurchaseNotCompleted, err.Error()

	case errors.Is(err, payments.ErrInvalidSignature), errors.Is(err, payments.ErrInvalidPayload):
		return http.StatusBadRequest, ErrCodeInvalidSignature, err.Error()
	case errors.Is(err, storage.ErrBadSignature):
		return http.StatusForbidden, ErrCodeForbidden, "invalid or expired link"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "file not found"

	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, ErrCodeForbidden, err.Error()
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest, ErrCodeBadRequest, err.Error()
	}
	return http.StatusInternalServerError, ErrCodeInternal, "internal server error"
}

// Package services implements the lead exchange business logic: batch
// ingestion, the purchase flow, the partner and credit ledgers, the
// marketplace listing and reconciliation.
//
// This file centralizes service-level errors. Sentinels are compared with
// errors.Is; the typed errors below carry detail and wrap a sentinel so the
// handler layer can map either form to an HTTP status.
package services

import (
	"errors"
	"fmt"
)

// Lookup errors.
var (
	ErrBatchNotFound    = errors.New("batch not found")
	ErrLeadNotFound     = errors.New("lead not found")
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrPayoutNotFound   = errors.New("payout request not found")
)

// Batch errors.
var (
	// ErrBatchAlreadyProcessed is returned when a batch is past the point
	// where the requested step can run.
	ErrBatchAlreadyProcessed = errors.New("batch already processed")

	// ErrUploadFileMissing is returned when a batch's file is not in storage.
	ErrUploadFileMissing = errors.New("upload file missing")

	// ErrBatchNotRetryable is returned when retrying a batch that did not fail.
	ErrBatchNotRetryable = errors.New("only failed batches can be retried")
)

// Purchase errors.
var (
	// ErrLeadUnavailable means the lead is sold or was claimed by a
	// concurrent buyer.
	ErrLeadUnavailable = errors.New("lead no longer available")

	// ErrIntentMismatch means the payment intent does not belong to this lead
	// and buyer.
	ErrIntentMismatch = errors.New("payment intent does not match purchase")

	// ErrPaymentNotSucceeded means the provider has not captured the payment.
	ErrPaymentNotSucceeded = errors.New("payment not succeeded")

	// ErrPaymentProviderUnavailable means the provider could not be reached in
	// time. Nothing was written, so the call is safe to retry.
	ErrPaymentProviderUnavailable = errors.New("payment provider unavailable")

	// ErrPurchaseNotCompleted is returned when exporting a purchase that did
	// not complete.
	ErrPurchaseNotCompleted = errors.New("purchase not completed")
)

// Ledger errors. They reach callers wrapped in a LedgerInvariantViolation.
var (
	ErrPayoutAccountNotReady = errors.New("payout account not onboarded")
	ErrBelowPayoutThreshold  = errors.New("amount below payout threshold")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrPayoutAlreadyPending  = errors.New("payout already pending")
	ErrInsufficientCredits   = errors.New("insufficient credits")
)

// Generic errors.
var (
	// ErrForbidden is returned when the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput is the sentinel behind every ValidationError.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError reports bad caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }

// DuplicateError reports a row whose fingerprint already maps to a lead.
type DuplicateError struct {
	Fingerprint string
	InBatch     bool
}

func (e *DuplicateError) Error() string {
	if e.InBatch {
		return "duplicate of an earlier row in this batch"
	}
	return "duplicate of an existing lead"
}

// IngestionFailure is a batch-level failure. The batch is marked failed with
// Err's message.
type IngestionFailure struct {
	BatchID string
	Err     error
}

func (e *IngestionFailure) Error() string {
	return fmt.Sprintf("batch %s: %v", e.BatchID, e.Err)
}

func (e *IngestionFailure) Unwrap() error { return e.Err }

// ConflictError reports a lost race on a shared resource.
type ConflictError struct {
	Resource string
	ID       string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Resource, e.ID, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// LedgerInvariantViolation is returned when a ledger operation would break a
// balance rule. Reason is a stable machine-readable code.
type LedgerInvariantViolation struct {
	Reason string
	Err    error
}

func (e *LedgerInvariantViolation) Error() string { return e.Err.Error() }

func (e *LedgerInvariantViolation) Unwrap() error { return e.Err }

// Reason codes carried by LedgerInvariantViolation.
const (
	ReasonPayoutAccountNotReady = "payout_account_not_ready"
	ReasonBelowPayoutThreshold  = "below_payout_threshold"
	ReasonInsufficientBalance   = "insufficient_balance"
	ReasonPayoutAlreadyPending  = "payout_already_pending"
	ReasonInsufficientCredits   = "insufficient_credits"
)

func violation(err error) error {
	var reason string
	switch err {
	case ErrPayoutAccountNotReady:
		reason = ReasonPayoutAccountNotReady
	case ErrBelowPayoutThreshold:
		reason = ReasonBelowPayoutThreshold
	case ErrInsufficientBalance:
		reason = ReasonInsufficientBalance
	case ErrPayoutAlreadyPending:
		reason = ReasonPayoutAlreadyPending
	case ErrInsufficientCredits:
		reason = ReasonInsufficientCredits
	default:
		reason = "ledger_violation"
	}
	return &LedgerInvariantViolation{Reason: reason, Err: err}
}

// Package payments talks to the card payment provider. The purchase flow
// only needs two calls (create and retrieve a payment intent) plus webhook
// signature verification, so the adapter speaks the provider's form-encoded
// REST API directly.
package payments

import (
	"context"
	"errors"
	"fmt"
)

// Intent statuses the purchase flow cares about.
const (
	StatusSucceeded             = "succeeded"
	StatusRequiresPaymentMethod = "requires_payment_method"
	StatusProcessing            = "processing"
	StatusCanceled              = "canceled"
)

// Metadata keys stamped on every intent.
const (
	MetaLeadID           = "lead_id"
	MetaBuyerWorkspaceID = "buyer_workspace_id"
	MetaPartnerID        = "partner_id"
	MetaPriceCents       = "price_cents"
)

var (
	// ErrProviderUnavailable covers transport failures and 5xx answers.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrProviderTimeout is returned when a call exceeds its deadline. It
	// wraps ErrProviderUnavailable.
	ErrProviderTimeout = fmt.Errorf("%w: timeout", ErrProviderUnavailable)
	// ErrIntentNotFound is returned for unknown intent ids.
	ErrIntentNotFound = errors.New("payment intent not found")
	// ErrInvalidRequest is returned for 4xx answers other than 404.
	ErrInvalidRequest = errors.New("payment provider rejected request")
)

// Intent is the provider's view of one payment.
type Intent struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	ClientSecret string            `json:"client_secret"`
	Metadata     map[string]string `json:"metadata"`
}

// Succeeded reports whether the payment has been captured.
func (i *Intent) Succeeded() bool { return i != nil && i.Status == StatusSucceeded }

// CreateIntentParams describes a new payment intent.
type CreateIntentParams struct {
	AmountCents    int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Provider is the subset of the payment API used by the purchase flow.
type Provider interface {
	CreateIntent(ctx context.Context, p CreateIntentParams) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
}

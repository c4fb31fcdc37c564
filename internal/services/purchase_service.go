// Package services – PurchaseService
//
// This file implements the buyer purchase flow: payment intent creation,
// confirmation, credit purchases and the provider webhook.
//
// A lead is sold at most once because the claim is a single conditional
// UPDATE (available → sold) executed in the same transaction that records
// the purchase. The payment intent id is unique on purchases, so replaying a
// confirmation returns the recorded purchase instead of claiming again.
// Commission settlement runs after the claim commits, keyed by purchase id;
// if it fails the reconciler settles the purchase later.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-lead-exchange/internal/domain"
	"github.com/tbourn/go-lead-exchange/internal/observability"
	"github.com/tbourn/go-lead-exchange/internal/payments"
	"github.com/tbourn/go-lead-exchange/internal/repo"
)

// errPurchaseRecorded signals, inside the claim transaction, that another
// call already recorded this payment intent.
var errPurchaseRecorded = errors.New("purchase already recorded")

// errClaimLost aborts a credit purchase transaction whose claim lost.
var errClaimLost = errors.New("claim lost")

// PurchaseService coordinates payments, lead claims and settlement.
type PurchaseService struct {
	DB       *gorm.DB
	Provider payments.Provider
	Webhooks *payments.WebhookVerifier
	Ledger   *PartnerLedger
	Credits  *CreditLedger

	Currency       string
	CreditsPerLead int64
	IdempotencyTTL time.Duration

	Now func() time.Time
}

// IntentResult is returned by CreateIntent.
type IntentResult struct {
	LeadID       string `json:"lead_id"`
	IntentID     string `json:"payment_intent_id"`
	ClientSecret string `json:"client_secret"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	// Replayed is set when the Idempotency-Key matched an earlier call.
	Replayed bool `json:"replayed"`
}

// PurchaseResult is returned by the confirmation paths.
type PurchaseResult struct {
	Purchase *domain.MarketplacePurchase `json:"purchase"`
	// AlreadyRecorded is set when this call replayed an earlier confirmation.
	AlreadyRecorded bool `json:"already_recorded"`
	// Settled reports whether the partner commission is credited.
	Settled bool `json:"settled"`
}

// CreateIntent opens a payment intent for leadID on behalf of workspaceID.
// When idemKey is set, a repeat with the same key returns the same intent.
func (s *PurchaseService) CreateIntent(ctx context.Context, leadID, workspaceID, idemKey string) (*IntentResult, error) {
	tr := otel.Tracer("services/PurchaseService")
	ctx, span := tr.Start(ctx, "CreateIntent",
		trace.WithAttributes(
			attribute.String("lead.id", leadID),
			attribute.String("workspace.id", workspaceID),
		),
	)
	defer span.End()

	if strings.TrimSpace(workspaceID) == "" {
		return nil, invalid("workspace_id", "is required")
	}
	scope := "purchase:" + leadID
	idemKey = strings.TrimSpace(idemKey)

	if idemKey != "" {
		if rec, err := repo.GetIdempotency(ctx, s.DB, workspaceID, scope, idemKey, s.now()); err == nil {
			return s.replayIntent(ctx, leadID, rec.ResourceID)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}

	lead, err := s.lead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.Status != domain.LeadAvailable {
		return nil, &ConflictError{Resource: "lead", ID: leadID, Err: ErrLeadUnavailable}
	}

	params := payments.CreateIntentParams{
		AmountCents: lead.PriceCents,
		Currency:    s.currency(lead.Currency),
		Description: "Lead " + lead.ID,
		Metadata: map[string]string{
			payments.MetaLeadID:           lead.ID,
			payments.MetaBuyerWorkspaceID: workspaceID,
			payments.MetaPartnerID:        lead.PartnerID,
			payments.MetaPriceCents:       strconv.FormatInt(lead.PriceCents, 10),
		},
	}
	if idemKey != "" {
		params.IdempotencyKey = workspaceID + ":" + scope + ":" + idemKey
	}
	intent, err := s.Provider.CreateIntent(ctx, params)
	if err != nil {
		return nil, providerError(err)
	}

	if idemKey != "" {
		_, err := repo.CreateIdempotency(ctx, s.DB, workspaceID, scope, idemKey, intent.ID, 200, s.IdempotencyTTL)
		if errors.Is(err, repo.ErrDuplicate) {
			rec, gerr := repo.GetIdempotency(ctx, s.DB, workspaceID, scope, idemKey, s.now())
			if gerr != nil {
				return nil, gerr
			}
			return s.replayIntent(ctx, leadID, rec.ResourceID)
		}
		if err != nil {
			return nil, err
		}
	}

	return &IntentResult{
		LeadID:       lead.ID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  intent.Amount,
		Currency:     intent.Currency,
	}, nil
}

func (s *PurchaseService) replayIntent(ctx context.Context, leadID, intentID string) (*IntentResult, error) {
	intent, err := s.Provider.RetrieveIntent(ctx, intentID)
	if err != nil {
		return nil, providerError(err)
	}
	return &IntentResult{
		LeadID:       leadID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  intent.Amount,
		Currency:     intent.Currency,
		Replayed:     true,
	}, nil
}

// ConfirmRequest identifies a payment to confirm.
type ConfirmRequest struct {
	LeadID      string
	WorkspaceID string
	UserID      string
	IntentID    string
}

// Confirm records the purchase paid by req.IntentID and claims the lead.
//
// A confirmation already recorded for the intent is returned as is
// (AlreadyRecorded). Otherwise the intent must have succeeded and its
// metadata must name this lead and buyer. Exactly one confirmation can claim
// a lead; losers get a ConflictError wrapping ErrLeadUnavailable and their
// purchase is recorded as failed, so a replay answers the same way.
func (s *PurchaseService) Confirm(ctx context.Context, req ConfirmRequest) (*PurchaseResult, error) {
	tr := otel.Tracer("services/PurchaseService")
	ctx, span := tr.Start(ctx, "Confirm",
		trace.WithAttributes(
			attribute.String("lead.id", req.LeadID),
			attribute.String("workspace.id", req.WorkspaceID),
			attribute.String("payment_intent.id", req.IntentID),
		),
	)
	defer span.End()

	if strings.TrimSpace(req.IntentID) == "" {
		return nil, invalid("payment_intent_id", "is required")
	}
	if strings.TrimSpace(req.WorkspaceID) == "" {
		return nil, invalid("workspace_id", "is required")
	}

	if existing, err := repo.GetPurchaseByIntent(ctx, s.DB, req.IntentID); err == nil {
		return s.replayPurchase(ctx, existing, req.LeadID, req.WorkspaceID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	intent, err := s.Provider.RetrieveIntent(ctx, req.IntentID)
	if err != nil {
		return nil, providerError(err)
	}
	if !intent.Succeeded() {
		return nil, ErrPaymentNotSucceeded
	}
	if intent.Metadata[payments.MetaLeadID] != req.LeadID ||
		intent.Metadata[payments.MetaBuyerWorkspaceID] != req.WorkspaceID {
		return nil, ErrIntentMismatch
	}

	lead, err := s.lead(ctx, req.LeadID)
	if err != nil {
		return nil, err
	}
	price := intent.Amount
	if price <= 0 {
		price = lead.PriceCents
	}
	p := &domain.MarketplacePurchase{
		BuyerWorkspaceID: req.WorkspaceID,
		BuyerUserID:      req.UserID,
		LeadID:           lead.ID,
		PaymentIntentID:  req.IntentID,
		PaymentMethod:    domain.PaymentMethodStripe,
		TotalPriceCents:  price,
		Currency:         s.currency(intent.Currency),
	}

	claimed, err := s.record(ctx, p, lead, nil)
	if errors.Is(err, errPurchaseRecorded) {
		existing, gerr := repo.GetPurchaseByIntent(ctx, s.DB, req.IntentID)
		if gerr != nil {
			return nil, gerr
		}
		return s.replayPurchase(ctx, existing, req.LeadID, req.WorkspaceID)
	}
	if err != nil {
		return nil, err
	}
	if !claimed {
		observability.Purchases.WithLabelValues("lost_race").Inc()
		log.Warn().
			Str("component", "purchase_service").
			Str("purchase_id", p.ID).
			Str("lead_id", lead.ID).
			Str("payment_intent_id", req.IntentID).
			Msg("payment captured but lead already sold; refund required")
		return nil, &ConflictError{Resource: "lead", ID: lead.ID, Err: ErrLeadUnavailable}
	}

	observability.Purchases.WithLabelValues("completed").Inc()
	return &PurchaseResult{Purchase: p, Settled: s.settle(ctx, p)}, nil
}

// PurchaseWithCredits buys leadID with workspace credits. The credit debit,
// the purchase record and the claim share one transaction; losing the claim
// refunds nothing because nothing was spent.
func (s *PurchaseService) PurchaseWithCredits(ctx context.Context, leadID, workspaceID, userID string) (*PurchaseResult, error) {
	tr := otel.Tracer("services/PurchaseService")
	ctx, span := tr.Start(ctx, "PurchaseWithCredits",
		trace.WithAttributes(
			attribute.String("lead.id", leadID),
			attribute.String("workspace.id", workspaceID),
		),
	)
	defer span.End()

	if strings.TrimSpace(workspaceID) == "" {
		return nil, invalid("workspace_id", "is required")
	}
	if s.Credits == nil {
		return nil, errors.New("credit purchases are not configured")
	}
	lead, err := s.lead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.Status != domain.LeadAvailable {
		return nil, &ConflictError{Resource: "lead", ID: leadID, Err: ErrLeadUnavailable}
	}

	cost := s.CreditsPerLead
	if cost <= 0 {
		cost = 1
	}
	id := uuid.NewString()
	p := &domain.MarketplacePurchase{
		ID:               id,
		BuyerWorkspaceID: workspaceID,
		BuyerUserID:      userID,
		LeadID:           lead.ID,
		PaymentIntentID:  "credits_" + id,
		PaymentMethod:    domain.PaymentMethodCredits,
		TotalPriceCents:  lead.PriceCents,
		Currency:         s.currency(lead.Currency),
	}
	_, err = s.record(ctx, p, lead, func(tx *gorm.DB) error {
		return s.Credits.Debit(ctx, tx, workspaceID, "purchase:"+id, cost)
	})
	if errors.Is(err, errClaimLost) {
		observability.Purchases.WithLabelValues("lost_race").Inc()
		return nil, &ConflictError{Resource: "lead", ID: lead.ID, Err: ErrLeadUnavailable}
	}
	if err != nil {
		return nil, err
	}
	observability.Purchases.WithLabelValues("completed").Inc()
	return &PurchaseResult{Purchase: p, Settled: s.settle(ctx, p)}, nil
}

// WebhookResult reports what a webhook delivery did.
type WebhookResult struct {
	EventID string `json:"event_id"`
	Handled bool   `json:"handled"`
	Outcome string `json:"outcome"`
}

// HandleWebhook verifies and applies a provider event. Only
// payment_intent.succeeded is acted upon; it confirms the purchase exactly
// like the buyer-driven path, so whichever arrives first records it.
func (s *PurchaseService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if s.Webhooks == nil {
		return nil, payments.ErrInvalidSignature
	}
	if err := s.Webhooks.Verify(payload, signature); err != nil {
		return nil, err
	}
	ev, err := payments.ParseEvent(payload)
	if err != nil {
		return nil, err
	}
	res := &WebhookResult{EventID: ev.ID, Outcome: "ignored"}
	if ev.Type != payments.EventIntentSucceeded || ev.Intent == nil {
		return res, nil
	}

	_, err = s.Confirm(ctx, ConfirmRequest{
		LeadID:      ev.Intent.Metadata[payments.MetaLeadID],
		WorkspaceID: ev.Intent.Metadata[payments.MetaBuyerWorkspaceID],
		IntentID:    ev.Intent.ID,
	})
	res.Handled = true
	switch {
	case err == nil:
		res.Outcome = "confirmed"
	case errors.Is(err, ErrLeadUnavailable):
		res.Outcome = domain.FailureLeadUnavailable
	case errors.Is(err, ErrIntentMismatch), errors.Is(err, ErrLeadNotFound), errors.Is(err, ErrInvalidInput):
		res.Outcome = "rejected"
		log.Warn().Err(err).Str("component", "purchase_service").Str("event_id", ev.ID).Msg("webhook intent not applicable")
	default:
		return nil, err
	}
	return res, nil
}

// record inserts the purchase and claims the lead in one transaction. pre,
// when set, runs first inside the same transaction.
//
// For card purchases a lost claim is committed as a failed purchase and
// reported as claimed=false. For credit purchases it aborts with
// errClaimLost so the debit rolls back.
func (s *PurchaseService) record(ctx context.Context, p *domain.MarketplacePurchase, lead *domain.CanonicalLead, pre func(tx *gorm.DB) error) (bool, error) {
	var claimed bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if pre != nil {
			if err := pre(tx); err != nil {
				return err
			}
		}
		if err := repo.CreatePurchase(ctx, tx, p); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return errPurchaseRecorded
			}
			return err
		}

		now := s.now()
		ok, err := repo.ClaimLead(ctx, tx, lead.ID, p.BuyerWorkspaceID, now)
		if err != nil {
			return err
		}
		if !ok {
			if p.PaymentMethod == domain.PaymentMethodCredits {
				return errClaimLost
			}
			if err := repo.FailPurchase(ctx, tx, p.ID, domain.FailureLeadUnavailable); err != nil {
				return err
			}
			reason := domain.FailureLeadUnavailable
			p.Status, p.FailureReason = domain.PurchaseFailed, &reason
			return nil
		}

		item := &domain.PurchaseItem{
			PurchaseID: p.ID,
			LeadID:     lead.ID,
			PartnerID:  lead.PartnerID,
			PriceCents: p.TotalPriceCents,
		}
		if err := repo.CreatePurchaseItem(ctx, tx, item); err != nil {
			return err
		}
		if err := repo.CompletePurchase(ctx, tx, p.ID, now); err != nil {
			return err
		}
		p.Status, p.CompletedAt, p.Items = domain.PurchaseCompleted, &now, []domain.PurchaseItem{*item}
		claimed = true
		return nil
	})
	return claimed, err
}

// replayPurchase answers a repeated confirmation from the recorded row. The
// row must belong to the same buyer and lead as the request.
func (s *PurchaseService) replayPurchase(ctx context.Context, p *domain.MarketplacePurchase, leadID, workspaceID string) (*PurchaseResult, error) {
	if p.BuyerWorkspaceID != workspaceID {
		return nil, ErrForbidden
	}
	recorded := purchasedLeadID(p)
	if recorded != "" && recorded != leadID {
		return nil, ErrIntentMismatch
	}
	observability.Purchases.WithLabelValues("replay").Inc()
	if p.Status == domain.PurchaseFailed {
		return nil, &ConflictError{Resource: "lead", ID: leadID, Err: ErrLeadUnavailable}
	}
	return &PurchaseResult{Purchase: p, AlreadyRecorded: true, Settled: s.settle(ctx, p)}, nil
}

// purchasedLeadID returns the lead p was for, falling back to its item.
func purchasedLeadID(p *domain.MarketplacePurchase) string {
	if p.LeadID != "" {
		return p.LeadID
	}
	if len(p.Items) > 0 {
		return p.Items[0].LeadID
	}
	return ""
}

// settle credits the commission and reports whether the purchase is
// settled. Failures are logged and left to the reconciler.
func (s *PurchaseService) settle(ctx context.Context, p *domain.MarketplacePurchase) bool {
	if s.Ledger == nil || p.Status != domain.PurchaseCompleted {
		return false
	}
	if _, err := s.Ledger.Settle(ctx, p, domain.SettlementInline); err != nil {
		log.Warn().Err(err).
			Str("component", "purchase_service").
			Str("purchase_id", p.ID).
			Msg("settlement deferred to reconciler")
		return false
	}
	return true
}

func (s *PurchaseService) lead(ctx context.Context, id string) (*domain.CanonicalLead, error) {
	l, err := repo.GetLead(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}
	return l, nil
}

func (s *PurchaseService) currency(c string) string {
	if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
		return c
	}
	if s.Currency != "" {
		return s.Currency
	}
	return "usd"
}

func (s *PurchaseService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// providerError maps payment adapter failures onto service errors.
func providerError(err error) error {
	switch {
	case errors.Is(err, payments.ErrProviderUnavailable):
		return fmt.Errorf("%w: %w", ErrPaymentProviderUnavailable, err)
	case errors.Is(err, payments.ErrIntentNotFound):
		return ErrIntentMismatch
	default:
		return err
	}
}

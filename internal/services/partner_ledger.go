// Package services – PartnerLedger
//
// This file implements partner commission balances, tiers and payouts.
//
// Settlement is keyed by purchase id: the settlement row and the balance
// credit commit together, and the unique purchase_id index turns every
// repeat into a no-op. Payout requests hold (debit) the amount when accepted;
// a unique "open slot" index lets the database reject a second open request
// for the same partner even when two requests race.
package services

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-lead-exchange/internal/domain"
	"github.com/tbourn/go-lead-exchange/internal/observability"
	"github.com/tbourn/go-lead-exchange/internal/repo"
)

// PartnerLedger owns partner balances and payout requests.
type PartnerLedger struct {
	DB *gorm.DB

	// Tiers maps lifetime uploaded leads to a commission rate.
	Tiers domain.TierTable

	// ThresholdCents is the minimum payout for ledgers created from now on.
	ThresholdCents int64
}

// NewPartnerLedger returns a ledger over tiers with the given payout minimum.
func NewPartnerLedger(db *gorm.DB, tiers domain.TierTable, thresholdCents int64) *PartnerLedger {
	return &PartnerLedger{DB: db, Tiers: tiers, ThresholdCents: thresholdCents}
}

// LedgerView is a partner's balance together with its tier position.
type LedgerView struct {
	Ledger          domain.PartnerLedger  `json:"ledger"`
	Tier            domain.Tier           `json:"tier"`
	NextTier        *domain.Tier          `json:"next_tier,omitempty"`
	LeadsToNextTier int64                 `json:"leads_to_next_tier,omitempty"`
	LeadsSold       int64                 `json:"leads_sold"`
	OpenPayout      *domain.PayoutRequest `json:"open_payout,omitempty"`
}

// TierFor returns the tier for a lifetime lead count.
func (s *PartnerLedger) TierFor(lifetime int64) domain.Tier { return s.Tiers.For(lifetime) }

// Balance returns partnerID's ledger view, creating an empty ledger on first
// access.
func (s *PartnerLedger) Balance(ctx context.Context, partnerID string) (*LedgerView, error) {
	if strings.TrimSpace(partnerID) == "" {
		return nil, invalid("partner_id", "is required")
	}
	if err := repo.EnsurePartnerLedger(ctx, s.DB, partnerID, s.ThresholdCents); err != nil {
		return nil, err
	}
	l, err := repo.GetPartnerLedger(ctx, s.DB, partnerID)
	if err != nil {
		return nil, err
	}
	sales, err := repo.PartnerSalesStats(ctx, s.DB, partnerID)
	if err != nil {
		return nil, err
	}

	v := &LedgerView{Ledger: *l, Tier: s.Tiers.For(l.LifetimeLeadsUploaded), LeadsSold: sales.LeadsSold}
	if next, ok := s.Tiers.Next(l.LifetimeLeadsUploaded); ok {
		v.NextTier = &next
		v.LeadsToNextTier = next.MinLeads - l.LifetimeLeadsUploaded
	}
	if pr, err := repo.GetOpenPayoutRequest(ctx, s.DB, partnerID); err == nil {
		v.OpenPayout = pr
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	return v, nil
}

// SetPayoutAccount records the partner's connected payout account.
func (s *PartnerLedger) SetPayoutAccount(ctx context.Context, partnerID, accountID string, enabled bool) error {
	if strings.TrimSpace(partnerID) == "" {
		return invalid("partner_id", "is required")
	}
	if err := repo.EnsurePartnerLedger(ctx, s.DB, partnerID, s.ThresholdCents); err != nil {
		return err
	}
	return repo.SetPayoutAccount(ctx, s.DB, partnerID, strings.TrimSpace(accountID), enabled)
}

// RequestPayout holds amountCents of partnerID's balance for a payout.
//
// Checks run in order and the first failure is returned as a
// LedgerInvariantViolation: onboarded, amount ≥ threshold, amount ≤ balance,
// no other open request. The debit and the request insert share a
// transaction, so a request rejected by the open-slot index gives the amount
// back.
func (s *PartnerLedger) RequestPayout(ctx context.Context, partnerID string, amountCents int64) (*domain.PayoutRequest, error) {
	tr := otel.Tracer("services/PartnerLedger")
	ctx, span := tr.Start(ctx, "RequestPayout",
		trace.WithAttributes(
			attribute.String("partner.id", partnerID),
			attribute.Int64("payout.amount_cents", amountCents),
		),
	)
	defer span.End()

	if strings.TrimSpace(partnerID) == "" {
		return nil, invalid("partner_id", "is required")
	}
	if amountCents <= 0 {
		return nil, invalid("amount_cents", "must be positive")
	}
	if err := repo.EnsurePartnerLedger(ctx, s.DB, partnerID, s.ThresholdCents); err != nil {
		return nil, err
	}

	var out *domain.PayoutRequest
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := repo.GetPartnerLedger(ctx, tx, partnerID)
		if err != nil {
			return err
		}
		switch {
		case !l.Onboarded():
			return violation(ErrPayoutAccountNotReady)
		case amountCents < l.PayoutThresholdCents:
			return violation(ErrBelowPayoutThreshold)
		case amountCents > l.AvailableBalanceCents:
			return violation(ErrInsufficientBalance)
		}
		if _, err := repo.GetOpenPayoutRequest(ctx, tx, partnerID); err == nil {
			return violation(ErrPayoutAlreadyPending)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		ok, err := repo.DebitPartnerIfCovered(ctx, tx, partnerID, amountCents)
		if err != nil {
			return err
		}
		if !ok {
			return violation(ErrInsufficientBalance)
		}
		pr := &domain.PayoutRequest{PartnerID: partnerID, AmountCents: amountCents}
		if err := repo.CreatePayoutRequest(ctx, tx, pr); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return violation(ErrPayoutAlreadyPending)
			}
			return err
		}
		out = pr
		return nil
	})
	if err != nil {
		var v *LedgerInvariantViolation
		if errors.As(err, &v) {
			observability.PayoutRequests.WithLabelValues(v.Reason).Inc()
		}
		return nil, err
	}
	observability.PayoutRequests.WithLabelValues("accepted").Inc()
	return out, nil
}

// PayoutOutcome is an operator decision on a payout request.
type PayoutOutcome string

const (
	PayoutApprove  PayoutOutcome = "approve"
	PayoutMarkPaid PayoutOutcome = "paid"
	PayoutReject   PayoutOutcome = "reject"
)

// ResolvePayout applies an operator decision. Rejecting returns the held
// amount to the balance and frees the partner's open slot.
func (s *PartnerLedger) ResolvePayout(ctx context.Context, payoutID string, outcome PayoutOutcome, reason string) (*domain.PayoutRequest, error) {
	var (
		from []domain.PayoutStatus
		next domain.PayoutStatus
	)
	switch outcome {
	case PayoutApprove:
		from, next = []domain.PayoutStatus{domain.PayoutPending}, domain.PayoutApproved
	case PayoutMarkPaid:
		from, next = []domain.PayoutStatus{domain.PayoutPending, domain.PayoutApproved}, domain.PayoutPaid
	case PayoutReject:
		from, next = []domain.PayoutStatus{domain.PayoutPending, domain.PayoutApproved}, domain.PayoutRejected
	default:
		return nil, invalid("outcome", "must be approve, paid or reject")
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pr, err := repo.GetPayoutRequest(ctx, tx, payoutID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrPayoutNotFound
			}
			return err
		}
		var why *string
		if outcome == PayoutReject && strings.TrimSpace(reason) != "" {
			why = &reason
		}
		changed, err := repo.TransitionPayoutRequest(ctx, tx, payoutID, from, next, why)
		if err != nil {
			return err
		}
		if !changed {
			return &ConflictError{Resource: "payout", ID: payoutID, Err: errors.New("status is " + string(pr.Status))}
		}
		if outcome == PayoutReject {
			return repo.RestorePartnerBalance(ctx, tx, pr.PartnerID, pr.AmountCents)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repo.GetPayoutRequest(ctx, s.DB, payoutID)
}

// Settle credits the commission for a completed purchase. It reports whether
// this call applied the settlement; a purchase is settled at most once.
func (s *PartnerLedger) Settle(ctx context.Context, p *domain.MarketplacePurchase, source string) (bool, error) {
	tr := otel.Tracer("services/PartnerLedger")
	ctx, span := tr.Start(ctx, "Settle",
		trace.WithAttributes(
			attribute.String("purchase.id", p.ID),
			attribute.String("settlement.source", source),
		),
	)
	defer span.End()

	if p.Status != domain.PurchaseCompleted || len(p.Items) == 0 {
		return false, nil
	}
	partnerID := p.Items[0].PartnerID
	var gross int64
	for _, it := range p.Items {
		gross += it.PriceCents
	}

	var applied bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.EnsurePartnerLedger(ctx, tx, partnerID, s.ThresholdCents); err != nil {
			return err
		}
		l, err := repo.GetPartnerLedger(ctx, tx, partnerID)
		if err != nil {
			return err
		}
		tier := s.Tiers.For(l.LifetimeLeadsUploaded)
		commission, fee := tier.Split(gross)

		inserted, err := repo.InsertSettlementIfAbsent(ctx, tx, &domain.CommissionSettlement{
			PurchaseID:       p.ID,
			PartnerID:        partnerID,
			GrossCents:       gross,
			CommissionCents:  commission,
			PlatformFeeCents: fee,
			CommissionRate:   tier.Rate.String(),
			Tier:             tier.Name,
			Source:           source,
		})
		if err != nil || !inserted {
			return err
		}
		applied = true
		return repo.CreditPartner(ctx, tx, partnerID, commission)
	})
	if err != nil {
		return false, err
	}
	if applied {
		observability.Settlements.WithLabelValues(source).Inc()
	}
	span.SetAttributes(attribute.Bool("settlement.applied", applied))
	return applied, nil
}

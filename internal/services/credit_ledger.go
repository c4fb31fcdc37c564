// Package services – CreditLedger
//
// This file implements workspace credits. A free trial grant is a single
// insert guarded by the (workspace_id, grant_type) unique index; only the
// caller that actually inserted the grant moves on to the balance step.
// Every balance step is itself keyed by a unique reference in
// credit_transactions, so retrying it (here or from the reconciler) never
// applies it twice.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-lead-exchange/internal/domain"
	"github.com/tbourn/go-lead-exchange/internal/observability"
	"github.com/tbourn/go-lead-exchange/internal/repo"
)

// Credit transaction reasons.
const (
	CreditReasonFreeTrial = "free_trial"
	CreditReasonTopUp     = "top_up"
	CreditReasonPurchase  = "purchase"
)

// CreditLedger owns workspace credit balances.
type CreditLedger struct {
	DB *gorm.DB

	// FreeTrialCredits is the size of the one-time grant.
	FreeTrialCredits int64

	// MaxRetries and InitialInterval bound the retry of the balance step that
	// follows a new grant.
	MaxRetries      uint64
	InitialInterval time.Duration
}

// NewCreditLedger returns a ledger granting freeTrial credits once per
// workspace.
func NewCreditLedger(db *gorm.DB, freeTrial int64) *CreditLedger {
	return &CreditLedger{
		DB:               db,
		FreeTrialCredits: freeTrial,
		MaxRetries:       3,
		InitialInterval:  50 * time.Millisecond,
	}
}

// GrantResult describes the outcome of GrantFreeCredits.
type GrantResult struct {
	// Granted is true only for the call that created the grant.
	Granted bool   `json:"granted"`
	GrantID string `json:"grant_id"`
	Credits int64  `json:"credits"`
	Balance int64  `json:"balance"`
	// CreditPending is set when the grant exists but its balance step has not
	// been applied yet; the reconciler finishes it.
	CreditPending bool `json:"credit_pending,omitempty"`
}

// GrantFreeCredits gives workspaceID its free trial credits exactly once.
// Concurrent and repeated calls observe Granted=false and the existing grant.
func (s *CreditLedger) GrantFreeCredits(ctx context.Context, workspaceID string) (*GrantResult, error) {
	tr := otel.Tracer("services/CreditLedger")
	ctx, span := tr.Start(ctx, "GrantFreeCredits",
		trace.WithAttributes(attribute.String("workspace.id", workspaceID)))
	defer span.End()

	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, invalid("workspace_id", "is required")
	}

	g := &domain.CreditGrant{
		WorkspaceID:    workspaceID,
		GrantType:      domain.GrantFreeTrial,
		CreditsGranted: s.FreeTrialCredits,
	}
	created, err := repo.InsertCreditGrantIfAbsent(ctx, s.DB, g)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("grant.created", created))

	if !created {
		observability.CreditGrants.WithLabelValues("already_granted").Inc()
		existing, err := repo.GetCreditGrant(ctx, s.DB, workspaceID, domain.GrantFreeTrial)
		if err != nil {
			return nil, err
		}
		bal, err := repo.GetWorkspaceBalance(ctx, s.DB, workspaceID)
		if err != nil {
			return nil, err
		}
		return &GrantResult{GrantID: existing.ID, Credits: existing.CreditsGranted, Balance: bal}, nil
	}

	observability.CreditGrants.WithLabelValues("granted").Inc()
	res := &GrantResult{Granted: true, GrantID: g.ID, Credits: g.CreditsGranted}

	err = backoff.Retry(func() error {
		_, err := s.ApplyGrant(ctx, g)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}, s.policy(ctx))
	if err != nil {
		log.Warn().Err(err).
			Str("component", "credit_ledger").
			Str("workspace_id", workspaceID).
			Str("grant_id", g.ID).
			Msg("grant recorded, balance step deferred to reconciler")
		res.CreditPending = true
	}

	bal, err := repo.GetWorkspaceBalance(ctx, s.DB, workspaceID)
	if err != nil {
		return nil, err
	}
	res.Balance = bal
	return res, nil
}

// ApplyGrant applies the balance step of an existing grant. It reports
// whether this call applied it.
func (s *CreditLedger) ApplyGrant(ctx context.Context, g *domain.CreditGrant) (bool, error) {
	return s.apply(ctx, s.DB, g.WorkspaceID, repo.GrantReference(g.ID), g.CreditsGranted, CreditReasonFreeTrial)
}

// TopUp adds amount credits to workspaceID. reference identifies the top-up
// (for example a payment id); repeating it is a no-op reported as false.
func (s *CreditLedger) TopUp(ctx context.Context, workspaceID, reference string, amount int64) (bool, error) {
	switch {
	case strings.TrimSpace(workspaceID) == "":
		return false, invalid("workspace_id", "is required")
	case strings.TrimSpace(reference) == "":
		return false, invalid("reference", "is required")
	case amount <= 0:
		return false, invalid("amount", "must be positive")
	}
	return s.apply(ctx, s.DB, workspaceID, "topup:"+reference, amount, CreditReasonTopUp)
}

// Debit spends amount credits inside tx. It fails with an
// ErrInsufficientCredits violation when the balance does not cover it, which
// rolls back the caller's transaction. A reference that was already applied
// is a no-op.
func (s *CreditLedger) Debit(ctx context.Context, tx *gorm.DB, workspaceID, reference string, amount int64) error {
	if amount <= 0 {
		return invalid("amount", "must be positive")
	}
	inserted, err := repo.InsertCreditTransactionIfAbsent(ctx, tx, &domain.CreditTransaction{
		WorkspaceID: workspaceID,
		Reference:   reference,
		Amount:      -amount,
		Reason:      CreditReasonPurchase,
	})
	if err != nil || !inserted {
		return err
	}
	ok, err := repo.DebitWorkspaceCredits(ctx, tx, workspaceID, amount)
	if err != nil {
		return err
	}
	if !ok {
		return violation(ErrInsufficientCredits)
	}
	return nil
}

// Balance returns the spendable credits of workspaceID.
func (s *CreditLedger) Balance(ctx context.Context, workspaceID string) (int64, error) {
	return repo.GetWorkspaceBalance(ctx, s.DB, workspaceID)
}

// apply records the transaction and moves the balance in one transaction.
func (s *CreditLedger) apply(ctx context.Context, db *gorm.DB, workspaceID, reference string, amount int64, reason string) (bool, error) {
	var applied bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := repo.InsertCreditTransactionIfAbsent(ctx, tx, &domain.CreditTransaction{
			WorkspaceID: workspaceID,
			Reference:   reference,
			Amount:      amount,
			Reason:      reason,
		})
		if err != nil || !inserted {
			return err
		}
		applied = true
		return repo.AddWorkspaceCredits(ctx, tx, workspaceID, amount)
	})
	return applied, err
}

func (s *CreditLedger) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if s.InitialInterval > 0 {
		eb.InitialInterval = s.InitialInterval
	}
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, s.MaxRetries), ctx)
}

package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-lead-exchange/internal/domain"
)

func TestPartnerLedger_CreditDebitRestore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := CreditPartner(ctx, db, "p1", 100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("credit without ledger must be ErrNotFound, got %v", err)
	}
	if err := EnsurePartnerLedger(ctx, db, "p1", 5000); err != nil {
		t.Fatalf("EnsurePartnerLedger: %v", err)
	}
	// Idempotent.
	if err := EnsurePartnerLedger(ctx, db, "p1", 1); err != nil {
		t.Fatalf("EnsurePartnerLedger again: %v", err)
	}

	if err := CreditPartner(ctx, db, "p1", 7000); err != nil {
		t.Fatalf("CreditPartner: %v", err)
	}
	ok, err := DebitPartnerIfCovered(ctx, db, "p1", 8000)
	if err != nil || ok {
		t.Fatalf("overdraft debit must not apply: ok=%v err=%v", ok, err)
	}
	ok, err = DebitPartnerIfCovered(ctx, db, "p1", 6000)
	if err != nil || !ok {
		t.Fatalf("covered debit: ok=%v err=%v", ok, err)
	}
	if err := RestorePartnerBalance(ctx, db, "p1", 6000); err != nil {
		t.Fatalf("restore: %v", err)
	}

	l, _ := GetPartnerLedger(ctx, db, "p1")
	if l.AvailableBalanceCents != 7000 || l.LifetimeEarningsCents != 7000 || l.PayoutThresholdCents != 5000 {
		t.Fatalf("unexpected ledger: %+v", l)
	}
}

func TestIncrementLifetimeLeads_Upserts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := IncrementLifetimeLeads(ctx, db, "p9", 3); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := IncrementLifetimeLeads(ctx, db, "p9", 4); err != nil {
		t.Fatalf("second: %v", err)
	}
	l, err := GetPartnerLedger(ctx, db, "p9")
	if err != nil || l.LifetimeLeadsUploaded != 7 {
		t.Fatalf("lifetime = %+v,%v", l, err)
	}
}

func TestSetPayoutAccount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_ = EnsurePartnerLedger(ctx, db, "p1", 0)
	if err := SetPayoutAccount(ctx, db, "p1", "acct_1", true); err != nil {
		t.Fatalf("SetPayoutAccount: %v", err)
	}
	l, _ := GetPartnerLedger(ctx, db, "p1")
	if !l.Onboarded() {
		t.Fatalf("expected onboarded ledger: %+v", l)
	}
	_ = SetPayoutAccount(ctx, db, "p1", "", false)
	l, _ = GetPartnerLedger(ctx, db, "p1")
	if l.Onboarded() || l.PayoutAccountID != nil {
		t.Fatalf("expected cleared account: %+v", l)
	}
}

func TestPayoutRequest_OneOpenPerPartner(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &domain.PayoutRequest{PartnerID: "p1", AmountCents: 100}
	if err := CreatePayoutRequest(ctx, db, first); err != nil {
		t.Fatalf("first: %v", err)
	}
	second := &domain.PayoutRequest{PartnerID: "p1", AmountCents: 200}
	if err := CreatePayoutRequest(ctx, db, second); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second open request, got %v", err)
	}
	// Another partner is unaffected.
	if err := CreatePayoutRequest(ctx, db, &domain.PayoutRequest{PartnerID: "p2", AmountCents: 100}); err != nil {
		t.Fatalf("other partner: %v", err)
	}

	open, err := GetOpenPayoutRequest(ctx, db, "p1")
	if err != nil || open.ID != first.ID {
		t.Fatalf("GetOpenPayoutRequest = %+v,%v", open, err)
	}

	reason := "bank details invalid"
	ok, err := TransitionPayoutRequest(ctx, db, first.ID, []domain.PayoutStatus{domain.PayoutPending, domain.PayoutApproved}, domain.PayoutRejected, &reason)
	if err != nil || !ok {
		t.Fatalf("reject: ok=%v err=%v", ok, err)
	}
	// Rejecting again is a no-op.
	ok, _ = TransitionPayoutRequest(ctx, db, first.ID, []domain.PayoutStatus{domain.PayoutPending, domain.PayoutApproved}, domain.PayoutRejected, nil)
	if ok {
		t.Fatalf("terminal request must not transition again")
	}

	got, _ := GetPayoutRequest(ctx, db, first.ID)
	if got.OpenSlot != nil || got.ResolvedAt == nil || got.RejectionReason == nil {
		t.Fatalf("terminal request must release its slot: %+v", got)
	}
	if _, err := GetOpenPayoutRequest(ctx, db, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no open request, got %v", err)
	}

	// The slot is free again.
	if err := CreatePayoutRequest(ctx, db, &domain.PayoutRequest{PartnerID: "p1", AmountCents: 300}); err != nil {
		t.Fatalf("new request after rejection: %v", err)
	}
}

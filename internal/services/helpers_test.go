package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-lead-exchange/internal/domain"
	"github.com/tbourn/go-lead-exchange/internal/payments"
	"github.com/tbourn/go-lead-exchange/internal/repo"
)

// ---------- test helpers ----------

// newTestDB opens a migrated in-memory database private to the test. A
// single connection serializes writers so concurrent tests exercise the
// conditional updates rather than SQLite's table locks.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testTiers(t *testing.T) domain.TierTable {
	t.Helper()
	tt, err := domain.DefaultTiers(1000, 5000,
		decimal.RequireFromString("0.40"),
		decimal.RequireFromString("0.50"),
		decimal.RequireFromString("0.60"))
	if err != nil {
		t.Fatalf("DefaultTiers: %v", err)
	}
	return tt
}

// seedLead lists an available lead for partnerID priced at 2500.
func seedLead(t *testing.T, db *gorm.DB, partnerID string) *domain.CanonicalLead {
	t.Helper()
	l := &domain.CanonicalLead{
		Fingerprint:        "v1:" + uuid.NewString(),
		PartnerID:          partnerID,
		BatchID:            uuid.NewString(),
		CompanyName:        "Acme Analytics",
		Domain:             "acme.example.com",
		Industry:           "Software",
		City:               "Austin",
		Country:            "US",
		ContactName:        "Jane Doe",
		Email:              "jane@acme.example.com",
		Phone:              "+1 512 555 0142",
		IntentScore:        80,
		VerificationStatus: domain.VerificationVerified,
		PriceCents:         2500,
		Currency:           "usd",
	}
	ok, err := repo.InsertLeadIfAbsent(context.Background(), db, l)
	if err != nil || !ok {
		t.Fatalf("seed lead: ok=%v err=%v", ok, err)
	}
	return l
}

// fakeProvider is an in-memory payment provider.
type fakeProvider struct {
	mu          sync.Mutex
	seq         int
	intents     map[string]*payments.Intent
	byKey       map[string]string
	creates     int
	createErr   error
	retrieveErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{intents: map[string]*payments.Intent{}, byKey: map[string]string{}}
}

func (f *fakeProvider) CreateIntent(_ context.Context, p payments.CreateIntentParams) (*payments.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if id, ok := f.byKey[p.IdempotencyKey]; ok && p.IdempotencyKey != "" {
		cp := *f.intents[id]
		return &cp, nil
	}
	f.seq++
	f.creates++
	id := fmt.Sprintf("pi_%d", f.seq)
	meta := make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		meta[k] = v
	}
	f.intents[id] = &payments.Intent{
		ID:           id,
		Status:       payments.StatusRequiresPaymentMethod,
		Amount:       p.AmountCents,
		Currency:     p.Currency,
		ClientSecret: id + "_secret",
		Metadata:     meta,
	}
	if p.IdempotencyKey != "" {
		f.byKey[p.IdempotencyKey] = id
	}
	cp := *f.intents[id]
	return &cp, nil
}

func (f *fakeProvider) RetrieveIntent(_ context.Context, id string) (*payments.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	in, ok := f.intents[id]
	if !ok {
		return nil, payments.ErrIntentNotFound
	}
	cp := *in
	return &cp, nil
}

// paid registers a succeeded intent for leadID bought by workspaceID.
func (f *fakeProvider) paid(id, leadID, workspaceID string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[id] = &payments.Intent{
		ID:       id,
		Status:   payments.StatusSucceeded,
		Amount:   amount,
		Currency: "usd",
		Metadata: map[string]string{
			payments.MetaLeadID:           leadID,
			payments.MetaBuyerWorkspaceID: workspaceID,
		},
	}
}

func (f *fakeProvider) succeed(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[id].Status = payments.StatusSucceeded
}

// fixture wires the ledgers and purchase service over one database.
type fixture struct {
	db        *gorm.DB
	provider  *fakeProvider
	ledger    *PartnerLedger
	credits   *CreditLedger
	purchases *PurchaseService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	fp := newFakeProvider()
	ledger := NewPartnerLedger(db, testTiers(t), 5000)
	credits := NewCreditLedger(db, 10)
	return &fixture{
		db:       db,
		provider: fp,
		ledger:   ledger,
		credits:  credits,
		purchases: &PurchaseService{
			DB:             db,
			Provider:       fp,
			Webhooks:       payments.NewWebhookVerifier("whsec_test"),
			Ledger:         ledger,
			Credits:        credits,
			Currency:       "usd",
			CreditsPerLead: 1,
			IdempotencyTTL: 24 * time.Hour,
		},
	}
}

func count(t *testing.T, db *gorm.DB, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}

package dedup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"

	"github.com/tbourn/go-lead-exchange/internal/domain"
	"github.com/tbourn/go-lead-exchange/internal/repo"
)

// Outcome classifies one row against the batch and the persisted pool.
type Outcome int

const (
	New Outcome = iota
	DuplicateInBatch
	DuplicateInPool
)

func (o Outcome) String() string {
	switch o {
	case New:
		return "new"
	case DuplicateInBatch:
		return "duplicate_in_batch"
	case DuplicateInPool:
		return "duplicate_in_pool"
	default:
		return "unknown"
	}
}

// Seen is the set of fingerprints observed in one batch. It is safe for
// concurrent use by the row workers of that batch.
type Seen struct {
	m sync.Map
}

// NewSeen returns an empty set.
func NewSeen() *Seen { return &Seen{} }

// FirstSighting records fp and reports whether it was not seen before.
func (s *Seen) FirstSighting(fp string) bool {
	_, loaded := s.m.LoadOrStore(fp, struct{}{})
	return !loaded
}

// Index is the persisted fingerprint to lead mapping. Inserts go through the
// unique fingerprint index, so two batches racing on the same lead still
// produce a single row.
type Index struct {
	DB *gorm.DB

	// MaxRetries bounds attempts on transient insert errors.
	MaxRetries uint64
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration
}

// NewIndex returns an Index with a small exponential retry budget.
func NewIndex(db *gorm.DB) *Index {
	return &Index{DB: db, MaxRetries: 3, InitialInterval: 50 * time.Millisecond}
}

// Admit classifies lead and persists it when its fingerprint is new to both
// the batch and the pool. lead.Fingerprint must already be set.
func (ix *Index) Admit(ctx context.Context, seen *Seen, lead *domain.CanonicalLead) (Outcome, error) {
	if !seen.FirstSighting(lead.Fingerprint) {
		return DuplicateInBatch, nil
	}

	var inserted bool
	op := func() error {
		ok, err := repo.InsertLeadIfAbsent(ctx, ix.DB, lead)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			return err
		}
		inserted = ok
		return nil
	}
	if err := backoff.Retry(op, ix.policy(ctx)); err != nil {
		return New, err
	}
	if !inserted {
		return DuplicateInPool, nil
	}
	return New, nil
}

// Lookup returns the id of the lead holding fp, or repo.ErrNotFound.
func (ix *Index) Lookup(ctx context.Context, fp string) (string, error) {
	return repo.FindLeadIDByFingerprint(ctx, ix.DB, fp)
}

func (ix *Index) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if ix.InitialInterval > 0 {
		eb.InitialInterval = ix.InitialInterval
	}
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, ix.MaxRetries), ctx)
}

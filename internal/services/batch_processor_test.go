package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"

	"github.com/tbourn/go-lead-exchange/internal/dedup"
	"github.com/tbourn/go-lead-exchange/internal/domain"
	"github.com/tbourn/go-lead-exchange/internal/repo"
	"github.com/tbourn/go-lead-exchange/internal/storage"
)

var leadHeader = []string{"Company Name", "Website", "Email", "Phone", "City", "Country", "Intent Score", "Source"}

// fakeRows returns n distinct valid lead rows.
func fakeRows(seed int64, n int) [][]string {
	f := gofakeit.New(seed)
	out := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		domainName := fmt.Sprintf("co%d-%d.example.com", seed, i)
		out = append(out, []string{
			f.Company(),
			domainName,
			fmt.Sprintf("%s.%d@%s", strings.ToLower(f.FirstName()), i, domainName),
			f.Phone(),
			f.City(),
			"US",
			strconv.Itoa(f.Number(0, 100)),
			"trade-show",
		})
	}
	return out
}

func encodeCSV(t *testing.T, header []string, rows [][]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			t.Fatalf("write row: %v", err)
		}
	}
	w.Flush()
	return buf.Bytes()
}

func newTestStore(t *testing.T) *storage.Local {
	t.Helper()
	s, err := storage.NewLocal(t.TempDir(), "http://localhost:8080/files", []byte("test-signing-key"))
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	return s
}

func newTestProcessor(db *gorm.DB, store storage.Store) *BatchProcessor {
	return &BatchProcessor{
		DB:            db,
		Store:         store,
		Index:         dedup.NewIndex(db),
		Normalizer:    dedup.NewNormalizer(),
		Workers:       4,
		FlushRows:     10,
		FlushInterval: time.Second,
		PriceCents:    2500,
		Currency:      "usd",
		SignedURLTTL:  time.Hour,
	}
}

// pendingBatch registers a batch for partnerID and stores data as its file.
func pendingBatch(t *testing.T, db *gorm.DB, store storage.Store, partnerID string, data []byte) *domain.UploadBatch {
	t.Helper()
	b := &domain.UploadBatch{PartnerID: partnerID, FileName: "leads.csv"}
	if err := repo.CreateBatch(context.Background(), db, b); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	b.StoragePath = storage.UploadKey(partnerID, b.ID)
	if err := db.Model(b).Update("storage_path", b.StoragePath).Error; err != nil {
		t.Fatalf("set path: %v", err)
	}
	if data != nil {
		if err := store.Put(context.Background(), b.StoragePath, bytes.NewReader(data), "text/csv"); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	return b
}

func TestBatchProcessor_Process_MixedFile(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t)
	p := newTestProcessor(db, store)
	ctx := context.Background()

	valid := fakeRows(1, 85)
	rows := append([][]string{}, valid...)
	rows = append(rows, valid[:5]...) // in-file duplicates
	rows = append(rows,
		[]string{"", "blank.example.com", "a@blank.example.com", "", "", "", "10", ""},
		[]string{"", "blank2.example.com", "b@blank2.example.com", "", "", "", "10", ""},
		[]string{"", "blank3.example.com", "c@blank3.example.com", "", "", "", "10", ""},
		[]string{"Bad Mail Inc", "badmail.example.com", "not-an-email", "", "", "", "10", ""},
		[]string{"Bad Mail Two", "badmail2.example.com", "nope@", "", "", "", "10", ""},
		[]string{"Score Co", "score.example.com", "x@score.example.com", "", "", "", "abc", ""},
		[]string{"Score Two", "score2.example.com", "y@score2.example.com", "", "", "", "1.5", ""},
		[]string{"High Score", "high.example.com", "z@high.example.com", "", "", "", "150", ""},
		[]string{"Nameless Identity", "", "", "", "", "", "10", ""},
		[]string{"Short Row", "short.example.com"},
	)
	b := pendingBatch(t, db, store, "partner-1", encodeCSV(t, leadHeader, rows))

	res, err := p.Process(ctx, b.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Status != domain.BatchCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if res.TotalRows != 100 || res.ProcessedRows != 100 {
		t.Fatalf("expected 100/100 rows, got %d/%d", res.ProcessedRows, res.TotalRows)
	}
	if res.ValidRows != 85 || res.DuplicateRows != 5 || res.InvalidRows != 10 || res.MarketplaceListed != 85 {
		t.Fatalf("unexpected counters %+v", res)
	}
	if res.RejectedRowsURL == "" {
		t.Fatalf("expected a rejected rows link")
	}
	if n := count(t, db, &domain.CanonicalLead{}, "batch_id = ?", b.ID); n != 85 {
		t.Fatalf("expected 85 listed leads, got %d", n)
	}

	l, err := repo.GetPartnerLedger(ctx, db, "partner-1")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if l.LifetimeLeadsUploaded != 85 {
		t.Fatalf("expected 85 lifetime leads, got %d", l.LifetimeLeadsUploaded)
	}

	var lead domain.CanonicalLead
	if err := db.Where("batch_id = ?", b.ID).First(&lead).Error; err != nil {
		t.Fatalf("load lead: %v", err)
	}
	if lead.Status != domain.LeadAvailable || lead.PriceCents != 2500 || !strings.Contains(string(lead.Attributes), "trade-show") {
		t.Fatalf("unexpected lead %+v", lead)
	}

	rc, err := store.Open(ctx, storage.RejectedKey(b.ID))
	if err != nil {
		t.Fatalf("open rejected: %v", err)
	}
	defer rc.Close()
	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	recs, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read rejected: %v", err)
	}
	if len(recs) != 11 {
		t.Fatalf("expected header + 10 rejected rows, got %d records", len(recs))
	}
	head := recs[0]
	if head[len(head)-2] != "row_number" || head[len(head)-1] != "rejection_reason" {
		t.Fatalf("unexpected rejected header %v", head)
	}
	prev := 0
	for _, rec := range recs[1:] {
		if len(rec) != len(leadHeader)+2 {
			t.Fatalf("rejected record width %d, want %d", len(rec), len(leadHeader)+2)
		}
		n, err := strconv.Atoi(rec[len(rec)-2])
		if err != nil || n <= prev || n < 91 {
			t.Fatalf("row numbers must ascend from the invalid block, got %v after %d", rec[len(rec)-2], prev)
		}
		prev = n
		if rec[len(rec)-1] == "" {
			t.Fatalf("row %d has no rejection reason", n)
		}
	}
}

func TestBatchProcessor_Process_CrossBatchDuplicates(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t)
	p := newTestProcessor(db, store)
	ctx := context.Background()
	rows := fakeRows(2, 20)

	first := pendingBatch(t, db, store, "partner-a", encodeCSV(t, leadHeader, rows))
	if _, err := p.Process(ctx, first.ID); err != nil {
		t.Fatalf("first: %v", err)
	}
	second := pendingBatch(t, db, store, "partner-b", encodeCSV(t, leadHeader, rows))
	res, err := p.Process(ctx, second.ID)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if res.ValidRows != 0 || res.DuplicateRows != 20 || res.MarketplaceListed != 0 {
		t.Fatalf("second batch must be all duplicates, got %+v", res)
	}
	if _, err := repo.GetPartnerLedger(ctx, db, "partner-b"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("partner without listings must have no lifetime leads, got %v", err)
	}
}

func TestBatchProcessor_Process_PoolDuplicatesAndMalformedRows(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t)
	p := newTestProcessor(db, store)
	ctx := context.Background()

	pool := fakeRows(5, 10)
	seed := pendingBatch(t, db, store, "partner-a", encodeCSV(t, leadHeader, pool))
	if _, err := p.Process(ctx, seed.ID); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	rows := append([][]string{}, fakeRows(6, 85)...)
	rows = append(rows, pool...)
	rows = append(rows,
		[]string{"Short Row", "short1.example.com"},
		[]string{"Short Row Two", "short2.example.com", "s@short2.example.com"},
		[]string{"Wide Row", "wide.example.com", "w@wide.example.com", "", "", "", "10", "", "extra"},
		[]string{"Bad Mail Inc", "badmail.example.com", "not-an-email", "", "", "", "10", ""},
		[]string{"", "blank.example.com", "a@blank.example.com", "", "", "", "10", ""},
	)
	b := pendingBatch(t, db, store, "partner-b", encodeCSV(t, leadHeader, rows))

	res, err := p.Process(ctx, b.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.TotalRows != 100 || res.ProcessedRows != 100 {
		t.Fatalf("expected 100/100 rows, got %d/%d", res.ProcessedRows, res.TotalRows)
	}
	if res.ValidRows != 85 || res.InvalidRows != 5 || res.DuplicateRows != 10 || res.MarketplaceListed != 85 {
		t.Fatalf("expected 85/5/10/85, got valid=%d invalid=%d duplicate=%d listed=%d",
			res.ValidRows, res.InvalidRows, res.DuplicateRows, res.MarketplaceListed)
	}
	if n := count(t, db, &domain.CanonicalLead{}, ""); n != 95 {
		t.Fatalf("expected 95 leads in the pool, got %d", n)
	}
	if n := count(t, db, &domain.CanonicalLead{}, "partner_id = ?", "partner-a"); n != 10 {
		t.Fatalf("pool duplicates must stay with the first partner, got %d", n)
	}
}

func TestBatchProcessor_Process_FailedBatchKeepsCounters(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t)
	p := newTestProcessor(db, store)
	p.Workers = 1
	p.FlushRows = 50
	p.Index.MaxRetries = 0
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inserts int
	)
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_lead_inserts", func(tx *gorm.DB) {
		if tx.Statement.Schema == nil || tx.Statement.Schema.Table != "canonical_leads" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		inserts++
		if inserts > 7 {
			_ = tx.AddError(errors.New("disk full"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	b := pendingBatch(t, db, store, "partner-1", encodeCSV(t, leadHeader, fakeRows(7, 20)))
	_, err = p.Process(ctx, b.ID)
	var failure *IngestionFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected IngestionFailure, got %v", err)
	}

	got, err := repo.GetBatch(ctx, db, b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Status != domain.BatchFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	listed := count(t, db, &domain.CanonicalLead{}, "batch_id = ?", b.ID)
	if listed != 7 {
		t.Fatalf("expected the 7 admitted leads to stay listed, got %d", listed)
	}
	if got.ProcessedRows != listed || got.ValidRows != listed || got.MarketplaceListed != listed {
		t.Fatalf("counters must cover the listed leads: processed=%d valid=%d listed=%d, want %d",
			got.ProcessedRows, got.ValidRows, got.MarketplaceListed, listed)
	}
	l, err := repo.GetPartnerLedger(ctx, db, "partner-1")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if l.LifetimeLeadsUploaded != listed {
		t.Fatalf("expected %d lifetime leads, got %d", listed, l.LifetimeLeadsUploaded)
	}
}

func TestBatchProcessor_Process_ConcurrentBatchesListOnce(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t)
	p := newTestProcessor(db, store)
	rows := fakeRows(3, 30)
	data := encodeCSV(t, leadHeader, rows)

	const batches = 3
	ids := make([]string, batches)
	for i := range ids {
		ids[i] = pendingBatch(t, db, store, fmt.Sprintf("partner-%d", i), data).ID
	}

	var wg sync.WaitGroup
	results := make([]*BatchResult, batches)
	errs := make([]error, batches)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Process(context.Background(), ids[i])
		}(i)
	}
	wg.Wait()

	var listed, dup int64
	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("batch %d: %v", i, errs[i])
		}
		listed += results[i].MarketplaceListed
		dup += results[i].DuplicateRows
	}
	if listed != 30 || dup != 60 {
		t.Fatalf("expected 30 listed and 60 duplicates overall, got %d/%d", listed, dup)
	}
	if n := count(t, db, &domain.CanonicalLead{}, ""); n != 30 {
		t.Fatalf("expected 30 leads, got %d", n)
	}
}

func TestBatchProcessor_Process_Failures(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t)
	p := newTestProcessor(db, store)
	ctx := context.Background()

	t.Run("missing company column", func(t *testing.T) {
		b := pendingBatch(t, db, store, "partner-1", encodeCSV(t, []string{"email", "phone"}, [][]string{{"a@b.example.com", "555"}}))
		_, err := p.Process(ctx, b.ID)
		var failure *IngestionFailure
		if !errors.As(err, &failure) || failure.BatchID != b.ID {
			t.Fatalf("expected IngestionFailure, got %v", err)
		}
		got, _ := repo.GetBatch(ctx, db, b.ID)
		if got.Status != domain.BatchFailed || got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "company_name") {
			t.Fatalf("expected failed batch with message, got %+v", got)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		b := pendingBatch(t, db, store, "partner-1", nil)
		_, err := p.Process(ctx, b.ID)
		if !errors.Is(err, ErrUploadFileMissing) {
			t.Fatalf("expected ErrUploadFileMissing, got %v", err)
		}
		got, _ := repo.GetBatch(ctx, db, b.ID)
		if got.Status != domain.BatchFailed {
			t.Fatalf("expected failed, got %s", got.Status)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		b := pendingBatch(t, db, store, "partner-1", []byte{})
		if _, err := p.Process(ctx, b.ID); err == nil {
			t.Fatalf("expected failure for an empty file")
		}
	})

	t.Run("already processed", func(t *testing.T) {
		b := pendingBatch(t, db, store, "partner-1", encodeCSV(t, leadHeader, fakeRows(4, 2)))
		if _, err := p.Process(ctx, b.ID); err != nil {
			t.Fatalf("first run: %v", err)
		}
		if _, err := p.Process(ctx, b.ID); !errors.Is(err, ErrBatchAlreadyProcessed) {
			t.Fatalf("expected ErrBatchAlreadyProcessed, got %v", err)
		}
	})

	t.Run("unknown batch", func(t *testing.T) {
		if _, err := p.Process(ctx, "nope"); !errors.Is(err, ErrBatchNotFound) {
			t.Fatalf("expected ErrBatchNotFound, got %v", err)
		}
	})
}

type stubVerifier struct{ ok bool }

func (v stubVerifier) Verify(context.Context, *domain.CanonicalLead) (bool, error) { return v.ok, nil }

type downVerifier struct{}

func (downVerifier) Verify(context.Context, *domain.CanonicalLead) (bool, error) {
	return false, io.ErrUnexpectedEOF
}

func TestBatchProcessor_Verifier(t *testing.T) {
	cases := []struct {
		name string
		v    Verifier
		want string
	}{
		{"verified", stubVerifier{ok: true}, domain.VerificationVerified},
		{"failed", stubVerifier{ok: false}, domain.VerificationFailed},
		{"unavailable", downVerifier{}, domain.VerificationUnverified},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := newTestDB(t)
			store := newTestStore(t)
			p := newTestProcessor(db, store)
			p.Verifier = tc.v
			b := pendingBatch(t, db, store, "partner-1", encodeCSV(t, leadHeader, fakeRows(int64(10+i), 3)))
			res, err := p.Process(context.Background(), b.ID)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if res.MarketplaceListed != 3 {
				t.Fatalf("verification must never reject rows, listed=%d", res.MarketplaceListed)
			}
			if n := count(t, db, &domain.CanonicalLead{}, "verification_status = ?", tc.want); n != 3 {
				t.Fatalf("expected 3 %s leads, got %d", tc.want, n)
			}
		})
	}
}

func TestProgressTracker_FlushesEveryN(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clock := start
	var flushes []repo.ProgressDelta
	tr := &progressTracker{
		total:     7,
		every:     3,
		started:   start,
		lastFlush: start,
		now:       func() time.Time { return clock },
		flush: func(_ context.Context, d repo.ProgressDelta, rps float64, eta *time.Time) error {
			flushes = append(flushes, d)
			return nil
		},
	}
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		clock = clock.Add(time.Second)
		if err := tr.add(ctx, repo.ProgressDelta{Processed: 1, Valid: 1}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if len(flushes) != 2 {
		t.Fatalf("expected 2 flushes before close, got %d", len(flushes))
	}
	if err := tr.close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	var total int64
	for _, d := range flushes {
		total += d.Processed
	}
	if len(flushes) != 3 || total != 7 {
		t.Fatalf("expected 3 flushes covering 7 rows, got %d covering %d", len(flushes), total)
	}
	if err := tr.close(ctx); err != nil || len(flushes) != 3 {
		t.Fatalf("closing an empty tracker must not flush")
	}
}

func TestProgressTracker_RateAndETA(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	now := start.Add(2 * time.Second)
	var (
		gotRPS float64
		gotETA *time.Time
	)
	tr := &progressTracker{
		total:     100,
		every:     50,
		started:   start,
		lastFlush: start,
		now:       func() time.Time { return now },
		flush: func(_ context.Context, _ repo.ProgressDelta, rps float64, eta *time.Time) error {
			gotRPS, gotETA = rps, eta
			return nil
		},
	}
	if err := tr.add(context.Background(), repo.ProgressDelta{Processed: 50, Valid: 50}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if gotRPS != 25 {
		t.Fatalf("expected 25 rows/s, got %v", gotRPS)
	}
	if gotETA == nil || !gotETA.Equal(now.Add(2*time.Second)) {
		t.Fatalf("expected eta two seconds out, got %v", gotETA)
	}
}

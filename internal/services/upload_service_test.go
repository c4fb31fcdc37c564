package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-lead-exchange/internal/domain"
	"github.com/tbourn/go-lead-exchange/internal/queue"
	"github.com/tbourn/go-lead-exchange/internal/repo"
)

type recordingQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *recordingQueue) EnqueueBatch(_ context.Context, batchID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, batchID)
	return nil
}

func TestUploadService_Create_Validation(t *testing.T) {
	s := NewUploadService(newTestDB(t), newTestStore(t), &recordingQueue{}, 100)
	ctx := context.Background()

	for _, name := range []string{"", "leads.xlsx", "leads"} {
		if _, err := s.Create(ctx, "partner-1", name); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Create(%q) = %v; want ErrInvalidInput", name, err)
		}
	}
	if _, err := s.Create(ctx, "", "leads.csv"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for a missing partner, got %v", err)
	}

	b, err := s.Create(ctx, "partner-1", "exports/Q3 Leads.CSV")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.Status != domain.BatchPending || b.FileName != "Q3 Leads.CSV" || b.StoragePath == "" {
		t.Fatalf("unexpected batch %+v", b)
	}
}

func TestUploadService_Complete(t *testing.T) {
	db := newTestDB(t)
	q := &recordingQueue{}
	s := NewUploadService(db, newTestStore(t), q, 100)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }
	ctx := context.Background()

	b, err := s.Create(ctx, "partner-1", "leads.csv")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Complete(ctx, "partner-1", b.ID); !errors.Is(err, ErrUploadFileMissing) {
		t.Fatalf("expected ErrUploadFileMissing before upload, got %v", err)
	}

	// 32000 bytes at 160 bytes a row is 200 rows, two seconds at 100 rows/s.
	if err := s.UploadFile(ctx, "partner-1", b.ID, bytes.NewReader(make([]byte, 32000))); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	got, err := s.Complete(ctx, "partner-1", b.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Status != domain.BatchValidating {
		t.Fatalf("expected validating, got %s", got.Status)
	}
	if got.EstimatedCompletionAt == nil || !got.EstimatedCompletionAt.Equal(now.Add(2*time.Second)) {
		t.Fatalf("unexpected estimate %v", got.EstimatedCompletionAt)
	}
	if len(q.ids) != 1 || q.ids[0] != b.ID {
		t.Fatalf("expected the batch to be queued once, got %v", q.ids)
	}

	if _, err := s.Complete(ctx, "partner-1", b.ID); !errors.Is(err, ErrBatchAlreadyProcessed) {
		t.Fatalf("expected ErrBatchAlreadyProcessed, got %v", err)
	}
	if err := s.UploadFile(ctx, "partner-1", b.ID, bytes.NewReader(nil)); !errors.Is(err, ErrBatchAlreadyProcessed) {
		t.Fatalf("expected ErrBatchAlreadyProcessed on re-upload, got %v", err)
	}
	if _, err := s.Status(ctx, "partner-2", b.ID); !errors.Is(err, ErrBatchNotFound) {
		t.Fatalf("another partner must not see the batch, got %v", err)
	}
}

func TestUploadService_Complete_QueueDown(t *testing.T) {
	db := newTestDB(t)
	q := &recordingQueue{err: errors.New("redis: connection refused")}
	s := NewUploadService(db, newTestStore(t), q, 100)
	ctx := context.Background()

	b, _ := s.Create(ctx, "partner-1", "leads.csv")
	if err := s.UploadFile(ctx, "partner-1", b.ID, bytes.NewReader([]byte("company_name\nAcme\n"))); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if _, err := s.Complete(ctx, "partner-1", b.ID); err == nil {
		t.Fatalf("expected an enqueue error")
	}
	got, _ := repo.GetBatch(ctx, db, b.ID)
	if got.Status != domain.BatchFailed || got.ErrorMessage == nil {
		t.Fatalf("batch must be failed with a message, got %+v", got)
	}
}

func TestUploadService_RetryBatch(t *testing.T) {
	db := newTestDB(t)
	q := &recordingQueue{}
	s := NewUploadService(db, newTestStore(t), q, 100)
	ctx := context.Background()

	b, _ := s.Create(ctx, "partner-1", "leads.csv")
	if _, err := s.RetryBatch(ctx, b.ID); !errors.Is(err, ErrBatchNotRetryable) {
		t.Fatalf("pending batch must not be retryable, got %v", err)
	}
	if _, err := s.RetryBatch(ctx, "missing"); !errors.Is(err, ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}

	if err := s.UploadFile(ctx, "partner-1", b.ID, bytes.NewReader([]byte("company_name\nAcme\n"))); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if _, err := repo.AdvanceBatchStatus(ctx, db, b.ID, domain.BatchFailed, nil); err != nil {
		t.Fatalf("fail batch: %v", err)
	}

	nb, err := s.RetryBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("RetryBatch: %v", err)
	}
	if nb.ID == b.ID || nb.RetryOf == nil || *nb.RetryOf != b.ID || nb.StoragePath != b.StoragePath {
		t.Fatalf("unexpected retry batch %+v", nb)
	}
	if nb.Status != domain.BatchValidating {
		t.Fatalf("retry must be queued, got %s", nb.Status)
	}
	old, _ := repo.GetBatch(ctx, db, b.ID)
	if old.Status != domain.BatchFailed {
		t.Fatalf("original batch must stay failed, got %s", old.Status)
	}
}

func TestUploadService_EndToEndInline(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t)
	proc := newTestProcessor(db, store)
	q := queue.NewInline(context.Background(), proc)
	s := NewUploadService(db, store, q, 100)
	ctx := context.Background()

	b, err := s.Create(ctx, "partner-1", "leads.csv")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rows := fakeRows(7, 12)
	rows = append(rows, []string{"", "", "", "", "", "", "", ""})
	if err := s.UploadFile(ctx, "partner-1", b.ID, bytes.NewReader(encodeCSV(t, leadHeader, rows))); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if _, err := s.Complete(ctx, "partner-1", b.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	q.Wait()

	v, err := s.Status(ctx, "partner-1", b.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if v.Status != domain.BatchCompleted || v.Progress.Percent != 100 || v.Timing.EstimatedCompletion != nil {
		t.Fatalf("unexpected view %+v", v)
	}
	if v.Results != (BatchResults{Valid: 12, Invalid: 1, MarketplaceListed: 12}) || v.RejectedRowsURL == "" {
		t.Fatalf("unexpected results %+v url=%q", v.Results, v.RejectedRowsURL)
	}
	if v.Timing.StartedAt == nil || v.Timing.CompletedAt == nil {
		t.Fatalf("completed batch must carry its timing, got %+v", v.Timing)
	}
	if v.Summary == nil || v.Summary.SuccessRate != 92.31 || v.Summary.LeadsAvailableForSale != 12 {
		t.Fatalf("unexpected summary %+v", v.Summary)
	}

	// Selling a lead shrinks what is still available.
	var lead domain.CanonicalLead
	if err := db.Where("batch_id = ?", b.ID).First(&lead).Error; err != nil {
		t.Fatalf("load lead: %v", err)
	}
	if claimed, err := repo.ClaimLead(ctx, db, lead.ID, "ws-buyer", time.Now()); err != nil || !claimed {
		t.Fatalf("ClaimLead: claimed=%v err=%v", claimed, err)
	}
	v, err = s.Status(ctx, "partner-1", b.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if v.Summary.LeadsAvailableForSale != 11 || v.Results.MarketplaceListed != 12 {
		t.Fatalf("expected 11 still for sale of 12 listed, got %+v", v.Summary)
	}
}

func TestNewBatchStatusView(t *testing.T) {
	msg := "boom"
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	now := started.Add(30 * time.Second)
	cases := []struct {
		name    string
		b       domain.UploadBatch
		percent float64
		elapsed float64
		summary bool
	}{
		{"pending", domain.UploadBatch{Status: domain.BatchPending}, 0, 0, false},
		{"midway", domain.UploadBatch{Status: domain.BatchProcessing, TotalRows: 3, ProcessedRows: 1, StartedAt: &started}, 33.33, 30, false},
		{"completed", domain.UploadBatch{Status: domain.BatchCompleted, StartedAt: &started, CompletedAt: &finished}, 100, 90, true},
		{"failed", domain.UploadBatch{Status: domain.BatchFailed, TotalRows: 4, ProcessedRows: 2, ErrorMessage: &msg, StartedAt: &started, CompletedAt: &finished}, 50, 90, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewBatchStatusView(&tc.b, now)
			if v.Progress.Percent != tc.percent || v.Timing.ElapsedSeconds != tc.elapsed || (v.Summary != nil) != tc.summary {
				t.Fatalf("percent=%v elapsed=%v summary=%v", v.Progress.Percent, v.Timing.ElapsedSeconds, v.Summary != nil)
			}
		})
	}
}

func TestNewBatchStatusView_LiveCountersAndSummary(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eta := started.Add(time.Minute)
	running := domain.UploadBatch{
		ID: "b1", Status: domain.BatchProcessing, StartedAt: &started, EstimatedCompletionAt: &eta,
		TotalRows: 100, ProcessedRows: 40, ValidRows: 30, InvalidRows: 4, DuplicateRows: 6, MarketplaceListed: 30,
		RowsPerSecond: 8,
	}
	v := NewBatchStatusView(&running, started.Add(5*time.Second))
	if v.Results != (BatchResults{Valid: 30, Invalid: 4, Duplicates: 6, MarketplaceListed: 30}) {
		t.Fatalf("running batch must expose live counters, got %+v", v.Results)
	}
	if v.Progress != (BatchProgress{TotalRows: 100, ProcessedRows: 40, Percent: 40}) {
		t.Fatalf("unexpected progress %+v", v.Progress)
	}
	if v.Timing.EstimatedCompletion == nil || v.Timing.RowsPerSecond != 8 || v.Timing.CompletedAt != nil {
		t.Fatalf("unexpected timing %+v", v.Timing)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"status", "progress", "results", "timing"} {
		if _, found := body[key]; !found {
			t.Fatalf("missing %q in %s", key, raw)
		}
	}
	if _, found := body["summary"]; found {
		t.Fatalf("summary must be absent while processing: %s", raw)
	}
	timing := body["timing"].(map[string]any)
	for _, key := range []string{"started_at", "completed_at", "elapsed_seconds", "rows_per_second", "estimated_completion"} {
		if _, found := timing[key]; !found {
			t.Fatalf("timing lacks %q: %s", key, raw)
		}
	}

	done := running
	finished := started.Add(83 * time.Second)
	done.Status, done.CompletedAt, done.EstimatedCompletionAt = domain.BatchCompleted, &finished, nil
	done.ProcessedRows, done.ValidRows, done.InvalidRows, done.DuplicateRows, done.MarketplaceListed = 100, 85, 5, 10, 85
	sum := NewBatchStatusView(&done, finished).Summary
	want := BatchSummary{SuccessRate: 85, DuplicateRate: 10, ProcessingTime: "1m23s", LeadsAvailableForSale: 85}
	if sum == nil || *sum != want {
		t.Fatalf("summary = %+v, want %+v", sum, want)
	}
}

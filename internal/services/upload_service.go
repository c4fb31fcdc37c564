// Package services – UploadService
//
// This file implements the partner side of batch ingestion: creating a
// pending batch, receiving its file, triggering processing and reporting
// progress. Processing itself runs in the background (see BatchProcessor);
// status reads are plain reads of the counters it flushes.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-lead-exchange/internal/domain"
	"github.com/tbourn/go-lead-exchange/internal/queue"
	"github.com/tbourn/go-lead-exchange/internal/repo"
	"github.com/tbourn/go-lead-exchange/internal/storage"
)

// avgRowBytes is the row size assumed when estimating completion from a file
// size before it has been read.
const avgRowBytes = 160

var csvNameRE = regexp.MustCompile(`(?i)\.csv$`)

// UploadService manages upload batches on behalf of partners.
type UploadService struct {
	DB    *gorm.DB
	Store storage.Store
	Queue queue.Enqueuer

	// ExpectedRPS is the throughput assumed for the initial estimate.
	ExpectedRPS float64

	Now func() time.Time
}

// NewUploadService returns an UploadService.
func NewUploadService(db *gorm.DB, store storage.Store, q queue.Enqueuer, expectedRPS float64) *UploadService {
	return &UploadService{DB: db, Store: store, Queue: q, ExpectedRPS: expectedRPS, Now: time.Now}
}

// Create registers a pending batch for fileName. The file is expected at the
// batch's storage path before Complete is called.
func (s *UploadService) Create(ctx context.Context, partnerID, fileName string) (*domain.UploadBatch, error) {
	fileName = strings.TrimSpace(fileName)
	if err := validation.Validate(fileName,
		validation.Required,
		validation.RuneLength(1, 255),
		validation.Match(csvNameRE).Error("must be a .csv file"),
	); err != nil {
		return nil, invalid("file_name", err.Error())
	}
	if strings.TrimSpace(partnerID) == "" {
		return nil, invalid("partner_id", "is required")
	}

	id := uuid.NewString()
	b := &domain.UploadBatch{
		ID:          id,
		PartnerID:   partnerID,
		FileName:    path.Base(fileName),
		StoragePath: storage.UploadKey(partnerID, id),
		Status:      domain.BatchPending,
	}
	if err := repo.CreateBatch(ctx, s.DB, b); err != nil {
		return nil, err
	}
	return b, nil
}

// UploadFile stores the batch's CSV. Only pending batches accept a file.
func (s *UploadService) UploadFile(ctx context.Context, partnerID, batchID string, r io.Reader) error {
	b, err := s.partnerBatch(ctx, partnerID, batchID)
	if err != nil {
		return err
	}
	if b.Status != domain.BatchPending {
		return ErrBatchAlreadyProcessed
	}
	return s.Store.Put(ctx, b.StoragePath, r, "text/csv")
}

// Complete marks the upload finished and queues the batch for processing.
//
// The batch moves pending → validating with an initial completion estimate
// derived from the file size. If the queue rejects the task the batch is
// marked failed so it does not sit in validating forever.
func (s *UploadService) Complete(ctx context.Context, partnerID, batchID string) (*domain.UploadBatch, error) {
	tr := otel.Tracer("services/UploadService")
	ctx, span := tr.Start(ctx, "Complete",
		trace.WithAttributes(
			attribute.String("batch.id", batchID),
			attribute.String("partner.id", partnerID),
		),
	)
	defer span.End()

	b, err := s.partnerBatch(ctx, partnerID, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BatchPending {
		return nil, ErrBatchAlreadyProcessed
	}
	if err := s.startProcessing(ctx, b); err != nil {
		return nil, err
	}
	return repo.GetBatch(ctx, s.DB, b.ID)
}

// RetryBatch creates a new batch over a failed batch's file and queues it.
// The failed batch is left untouched. This is an operator action.
func (s *UploadService) RetryBatch(ctx context.Context, batchID string) (*domain.UploadBatch, error) {
	old, err := repo.GetBatch(ctx, s.DB, batchID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	if old.Status != domain.BatchFailed {
		return nil, ErrBatchNotRetryable
	}
	oldID := old.ID
	nb := &domain.UploadBatch{
		PartnerID:   old.PartnerID,
		FileName:    old.FileName,
		StoragePath: old.StoragePath,
		RetryOf:     &oldID,
	}
	if err := repo.CreateBatch(ctx, s.DB, nb); err != nil {
		return nil, err
	}
	if err := s.startProcessing(ctx, nb); err != nil {
		return nil, err
	}
	log.Info().
		Str("component", "upload_service").
		Str("batch_id", nb.ID).
		Str("retry_of", oldID).
		Msg("batch retry queued")
	return repo.GetBatch(ctx, s.DB, nb.ID)
}

func (s *UploadService) startProcessing(ctx context.Context, b *domain.UploadBatch) error {
	info, err := s.Store.Stat(ctx, b.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUploadFileMissing
		}
		return err
	}
	ok, err := repo.AdvanceBatchStatus(ctx, s.DB, b.ID, domain.BatchValidating, map[string]any{
		"estimated_completion_at": s.estimate(info.Size),
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrBatchAlreadyProcessed
	}
	if err := s.Queue.EnqueueBatch(ctx, b.ID); err != nil {
		msg := "enqueue: " + err.Error()
		if _, ferr := repo.AdvanceBatchStatus(context.WithoutCancel(ctx), s.DB, b.ID, domain.BatchFailed, map[string]any{
			"error_message":           msg,
			"completed_at":            s.now(),
			"estimated_completion_at": nil,
		}); ferr != nil {
			log.Error().Err(ferr).Str("component", "upload_service").Str("batch_id", b.ID).Msg("mark batch failed")
		}
		return fmt.Errorf("queue batch: %w", err)
	}
	return nil
}

// estimate projects completion from the file size and ExpectedRPS.
func (s *UploadService) estimate(size int64) time.Time {
	rps := s.ExpectedRPS
	if rps <= 0 {
		rps = 100
	}
	rows := math.Ceil(float64(size) / avgRowBytes)
	secs := math.Max(rows/rps, 1)
	return s.now().Add(time.Duration(secs * float64(time.Second)))
}

// BatchProgress is the row progress of a batch.
type BatchProgress struct {
	TotalRows     int64   `json:"total_rows"`
	ProcessedRows int64   `json:"processed_rows"`
	Percent       float64 `json:"percent"`
}

// BatchResults are the live row outcome counters.
type BatchResults struct {
	Valid             int64 `json:"valid"`
	Invalid           int64 `json:"invalid"`
	Duplicates        int64 `json:"duplicates"`
	MarketplaceListed int64 `json:"marketplace_listed"`
}

// BatchTiming reports when a batch ran and how fast.
type BatchTiming struct {
	StartedAt           *time.Time `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at"`
	ElapsedSeconds      float64    `json:"elapsed_seconds"`
	RowsPerSecond       float64    `json:"rows_per_second"`
	EstimatedCompletion *time.Time `json:"estimated_completion"`
}

// BatchSummary is attached to completed batches only. Rates are percentages
// of processed rows.
type BatchSummary struct {
	SuccessRate           float64 `json:"success_rate"`
	DuplicateRate         float64 `json:"duplicate_rate"`
	ProcessingTime        string  `json:"processing_time"`
	LeadsAvailableForSale int64   `json:"leads_available_for_sale"`
}

// BatchStatusView is what partners poll while a batch runs.
type BatchStatusView struct {
	BatchID         string             `json:"batch_id"`
	FileName        string             `json:"file_name"`
	Status          domain.BatchStatus `json:"status"`
	Progress        BatchProgress      `json:"progress"`
	Results         BatchResults       `json:"results"`
	Timing          BatchTiming        `json:"timing"`
	Error           string             `json:"error,omitempty"`
	RejectedRowsURL string             `json:"rejected_rows_url,omitempty"`
	Summary         *BatchSummary      `json:"summary,omitempty"`
}

// Status returns the live view of a partner's batch. For completed batches
// the summary counts the batch's leads that are still unsold.
func (s *UploadService) Status(ctx context.Context, partnerID, batchID string) (*BatchStatusView, error) {
	b, err := s.partnerBatch(ctx, partnerID, batchID)
	if err != nil {
		return nil, err
	}
	v := NewBatchStatusView(b, s.now())
	if v.Summary != nil {
		n, err := repo.CountAvailableBatchLeads(ctx, s.DB, b.ID)
		if err != nil {
			return nil, err
		}
		v.Summary.LeadsAvailableForSale = n
	}
	return v, nil
}

// NewBatchStatusView derives the poll view of b as of now. A running batch
// reports the time elapsed since it started.
func NewBatchStatusView(b *domain.UploadBatch, now time.Time) *BatchStatusView {
	v := &BatchStatusView{
		BatchID:  b.ID,
		FileName: b.FileName,
		Status:   b.Status,
		Progress: BatchProgress{
			TotalRows:     b.TotalRows,
			ProcessedRows: b.ProcessedRows,
		},
		Results: BatchResults{
			Valid:             b.ValidRows,
			Invalid:           b.InvalidRows,
			Duplicates:        b.DuplicateRows,
			MarketplaceListed: b.MarketplaceListed,
		},
		Timing: BatchTiming{
			StartedAt:           b.StartedAt,
			CompletedAt:         b.CompletedAt,
			RowsPerSecond:       b.RowsPerSecond,
			EstimatedCompletion: b.EstimatedCompletionAt,
		},
	}
	switch {
	case b.Status == domain.BatchCompleted:
		v.Progress.Percent = 100
	case b.TotalRows > 0:
		v.Progress.Percent = percent(b.ProcessedRows, b.TotalRows)
	}

	var elapsed time.Duration
	if b.StartedAt != nil {
		end := now
		if b.CompletedAt != nil {
			end = *b.CompletedAt
		}
		elapsed = max(end.Sub(*b.StartedAt), 0)
		v.Timing.ElapsedSeconds = math.Round(elapsed.Seconds()*100) / 100
	}
	if b.ErrorMessage != nil {
		v.Error = *b.ErrorMessage
	}
	if b.RejectedRowsURL != nil {
		v.RejectedRowsURL = *b.RejectedRowsURL
	}
	if b.Status == domain.BatchCompleted {
		v.Summary = &BatchSummary{
			SuccessRate:           percent(b.ValidRows, b.ProcessedRows),
			DuplicateRate:         percent(b.DuplicateRows, b.ProcessedRows),
			ProcessingTime:        elapsed.Round(time.Second).String(),
			LeadsAvailableForSale: b.MarketplaceListed,
		}
	}
	return v
}

// percent is part/whole as a percentage with two decimals, or 0 when whole
// is 0.
func percent(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*10000) / 100
}

func (s *UploadService) partnerBatch(ctx context.Context, partnerID, batchID string) (*domain.UploadBatch, error) {
	b, err := repo.GetPartnerBatch(ctx, s.DB, batchID, partnerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *UploadService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

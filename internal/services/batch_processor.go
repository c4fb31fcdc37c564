// Package services – BatchProcessor
//
// This file implements ingestion of one uploaded CSV batch. A batch is read
// twice: the first pass counts data rows so progress has a denominator, the
// second streams rows to a bounded worker pool. Each row is validated,
// fingerprinted and offered to the dedup index, which persists it only when
// the fingerprint is new to both the batch and the pool.
//
// Outcomes are accumulated by a progress tracker and flushed as additive
// counter updates, so a reader polling the batch always sees
// processed_rows <= total_rows and, once completed,
// processed_rows == valid_rows + invalid_rows + duplicate_rows.
package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-lead-exchange/internal/config"
	"github.com/tbourn/go-lead-exchange/internal/dedup"
	"github.com/tbourn/go-lead-exchange/internal/domain"
	"github.com/tbourn/go-lead-exchange/internal/observability"
	"github.com/tbourn/go-lead-exchange/internal/repo"
	"github.com/tbourn/go-lead-exchange/internal/storage"
)

// Verifier checks a lead against an external verification provider. A
// provider error never rejects the row; the lead is listed unverified.
type Verifier interface {
	Verify(ctx context.Context, lead *domain.CanonicalLead) (bool, error)
}

// BatchProcessor ingests uploaded batches.
type BatchProcessor struct {
	DB         *gorm.DB
	Store      storage.Store
	Index      *dedup.Index
	Normalizer *dedup.Normalizer
	Verifier   Verifier

	Workers       int
	FlushRows     int
	FlushInterval time.Duration

	PriceCents   int64
	Currency     string
	SignedURLTTL time.Duration

	Now func() time.Time
}

// NewBatchProcessor wires a processor from configuration.
func NewBatchProcessor(db *gorm.DB, store storage.Store, cfg config.Config) *BatchProcessor {
	return &BatchProcessor{
		DB:            db,
		Store:         store,
		Index:         dedup.NewIndex(db),
		Normalizer:    dedup.NewNormalizer(),
		Workers:       cfg.Batch.Workers,
		FlushRows:     cfg.Batch.FlushRows,
		FlushInterval: cfg.Batch.FlushInterval,
		PriceCents:    cfg.Pricing.LeadPriceCents,
		Currency:      cfg.Payments.Currency,
		SignedURLTTL:  cfg.Storage.SignedURLTTL,
		Now:           time.Now,
	}
}

// BatchResult summarizes a finished batch.
type BatchResult struct {
	BatchID           string             `json:"batch_id"`
	Status            domain.BatchStatus `json:"status"`
	TotalRows         int64              `json:"total_rows"`
	ProcessedRows     int64              `json:"processed_rows"`
	ValidRows         int64              `json:"valid_rows"`
	InvalidRows       int64              `json:"invalid_rows"`
	DuplicateRows     int64              `json:"duplicate_rows"`
	MarketplaceListed int64              `json:"marketplace_listed"`
	RejectedRowsURL   string             `json:"rejected_rows_url,omitempty"`
}

// RunBatch processes batchID; it lets the processor serve as a queue
// handler.
func (p *BatchProcessor) RunBatch(ctx context.Context, batchID string) error {
	_, err := p.Process(ctx, batchID)
	return err
}

// Process ingests batchID end to end.
//
// The batch must be pending or validating; otherwise ErrBatchAlreadyProcessed
// is returned and nothing changes. Any batch-level failure marks the batch
// failed with an error message and is returned as an IngestionFailure. Leads
// listed before the failure stay listed.
func (p *BatchProcessor) Process(ctx context.Context, batchID string) (*BatchResult, error) {
	tr := otel.Tracer("services/BatchProcessor")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(attribute.String("batch.id", batchID)))
	defer span.End()

	b, err := repo.GetBatch(ctx, p.DB, batchID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	if b.Status != domain.BatchPending && b.Status != domain.BatchValidating {
		return nil, ErrBatchAlreadyProcessed
	}
	started := p.now()
	ok, err := repo.AdvanceBatchStatus(ctx, p.DB, b.ID, domain.BatchProcessing, map[string]any{"started_at": started})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBatchAlreadyProcessed
	}

	logger := log.With().
		Str("component", "batch_processor").
		Str("batch_id", b.ID).
		Str("partner_id", b.PartnerID).
		Logger()
	logger.Info().Str("file", b.StoragePath).Msg("batch processing started")

	rejectedKey, runErr := p.run(ctx, b, started, logger)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		msg := runErr.Error()
		if _, err := repo.AdvanceBatchStatus(context.WithoutCancel(ctx), p.DB, b.ID, domain.BatchFailed, map[string]any{
			"error_message":           msg,
			"completed_at":            p.now(),
			"estimated_completion_at": nil,
		}); err != nil {
			logger.Error().Err(err).Msg("mark batch failed")
		}
		observability.Batches.WithLabelValues(string(domain.BatchFailed)).Inc()
		logger.Error().Err(runErr).Msg("batch failed")
		return nil, &IngestionFailure{BatchID: b.ID, Err: runErr}
	}

	extra := map[string]any{
		"completed_at":            p.now(),
		"estimated_completion_at": nil,
	}
	var rejectedURL string
	if rejectedKey != "" {
		extra["rejected_rows_path"] = rejectedKey
		if u, err := p.Store.SignedURL(ctx, rejectedKey, p.SignedURLTTL); err == nil {
			rejectedURL = u
			extra["rejected_rows_url"] = u
		} else {
			logger.Warn().Err(err).Msg("sign rejected rows url")
		}
	}
	if _, err := repo.AdvanceBatchStatus(ctx, p.DB, b.ID, domain.BatchCompleted, extra); err != nil {
		return nil, err
	}
	observability.Batches.WithLabelValues(string(domain.BatchCompleted)).Inc()

	done, err := repo.GetBatch(ctx, p.DB, b.ID)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Int64("total", done.TotalRows).
		Int64("valid", done.ValidRows).
		Int64("invalid", done.InvalidRows).
		Int64("duplicate", done.DuplicateRows).
		Msg("batch completed")
	return &BatchResult{
		BatchID:           done.ID,
		Status:            done.Status,
		TotalRows:         done.TotalRows,
		ProcessedRows:     done.ProcessedRows,
		ValidRows:         done.ValidRows,
		InvalidRows:       done.InvalidRows,
		DuplicateRows:     done.DuplicateRows,
		MarketplaceListed: done.MarketplaceListed,
		RejectedRowsURL:   rejectedURL,
	}, nil
}

// run performs both passes and returns the rejected-rows key, if any rows
// were rejected.
func (p *BatchProcessor) run(ctx context.Context, b *domain.UploadBatch, started time.Time, logger zerolog.Logger) (string, error) {
	total, err := p.countRows(ctx, b.StoragePath)
	if err != nil {
		return "", err
	}
	if err := repo.SetBatchTotal(ctx, p.DB, b.ID, total); err != nil {
		return "", err
	}

	rc, err := p.openSource(ctx, b.StoragePath)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	r := newCSVReader(rc)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", errors.New("file is empty")
		}
		return "", fmt.Errorf("read header: %w", err)
	}
	cols, err := newColumnMap(header)
	if err != nil {
		return "", err
	}

	tracker := &progressTracker{
		total:     total,
		every:     int64(max(p.FlushRows, 1)),
		interval:  p.FlushInterval,
		started:   started,
		lastFlush: started,
		now:       p.now,
		flush: func(ctx context.Context, d repo.ProgressDelta, rps float64, eta *time.Time) error {
			return repo.ApplyBatchProgress(ctx, p.DB, b.ID, b.PartnerID, d, rps, eta)
		},
	}
	rejects := newRejectLog(header)

	if err := p.ingest(ctx, b, r, cols, tracker, rejects); err != nil {
		// Leads admitted before the failure stay listed, so their counters
		// and the partner's lifetime total still have to land.
		if ferr := tracker.close(context.WithoutCancel(ctx)); ferr != nil {
			logger.Error().Err(ferr).Msg("flush progress of failed batch")
		}
		return "", err
	}
	if err := tracker.close(ctx); err != nil {
		return "", err
	}

	if rejects.len() == 0 {
		return "", nil
	}
	data, err := rejects.encode()
	if err != nil {
		return "", err
	}
	key := storage.RejectedKey(b.ID)
	if err := p.Store.Put(ctx, key, bytes.NewReader(data), "text/csv"); err != nil {
		return "", fmt.Errorf("store rejected rows: %w", err)
	}
	logger.Debug().Int("rows", rejects.len()).Str("key", key).Msg("rejected rows stored")
	return key, nil
}

// ingest streams the data rows of r to the worker pool.
func (p *BatchProcessor) ingest(ctx context.Context, b *domain.UploadBatch, r *csv.Reader, cols *columnMap, tracker *progressTracker, rejects *rejectLog) error {
	seen := dedup.NewSeen()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.Workers, 1))

	row := 0
	for gctx.Err() == nil {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		var pe *csv.ParseError
		switch {
		case errors.As(err, &pe):
			if terr := p.reject(gctx, tracker, rejects, row, rec, "malformed csv: "+pe.Err.Error()); terr != nil {
				_ = g.Wait()
				return terr
			}
			continue
		case err != nil:
			_ = g.Wait()
			return fmt.Errorf("read row %d: %w", row, err)
		case len(rec) != cols.width:
			reason := fmt.Sprintf("expected %d columns, got %d", cols.width, len(rec))
			if terr := p.reject(gctx, tracker, rejects, row, rec, reason); terr != nil {
				_ = g.Wait()
				return terr
			}
			continue
		}

		n := row
		g.Go(func() error {
			return p.processRow(gctx, b, cols, seen, tracker, rejects, n, rec)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// processRow validates, fingerprints and admits one row.
func (p *BatchProcessor) processRow(ctx context.Context, b *domain.UploadBatch, cols *columnMap, seen *dedup.Seen, tracker *progressTracker, rejects *rejectLog, row int, rec []string) error {
	lr, err := parseRow(cols, rec)
	if err == nil {
		err = lr.Validate()
	}
	if err == nil && !lr.hasIdentity() {
		err = invalid("", "one of email, phone, domain or city and country is required")
	}
	if err != nil {
		return p.reject(ctx, tracker, rejects, row, rec, err.Error())
	}

	n := p.Normalizer
	fp, err := n.Fingerprint(dedup.Fields{
		CompanyName: lr.CompanyName,
		Domain:      lr.Domain,
		Email:       lr.Email,
		Phone:       lr.Phone,
		Address:     lr.Address,
		City:        lr.City,
		State:       lr.State,
		Country:     lr.Country,
	})
	if err != nil {
		return p.reject(ctx, tracker, rejects, row, rec, err.Error())
	}

	lead := &domain.CanonicalLead{
		Fingerprint:        fp,
		PartnerID:          b.PartnerID,
		BatchID:            b.ID,
		CompanyName:        lr.CompanyName,
		Domain:             n.Domain(lr.Domain),
		Industry:           lr.Industry,
		CompanySize:        lr.CompanySize,
		Address:            lr.Address,
		City:               lr.City,
		State:              lr.State,
		Country:            lr.Country,
		ContactName:        lr.ContactName,
		Email:              strings.ToLower(lr.Email),
		Phone:              lr.Phone,
		Title:              lr.Title,
		LinkedInURL:        lr.LinkedInURL,
		IntentScore:        lr.IntentScore,
		FreshnessScore:     lr.FreshnessScore,
		VerificationStatus: domain.VerificationUnverified,
		Attributes:         cols.attributes(rec),
		PriceCents:         p.PriceCents,
		Currency:           p.Currency,
	}
	if lead.Currency == "" {
		lead.Currency = "usd"
	}
	if p.Verifier != nil {
		ok, verr := p.Verifier.Verify(ctx, lead)
		switch {
		case verr != nil:
			log.Debug().Err(verr).Str("component", "batch_processor").Int("row", row).Msg("verification unavailable")
		case ok:
			lead.VerificationStatus = domain.VerificationVerified
		default:
			lead.VerificationStatus = domain.VerificationFailed
		}
	}

	outcome, err := p.Index.Admit(ctx, seen, lead)
	if err != nil {
		return fmt.Errorf("row %d: persist lead: %w", row, err)
	}
	observability.BatchRows.WithLabelValues(outcome.String()).Inc()

	d := repo.ProgressDelta{Processed: 1}
	if outcome == dedup.New {
		d.Valid, d.Listed = 1, 1
	} else {
		d.Duplicate = 1
	}
	return tracker.add(ctx, d)
}

func (p *BatchProcessor) reject(ctx context.Context, tracker *progressTracker, rejects *rejectLog, row int, rec []string, reason string) error {
	rejects.add(row, rec, reason)
	observability.BatchRows.WithLabelValues("invalid").Inc()
	return tracker.add(ctx, repo.ProgressDelta{Processed: 1, Invalid: 1})
}

// countRows returns the number of data records, malformed ones included, so
// that it matches what the second pass will process.
func (p *BatchProcessor) countRows(ctx context.Context, key string) (int64, error) {
	rc, err := p.openSource(ctx, key)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	r := newCSVReader(rc)
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var pe *csv.ParseError
		if err != nil && !errors.As(err, &pe) {
			return 0, fmt.Errorf("count rows: %w", err)
		}
		n++
	}
	if n > 0 {
		n-- // header
	}
	return n, nil
}

func (p *BatchProcessor) openSource(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := p.Store.Open(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUploadFileMissing
	}
	return rc, err
}

func (p *BatchProcessor) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// progressTracker accumulates row outcomes and flushes them every N rows or
// every interval, whichever comes first. Flushes are serialized.
type progressTracker struct {
	mu        sync.Mutex
	pending   repo.ProgressDelta
	done      int64
	total     int64
	every     int64
	interval  time.Duration
	started   time.Time
	lastFlush time.Time
	now       func() time.Time
	flush     func(ctx context.Context, d repo.ProgressDelta, rps float64, eta *time.Time) error
}

func (t *progressTracker) add(ctx context.Context, d repo.ProgressDelta) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending.Processed += d.Processed
	t.pending.Valid += d.Valid
	t.pending.Invalid += d.Invalid
	t.pending.Duplicate += d.Duplicate
	t.pending.Listed += d.Listed
	t.done += d.Processed

	if t.pending.Processed >= t.every || (t.interval > 0 && t.now().Sub(t.lastFlush) >= t.interval) {
		return t.flushLocked(ctx)
	}
	return nil
}

func (t *progressTracker) close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending.IsZero() {
		return nil
	}
	return t.flushLocked(ctx)
}

func (t *progressTracker) flushLocked(ctx context.Context) error {
	now := t.now()
	var (
		rps float64
		eta *time.Time
	)
	if elapsed := now.Sub(t.started).Seconds(); elapsed > 0 {
		rps = math.Round(float64(t.done)/elapsed*100) / 100
	}
	if rps > 0 && t.done < t.total {
		e := now.Add(time.Duration(float64(t.total-t.done) / rps * float64(time.Second)))
		eta = &e
	}
	if err := t.flush(ctx, t.pending, rps, eta); err != nil {
		return err
	}
	t.pending = repo.ProgressDelta{}
	t.lastFlush = now
	return nil
}

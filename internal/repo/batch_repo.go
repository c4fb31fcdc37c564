// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for UploadBatch.
//
// Status writes are conditional updates: a batch only moves to a status whose
// predecessors include its current status, so two writers can never move a
// batch backwards. Counter writes are additive (col = col + ?) so concurrent
// flushes never lose increments.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-lead-exchange/internal/domain"
)

// CreateBatch inserts a pending batch for partnerID. A fresh UUID is
// assigned when b.ID is empty.
func CreateBatch(ctx context.Context, db *gorm.DB, b *domain.UploadBatch) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = domain.BatchPending
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	return db.WithContext(ctx).Create(b).Error
}

// GetBatch fetches a batch by id, or ErrNotFound.
func GetBatch(ctx context.Context, db *gorm.DB, id string) (*domain.UploadBatch, error) {
	var b domain.UploadBatch
	if err := db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// GetPartnerBatch fetches a batch owned by partnerID, or ErrNotFound.
func GetPartnerBatch(ctx context.Context, db *gorm.DB, id, partnerID string) (*domain.UploadBatch, error) {
	var b domain.UploadBatch
	err := db.WithContext(ctx).
		Where("id = ? AND partner_id = ?", id, partnerID).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// AdvanceBatchStatus moves a batch to next if its current status is one of
// next's legal predecessors. Extra columns are written in the same UPDATE.
// It reports whether a row changed.
func AdvanceBatchStatus(ctx context.Context, db *gorm.DB, id string, next domain.BatchStatus, extra map[string]any) (bool, error) {
	from := domain.PredecessorsOf(next)
	if len(from) == 0 {
		return false, nil
	}
	cols := map[string]any{
		"status":     next,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range extra {
		cols[k] = v
	}
	res := db.WithContext(ctx).
		Model(&domain.UploadBatch{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(cols)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FailStalledBatches fails up to limit processing batches whose last
// progress flush is older than cutoff, and returns the ids it failed. A
// batch that flushes between the scan and the update is left alone.
func FailStalledBatches(ctx context.Context, db *gorm.DB, cutoff, now time.Time, msg string, limit int) ([]string, error) {
	var ids []string
	if err := db.WithContext(ctx).
		Model(&domain.UploadBatch{}).
		Where("status = ? AND updated_at < ?", domain.BatchProcessing, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}

	failed := make([]string, 0, len(ids))
	for _, id := range ids {
		res := db.WithContext(ctx).
			Model(&domain.UploadBatch{}).
			Where("id = ? AND status = ? AND updated_at < ?", id, domain.BatchProcessing, cutoff).
			Updates(map[string]any{
				"status":                  domain.BatchFailed,
				"error_message":           msg,
				"completed_at":            now,
				"estimated_completion_at": nil,
				"updated_at":              now,
			})
		if res.Error != nil {
			return failed, res.Error
		}
		if res.RowsAffected == 1 {
			failed = append(failed, id)
		}
	}
	return failed, nil
}

// SetBatchTotal records the number of data rows found in the file.
func SetBatchTotal(ctx context.Context, db *gorm.DB, id string, total int64) error {
	return db.WithContext(ctx).
		Model(&domain.UploadBatch{}).
		Where("id = ?", id).
		Updates(map[string]any{"total_rows": total, "updated_at": time.Now().UTC()}).Error
}

// ProgressDelta is a group of row outcomes flushed together.
type ProgressDelta struct {
	Processed int64
	Valid     int64
	Invalid   int64
	Duplicate int64
	Listed    int64
}

// IsZero reports whether the delta carries no outcomes.
func (d ProgressDelta) IsZero() bool {
	return d.Processed == 0 && d.Valid == 0 && d.Invalid == 0 && d.Duplicate == 0 && d.Listed == 0
}

// ErrProgressOverflow is returned when a flush would push processed_rows past
// total_rows.
var ErrProgressOverflow = errors.New("processed rows would exceed total rows")

// ApplyBatchProgress adds a delta to the batch counters and the partner's
// lifetime lead count in one transaction, and records the current throughput.
// The UPDATE is guarded so processed_rows never exceeds total_rows.
func ApplyBatchProgress(ctx context.Context, db *gorm.DB, batchID, partnerID string, d ProgressDelta, rowsPerSecond float64, eta *time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cols := map[string]any{
			"processed_rows":          gorm.Expr("processed_rows + ?", d.Processed),
			"valid_rows":              gorm.Expr("valid_rows + ?", d.Valid),
			"invalid_rows":            gorm.Expr("invalid_rows + ?", d.Invalid),
			"duplicate_rows":          gorm.Expr("duplicate_rows + ?", d.Duplicate),
			"marketplace_listed":      gorm.Expr("marketplace_listed + ?", d.Listed),
			"rows_per_second":         rowsPerSecond,
			"estimated_completion_at": eta,
			"updated_at":              time.Now().UTC(),
		}
		res := tx.Model(&domain.UploadBatch{}).
			Where("id = ? AND processed_rows + ? <= total_rows", batchID, d.Processed).
			Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrProgressOverflow
		}
		if d.Listed > 0 && partnerID != "" {
			return IncrementLifetimeLeads(ctx, tx, partnerID, d.Listed)
		}
		return nil
	})
}

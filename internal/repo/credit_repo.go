// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for credit grants
// and workspace credit balances.
//
// Exactly-once semantics come from two unique indexes:
//   - credit_grants(workspace_id, grant_type) guards "was this workspace ever
//     granted"
//   - credit_transactions(reference) guards each balance adjustment, so a
//     retried adjustment never applies twice
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-lead-exchange/internal/domain"
)

// InsertCreditGrantIfAbsent inserts a grant unless the workspace already has
// one of the same type. It reports whether a new row was created.
func InsertCreditGrantIfAbsent(ctx context.Context, db *gorm.DB, g *domain.CreditGrant) (bool, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.GrantType == "" {
		g.GrantType = domain.GrantFreeTrial
	}
	g.CreatedAt = time.Now().UTC()
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workspace_id"}, {Name: "grant_type"}},
			DoNothing: true,
		}).
		Create(g)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetCreditGrant fetches a workspace's grant of the given type, or
// ErrNotFound.
func GetCreditGrant(ctx context.Context, db *gorm.DB, workspaceID, grantType string) (*domain.CreditGrant, error) {
	var g domain.CreditGrant
	err := db.WithContext(ctx).
		Where("workspace_id = ? AND grant_type = ?", workspaceID, grantType).
		First(&g).Error
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CountCreditGrants returns the number of grant rows for a workspace.
func CountCreditGrants(ctx context.Context, db *gorm.DB, workspaceID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.CreditGrant{}).Where("workspace_id = ?", workspaceID).Count(&n).Error
	return n, err
}

// InsertCreditTransactionIfAbsent records an adjustment unless its reference
// already exists. It reports whether a new row was created.
func InsertCreditTransactionIfAbsent(ctx context.Context, db *gorm.DB, t *domain.CreditTransaction) (bool, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reference"}},
			DoNothing: true,
		}).
		Create(t)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AddWorkspaceCredits adds amount to the workspace balance, creating the
// balance row on first use.
func AddWorkspaceCredits(ctx context.Context, db *gorm.DB, workspaceID string, amount int64) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "workspace_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"balance":    gorm.Expr("workspace_credits.balance + ?", amount),
				"updated_at": now,
			}),
		}).
		Create(&domain.WorkspaceCredits{
			WorkspaceID: workspaceID,
			Balance:     amount,
			CreatedAt:   now,
			UpdatedAt:   now,
		}).Error
}

// DebitWorkspaceCredits removes amount only when the balance covers it. It
// reports whether the debit applied.
func DebitWorkspaceCredits(ctx context.Context, db *gorm.DB, workspaceID string, amount int64) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.WorkspaceCredits{}).
		Where("workspace_id = ? AND balance >= ?", workspaceID, amount).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetWorkspaceBalance returns the current balance, or 0 when the workspace
// has never held credits.
func GetWorkspaceBalance(ctx context.Context, db *gorm.DB, workspaceID string) (int64, error) {
	var wc domain.WorkspaceCredits
	err := db.WithContext(ctx).Where("workspace_id = ?", workspaceID).Take(&wc).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return wc.Balance, nil
}

// GrantReference is the credit transaction reference used for a grant.
func GrantReference(grantID string) string { return "grant:" + grantID }

// ListGrantsMissingCredit returns grants whose balance adjustment was never
// recorded, oldest first.
func ListGrantsMissingCredit(ctx context.Context, db *gorm.DB, limit int) ([]domain.CreditGrant, error) {
	var out []domain.CreditGrant
	err := db.WithContext(ctx).
		Where("NOT EXISTS (SELECT 1 FROM credit_transactions ct WHERE ct.reference = 'grant:' || credit_grants.id)").
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

package domain

import (
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestIdempotency_TableName(t *testing.T) {
	if got := (Idempotency{}).TableName(); got != "idempotency" {
		t.Fatalf("TableName = %q", got)
	}
}

func TestIdempotency_AutoMigrate_UniqueSubjectScopeKey(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if !db.Migrator().HasIndex(&Idempotency{}, "ux_subject_scope_key") {
		t.Fatalf("expected unique index ux_subject_scope_key")
	}

	now := time.Now().UTC()
	first := &Idempotency{
		ID: "i1", Subject: "ws1", Scope: "lead-1", Key: "k1",
		ResourceID: "pi_123", Status: 201, ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(first).Error; err != nil {
		t.Fatalf("insert first: %v", err)
	}

	dup := &Idempotency{
		ID: "i2", Subject: "ws1", Scope: "lead-1", Key: "k1",
		ResourceID: "pi_456", Status: 201, ExpiresAt: now.Add(time.Hour),
	}
	err := db.Create(dup).Error
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "unique") {
		t.Fatalf("expected unique violation, got %v", err)
	}

	// Same key under another scope is a different operation.
	other := &Idempotency{
		ID: "i3", Subject: "ws1", Scope: "lead-2", Key: "k1",
		ResourceID: "pi_789", Status: 201, ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("insert other scope: %v", err)
	}
}

// Package domain defines the persistence models for partner uploads, the
// canonical lead pool, marketplace purchases, and the partner and workspace
// ledgers. These types are mapped with GORM and form the core data layer of
// the lead exchange.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// BatchStatus is the lifecycle state of an UploadBatch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchValidating BatchStatus = "validating"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// rank orders statuses along pending → validating → processing → terminal.
func (s BatchStatus) rank() int {
	switch s {
	case BatchPending:
		return 0
	case BatchValidating:
		return 1
	case BatchProcessing:
		return 2
	case BatchCompleted, BatchFailed:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether no further transition is allowed.
func (s BatchStatus) Terminal() bool { return s == BatchCompleted || s == BatchFailed }

// CanAdvanceTo reports whether moving from s to next is a forward move.
// Terminal states never advance.
func (s BatchStatus) CanAdvanceTo(next BatchStatus) bool {
	if s.Terminal() || s.rank() < 0 || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

// PredecessorsOf returns every status that may legally advance to next.
// Repositories use it to build conditional updates.
func PredecessorsOf(next BatchStatus) []BatchStatus {
	all := []BatchStatus{BatchPending, BatchValidating, BatchProcessing}
	out := make([]BatchStatus, 0, len(all))
	for _, s := range all {
		if s.CanAdvanceTo(next) {
			out = append(out, s)
		}
	}
	return out
}

// UploadBatch is one partner-uploaded CSV file processed as a unit.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - PartnerID: uploading partner (indexed).
//   - FileName / StoragePath: original name and object key in storage.
//   - Status: lifecycle state, forward-only (see BatchStatus).
//   - TotalRows .. MarketplaceListed: counters flushed periodically by the
//     processor; ProcessedRows never exceeds TotalRows.
//   - RowsPerSecond / EstimatedCompletionAt: live throughput and ETA.
//   - RejectedRowsPath / RejectedRowsURL: rejected-rows CSV key and signed URL.
type UploadBatch struct {
	ID                    string      `json:"id"                gorm:"type:char(36);primaryKey"`
	PartnerID             string      `json:"partner_id"        gorm:"type:varchar(64);not null;index:idx_batches_partner"`
	FileName              string      `json:"file_name"         gorm:"type:varchar(255);not null;default:''"`
	StoragePath           string      `json:"storage_path"      gorm:"type:varchar(512);not null"`
	Status                BatchStatus `json:"status"            gorm:"type:varchar(16);not null;default:'pending';index;check:status IN ('pending','validating','processing','completed','failed')"`
	TotalRows             int64       `json:"total_rows"        gorm:"not null;default:0"`
	ProcessedRows         int64       `json:"processed_rows"    gorm:"not null;default:0"`
	ValidRows             int64       `json:"valid_rows"        gorm:"not null;default:0"`
	InvalidRows           int64       `json:"invalid_rows"      gorm:"not null;default:0"`
	DuplicateRows         int64       `json:"duplicate_rows"    gorm:"not null;default:0"`
	MarketplaceListed     int64       `json:"marketplace_listed" gorm:"not null;default:0"`
	RowsPerSecond         float64     `json:"rows_per_second"   gorm:"not null;default:0"`
	EstimatedCompletionAt *time.Time  `json:"estimated_completion_at,omitempty"`
	StartedAt             *time.Time  `json:"started_at,omitempty"`
	CompletedAt           *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage          *string     `json:"error_message,omitempty" gorm:"type:text"`
	RejectedRowsPath      *string     `json:"-"                 gorm:"type:varchar(512)"`
	RejectedRowsURL       *string     `json:"rejected_rows_url,omitempty" gorm:"type:text"`
	RetryOf               *string     `json:"retry_of,omitempty" gorm:"type:char(36)"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// TableName returns the database table name for UploadBatch.
func (UploadBatch) TableName() string { return "upload_batches" }

// LeadStatus is the sale state of a CanonicalLead.
type LeadStatus string

const (
	LeadAvailable LeadStatus = "available"
	LeadReserved  LeadStatus = "reserved"
	LeadSold      LeadStatus = "sold"
)

// Verification outcomes recorded on a lead.
const (
	VerificationVerified   = "verified"
	VerificationUnverified = "unverified"
	VerificationFailed     = "failed"
)

// CanonicalLead is the deduplicated, persisted representation of a lead.
// Fingerprint is unique across the pool, so one real-world lead maps to at
// most one row. A sold lead is never listed again.
type CanonicalLead struct {
	ID                 string         `json:"id"                  gorm:"type:char(36);primaryKey"`
	Fingerprint        string         `json:"-"                   gorm:"type:varchar(80);not null;uniqueIndex:ux_leads_fingerprint"`
	PartnerID          string         `json:"partner_id"          gorm:"type:varchar(64);not null;index"`
	BatchID            string         `json:"batch_id"            gorm:"type:char(36);not null;index"`
	CompanyName        string         `json:"company_name"        gorm:"type:varchar(255);not null"`
	Domain             string         `json:"domain,omitempty"    gorm:"type:varchar(255);index"`
	Industry           string         `json:"industry,omitempty"  gorm:"type:varchar(128);index"`
	CompanySize        string         `json:"company_size,omitempty" gorm:"type:varchar(64)"`
	Address            string         `json:"address,omitempty"   gorm:"type:varchar(255)"`
	City               string         `json:"city,omitempty"      gorm:"type:varchar(128)"`
	State              string         `json:"state,omitempty"     gorm:"type:varchar(128)"`
	Country            string         `json:"country,omitempty"   gorm:"type:varchar(128);index"`
	ContactName        string         `json:"contact_name,omitempty" gorm:"type:varchar(255)"`
	Email              string         `json:"email,omitempty"     gorm:"type:varchar(320)"`
	Phone              string         `json:"phone,omitempty"     gorm:"type:varchar(64)"`
	Title              string         `json:"title,omitempty"     gorm:"type:varchar(255)"`
	LinkedInURL        string         `json:"linkedin_url,omitempty" gorm:"column:linkedin_url;type:varchar(512)"`
	IntentScore        int            `json:"intent_score"        gorm:"not null;default:0"`
	FreshnessScore     int            `json:"freshness_score"     gorm:"not null;default:0"`
	VerificationStatus string         `json:"verification_status" gorm:"type:varchar(16);not null;default:'unverified'"`
	Attributes         datatypes.JSON `json:"attributes,omitempty"`
	Status             LeadStatus     `json:"status"              gorm:"type:varchar(16);not null;default:'available';index:idx_leads_status_created,priority:1;check:status IN ('available','reserved','sold')"`
	PriceCents         int64          `json:"price_cents"         gorm:"not null"`
	Currency           string         `json:"currency"            gorm:"type:varchar(3);not null;default:'usd'"`
	WorkspaceID        *string        `json:"workspace_id,omitempty" gorm:"type:varchar(64);index"`
	SoldAt             *time.Time     `json:"sold_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"          gorm:"index:idx_leads_status_created,priority:2"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// TableName returns the database table name for CanonicalLead.
func (CanonicalLead) TableName() string { return "canonical_leads" }

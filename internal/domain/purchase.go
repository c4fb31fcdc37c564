package domain

import "time"

// PurchaseStatus is the state of a MarketplacePurchase.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseFailed    PurchaseStatus = "failed"
)

// Payment methods recorded on a purchase.
const (
	PaymentMethodStripe  = "stripe"
	PaymentMethodCredits = "credits"
)

// FailureLeadUnavailable marks a purchase whose payment succeeded but whose
// claim lost the race. Such purchases are refunded out of band.
const FailureLeadUnavailable = "lead_unavailable"

// MarketplacePurchase records one buyer checkout. PaymentIntentID is unique
// and anchors idempotency: replaying a confirmation returns the same row.
// LeadID is the lead the checkout was for; it is kept on failed purchases,
// which have no items.
type MarketplacePurchase struct {
	ID               string         `json:"id"                 gorm:"type:char(36);primaryKey"`
	BuyerWorkspaceID string         `json:"buyer_workspace_id" gorm:"type:varchar(64);not null;index"`
	BuyerUserID      string         `json:"buyer_user_id,omitempty" gorm:"type:varchar(64)"`
	LeadID           string         `json:"lead_id"            gorm:"type:char(36);index"`
	Status           PurchaseStatus `json:"status"             gorm:"type:varchar(16);not null;default:'pending';index;check:status IN ('pending','completed','failed')"`
	PaymentIntentID  string         `json:"payment_intent_id"  gorm:"column:stripe_payment_intent_id;type:varchar(255);not null;uniqueIndex:ux_purchases_intent"`
	PaymentMethod    string         `json:"payment_method"     gorm:"type:varchar(16);not null;default:'stripe'"`
	TotalPriceCents  int64          `json:"total_price_cents"  gorm:"not null;default:0"`
	Currency         string         `json:"currency"           gorm:"type:varchar(3);not null;default:'usd'"`
	FailureReason    *string        `json:"failure_reason,omitempty" gorm:"type:varchar(64)"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`

	Items []PurchaseItem `json:"items,omitempty" gorm:"foreignKey:PurchaseID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for MarketplacePurchase.
func (MarketplacePurchase) TableName() string { return "marketplace_purchases" }

// PurchaseItem links a purchase to one lead with its price at purchase time.
// LeadID is unique: a lead belongs to at most one purchase.
type PurchaseItem struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	PurchaseID string    `json:"purchase_id" gorm:"type:char(36);not null;index"`
	LeadID     string    `json:"lead_id"     gorm:"type:char(36);not null;uniqueIndex:ux_purchase_items_lead"`
	PartnerID  string    `json:"partner_id"  gorm:"type:varchar(64);not null;index"`
	PriceCents int64     `json:"price_cents" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for PurchaseItem.
func (PurchaseItem) TableName() string { return "purchase_items" }

// Settlement sources, used for metrics and audit.
const (
	SettlementInline    = "inline"
	SettlementReconcile = "reconcile"
)

// CommissionSettlement is the proof that a purchase's commission was credited
// to the partner ledger. PurchaseID is unique, which makes settlement
// exactly-once no matter how often it is attempted.
type CommissionSettlement struct {
	ID               string    `json:"id"                 gorm:"type:char(36);primaryKey"`
	PurchaseID       string    `json:"purchase_id"        gorm:"type:char(36);not null;uniqueIndex:ux_settlements_purchase"`
	PartnerID        string    `json:"partner_id"         gorm:"type:varchar(64);not null;index"`
	GrossCents       int64     `json:"gross_cents"        gorm:"not null"`
	CommissionCents  int64     `json:"commission_cents"   gorm:"not null"`
	PlatformFeeCents int64     `json:"platform_fee_cents" gorm:"not null"`
	CommissionRate   string    `json:"commission_rate"    gorm:"type:varchar(16);not null"`
	Tier             string    `json:"tier"               gorm:"type:varchar(16);not null"`
	Source           string    `json:"source"             gorm:"type:varchar(16);not null;default:'inline'"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName returns the database table name for CommissionSettlement.
func (CommissionSettlement) TableName() string { return "commission_settlements" }

// DownloadAudit is written once per export of a purchase.
type DownloadAudit struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	PurchaseID  string    `json:"purchase_id"  gorm:"type:char(36);not null;index"`
	WorkspaceID string    `json:"workspace_id" gorm:"type:varchar(64);not null;index"`
	UserID      string    `json:"user_id"      gorm:"type:varchar(64)"`
	RowCount    int       `json:"row_count"    gorm:"not null"`
	ClientIP    string    `json:"client_ip"    gorm:"type:varchar(64)"`
	UserAgent   string    `json:"user_agent"   gorm:"type:varchar(512)"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for DownloadAudit.
func (DownloadAudit) TableName() string { return "download_audits" }

package domain

import "time"

// PartnerLedger holds a partner's commission balance and the lifetime lead
// count that drives its tier. Amounts are in minor currency units.
type PartnerLedger struct {
	PartnerID             string    `json:"partner_id"              gorm:"type:varchar(64);primaryKey"`
	AvailableBalanceCents int64     `json:"available_balance_cents" gorm:"not null;default:0;check:available_balance_cents >= 0"`
	LifetimeEarningsCents int64     `json:"lifetime_earnings_cents" gorm:"not null;default:0"`
	LifetimeLeadsUploaded int64     `json:"lifetime_leads_uploaded" gorm:"not null;default:0"`
	PayoutThresholdCents  int64     `json:"payout_threshold_cents"  gorm:"not null;default:0"`
	PayoutAccountID       *string   `json:"payout_account_id,omitempty" gorm:"type:varchar(255)"`
	PayoutsEnabled        bool      `json:"payouts_enabled"         gorm:"not null;default:false"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// TableName returns the database table name for PartnerLedger.
func (PartnerLedger) TableName() string { return "partner_ledgers" }

// Onboarded reports whether the partner can receive payouts.
func (l PartnerLedger) Onboarded() bool {
	return l.PayoutAccountID != nil && *l.PayoutAccountID != "" && l.PayoutsEnabled
}

// PayoutStatus is the state of a PayoutRequest.
type PayoutStatus string

const (
	PayoutPending  PayoutStatus = "pending"
	PayoutApproved PayoutStatus = "approved"
	PayoutPaid     PayoutStatus = "paid"
	PayoutRejected PayoutStatus = "rejected"
)

// Terminal reports whether the payout request is closed.
func (s PayoutStatus) Terminal() bool { return s == PayoutPaid || s == PayoutRejected }

// PayoutRequest is a partner's request to withdraw commission. The amount is
// held (debited) when the request is accepted and restored on rejection.
//
// OpenSlot carries the partner id while the request is non-terminal and is
// NULL afterwards. Its unique index lets the database reject a second open
// request for the same partner.
type PayoutRequest struct {
	ID              string       `json:"id"           gorm:"type:char(36);primaryKey"`
	PartnerID       string       `json:"partner_id"   gorm:"type:varchar(64);not null;index"`
	AmountCents     int64        `json:"amount_cents" gorm:"not null;check:amount_cents > 0"`
	Status          PayoutStatus `json:"status"       gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','approved','paid','rejected')"`
	OpenSlot        *string      `json:"-"            gorm:"type:varchar(64);uniqueIndex:ux_payouts_open_slot"`
	RejectionReason *string      `json:"rejection_reason,omitempty" gorm:"type:varchar(255)"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// TableName returns the database table name for PayoutRequest.
func (PayoutRequest) TableName() string { return "payout_requests" }

// GrantFreeTrial is the only grant type issued today.
const GrantFreeTrial = "free_trial"

// CreditGrant proves that a workspace received a grant. Existence of the row
// is the sole source of truth; it is inserted at most once per workspace and
// grant type.
type CreditGrant struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	WorkspaceID    string    `json:"workspace_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_credit_grants_workspace,priority:1"`
	GrantType      string    `json:"grant_type"      gorm:"type:varchar(32);not null;default:'free_trial';uniqueIndex:ux_credit_grants_workspace,priority:2"`
	CreditsGranted int64     `json:"credits_granted" gorm:"not null"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for CreditGrant.
func (CreditGrant) TableName() string { return "credit_grants" }

// WorkspaceCredits is the spendable credit balance of a workspace.
type WorkspaceCredits struct {
	WorkspaceID string    `json:"workspace_id" gorm:"type:varchar(64);primaryKey"`
	Balance     int64     `json:"balance"      gorm:"not null;default:0;check:balance >= 0"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for WorkspaceCredits.
func (WorkspaceCredits) TableName() string { return "workspace_credits" }

// CreditTransaction is one applied balance adjustment. Reference is unique,
// so re-applying the same adjustment is a no-op.
type CreditTransaction struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	WorkspaceID string    `json:"workspace_id" gorm:"type:varchar(64);not null;index"`
	Reference   string    `json:"reference"    gorm:"type:varchar(255);not null;uniqueIndex:ux_credit_tx_reference"`
	Amount      int64     `json:"amount"       gorm:"not null"`
	Reason      string    `json:"reason"       gorm:"type:varchar(64);not null"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for CreditTransaction.
func (CreditTransaction) TableName() string { return "credit_transactions" }

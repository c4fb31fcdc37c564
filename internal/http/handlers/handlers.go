// Package handlers provides HTTP handler implementations for the public API.
//
// Handlers are transport-thin: they read identity, bind and validate input,
// call application services, and translate results (or service errors, see
// errors.go) into HTTP responses.
package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lead-exchange/internal/domain"
	"github.com/tbourn/go-lead-exchange/internal/repo"
	"github.com/tbourn/go-lead-exchange/internal/services"
	"github.com/tbourn/go-lead-exchange/internal/utils"
)

//
// Service contracts (context-aware)
//

// UploadService is the partner side of batch ingestion.
type UploadService interface {
	Create(ctx context.Context, partnerID, fileName string) (*domain.UploadBatch, error)
	UploadFile(ctx context.Context, partnerID, batchID string, r io.Reader) error
	Complete(ctx context.Context, partnerID, batchID string) (*domain.UploadBatch, error)
	Status(ctx context.Context, partnerID, batchID string) (*services.BatchStatusView, error)
	RetryBatch(ctx context.Context, batchID string) (*domain.UploadBatch, error)
}

// PurchaseService is the buyer purchase flow.
type PurchaseService interface {
	CreateIntent(ctx context.Context, leadID, workspaceID, idemKey string) (*services.IntentResult, error)
	Confirm(ctx context.Context, req services.ConfirmRequest) (*services.PurchaseResult, error)
	PurchaseWithCredits(ctx context.Context, leadID, workspaceID, userID string) (*services.PurchaseResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*services.WebhookResult, error)
}

// Marketplace lists available leads and exports purchases.
type Marketplace interface {
	ListAvailable(ctx context.Context, f repo.LeadFilter, page, pageSize int) (*services.ListingPage, error)
	ETag(ctx context.Context, f repo.LeadFilter) (string, error)
	Export(ctx context.Context, purchaseID, workspaceID string, meta services.DownloadMeta) (*services.Export, error)
}

// PartnerLedger exposes partner balances and payouts.
type PartnerLedger interface {
	Balance(ctx context.Context, partnerID string) (*services.LedgerView, error)
	SetPayoutAccount(ctx context.Context, partnerID, accountID string, enabled bool) error
	RequestPayout(ctx context.Context, partnerID string, amountCents int64) (*domain.PayoutRequest, error)
	ResolvePayout(ctx context.Context, payoutID string, outcome services.PayoutOutcome, reason string) (*domain.PayoutRequest, error)
}

// CreditLedger exposes workspace credits.
type CreditLedger interface {
	GrantFreeCredits(ctx context.Context, workspaceID string) (*services.GrantResult, error)
	TopUp(ctx context.Context, workspaceID, reference string, amount int64) (bool, error)
	Balance(ctx context.Context, workspaceID string) (int64, error)
}

//
// Handler wiring
//

// Services bundles the dependencies of Handlers.
type Services struct {
	Uploads     UploadService
	Purchases   PurchaseService
	Marketplace Marketplace
	Partners    PartnerLedger
	Credits     CreditLedger
	Files       FileStore // nil unless storage is local

	// APIBasePath prefixes links returned to clients (e.g. upload URLs).
	APIBasePath string
}

// Handlers groups the HTTP endpoints of the lead exchange.
type Handlers struct {
	uploads     UploadService
	purchases   PurchaseService
	marketplace Marketplace
	partners    PartnerLedger
	credits     CreditLedger
	files       FileStore
	basePath    string
}

// New constructs Handlers bound to the given services.
func New(s Services) *Handlers {
	return &Handlers{
		uploads:     s.Uploads,
		purchases:   s.Purchases,
		marketplace: s.Marketplace,
		partners:    s.Partners,
		credits:     s.Credits,
		files:       s.Files,
		basePath:    strings.TrimRight(s.APIBasePath, "/"),
	}
}

//
// Identity
//

// Identity context keys, set by an upstream auth layer when present.
const (
	CtxPartnerID   = "partnerID"
	CtxWorkspaceID = "workspaceID"
	CtxUserID      = "userID"
)

// Identity headers, used when no auth layer populated the context.
const (
	HeaderPartnerID   = "X-Partner-ID"
	HeaderWorkspaceID = "X-Workspace-ID"
	HeaderUserID      = "X-User-ID"
)

// identity returns the caller id stored under ctxKey, falling back to header.
func identity(c *gin.Context, ctxKey, header string) string {
	if v, ok := c.Get(ctxKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c.Request != nil {
		return strings.TrimSpace(c.GetHeader(header))
	}
	return ""
}

func partnerID(c *gin.Context) string   { return identity(c, CtxPartnerID, HeaderPartnerID) }
func workspaceID(c *gin.Context) string { return identity(c, CtxWorkspaceID, HeaderWorkspaceID) }
func userID(c *gin.Context) string      { return identity(c, CtxUserID, HeaderUserID) }

// requirePartner aborts with 401 when the caller has no partner identity.
func requirePartner(c *gin.Context) (string, bool) {
	id := partnerID(c)
	if id == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "partner identity required")
		return "", false
	}
	return id, true
}

// requireWorkspace aborts with 401 when the caller has no workspace identity.
func requireWorkspace(c *gin.Context) (string, bool) {
	id := workspaceID(c)
	if id == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "workspace identity required")
		return "", false
	}
	return id, true
}

//
// Helpers
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination reads page and page_size from the query string.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(c.Query("page"), c.Query("page_size"))
}

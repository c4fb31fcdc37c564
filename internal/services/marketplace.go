// Package services – Marketplace
//
// This file implements the buyer-facing listing of available leads and the
// CSV export of purchased leads. Listings never reveal contact details; they
// are masked until the lead is bought. Every export is audited.
package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-lead-exchange/internal/domain"
	"github.com/tbourn/go-lead-exchange/internal/repo"
)

// Marketplace serves listings and exports.
type Marketplace struct {
	DB *gorm.DB

	// MaxPageSize caps listing pages.
	MaxPageSize int
}

// NewMarketplace returns a Marketplace with a page cap of 100.
func NewMarketplace(db *gorm.DB) *Marketplace {
	return &Marketplace{DB: db, MaxPageSize: 100}
}

// ListingItem is one lead as shown before purchase.
type ListingItem struct {
	ID                 string    `json:"id"`
	CompanyName        string    `json:"company_name"`
	Domain             string    `json:"domain,omitempty"`
	Industry           string    `json:"industry,omitempty"`
	CompanySize        string    `json:"company_size,omitempty"`
	City               string    `json:"city,omitempty"`
	State              string    `json:"state,omitempty"`
	Country            string    `json:"country,omitempty"`
	ContactName        string    `json:"contact_name,omitempty"`
	Title              string    `json:"title,omitempty"`
	Email              string    `json:"email,omitempty"`
	Phone              string    `json:"phone,omitempty"`
	IntentScore        int       `json:"intent_score"`
	FreshnessScore     int       `json:"freshness_score"`
	VerificationStatus string    `json:"verification_status"`
	PriceCents         int64     `json:"price_cents"`
	Price              string    `json:"price"`
	Currency           string    `json:"currency"`
	ListedAt           time.Time `json:"listed_at"`
}

// ListingPage is a page of the listing.
type ListingPage struct {
	Items    []ListingItem `json:"items"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// ListAvailable returns a page of available leads matching f, newest first.
func (m *Marketplace) ListAvailable(ctx context.Context, f repo.LeadFilter, page, pageSize int) (*ListingPage, error) {
	tr := otel.Tracer("services/Marketplace")
	ctx, span := tr.Start(ctx, "ListAvailable",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if m.MaxPageSize > 0 && pageSize > m.MaxPageSize {
		pageSize = m.MaxPageSize
	}

	total, err := repo.CountAvailableLeads(ctx, m.DB, f)
	if err != nil {
		return nil, err
	}
	out := &ListingPage{Items: []ListingItem{}, Total: total, Page: page, PageSize: pageSize}
	if total == 0 {
		return out, nil
	}
	leads, err := repo.ListAvailableLeads(ctx, m.DB, f, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	for i := range leads {
		out.Items = append(out.Items, toListingItem(&leads[i]))
	}
	return out, nil
}

// ETag returns a weak validator for the listing matching f. It changes
// whenever a matching lead is added, sold or updated.
func (m *Marketplace) ETag(ctx context.Context, f repo.LeadFilter) (string, error) {
	count, maxUpdated, err := repo.AvailableLeadsStats(ctx, m.DB, f)
	if err != nil {
		return "", err
	}
	var ts int64
	if maxUpdated != nil {
		ts = maxUpdated.UTC().UnixNano()
	}
	return fmt.Sprintf(`W/"leads-%d-%d"`, count, ts), nil
}

func toListingItem(l *domain.CanonicalLead) ListingItem {
	return ListingItem{
		ID:                 l.ID,
		CompanyName:        l.CompanyName,
		Domain:             l.Domain,
		Industry:           l.Industry,
		CompanySize:        l.CompanySize,
		City:               l.City,
		State:              l.State,
		Country:            l.Country,
		ContactName:        MaskName(l.ContactName),
		Title:              l.Title,
		Email:              MaskEmail(l.Email),
		Phone:              MaskPhone(l.Phone),
		IntentScore:        l.IntentScore,
		FreshnessScore:     l.FreshnessScore,
		VerificationStatus: l.VerificationStatus,
		PriceCents:         l.PriceCents,
		Price:              FormatCents(l.PriceCents),
		Currency:           l.Currency,
		ListedAt:           l.CreatedAt,
	}
}

// FormatCents renders minor units as a decimal amount, e.g. 2500 → "25.00".
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// MaskEmail keeps the first letter of the local part and the domain:
// "jane@acme.com" → "j***@acme.com".
func MaskEmail(s string) string {
	local, host, ok := strings.Cut(s, "@")
	if !ok || local == "" {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(local)
	return string(r) + "***@" + host
}

// MaskPhone keeps the last two digits.
func MaskPhone(s string) string {
	var digits []byte
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	if len(digits) < 4 {
		return ""
	}
	return strings.Repeat("*", len(digits)-2) + string(digits[len(digits)-2:])
}

// MaskName reduces a person's name to initials: "Jane Doe" → "J. D.".
func MaskName(s string) string {
	parts := strings.Fields(s)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		r, _ := utf8.DecodeRuneInString(p)
		out = append(out, strings.ToUpper(string(r))+".")
	}
	return strings.Join(out, " ")
}

// exportHeader is the fixed column order of purchase exports.
var exportHeader = []string{
	"lead_id", "company_name", "domain", "industry", "company_size",
	"address", "city", "state", "country",
	"contact_name", "title", "email", "phone", "linkedin_url",
	"intent_score", "freshness_score", "verification_status",
	"price", "currency", "purchased_at",
}

// DownloadMeta describes who is exporting.
type DownloadMeta struct {
	UserID    string
	ClientIP  string
	UserAgent string
}

// Export is a rendered purchase export.
type Export struct {
	FileName string
	RowCount int
	Data     []byte
}

// Export renders the leads of a completed purchase as CSV for its buyer and
// records a DownloadAudit.
func (m *Marketplace) Export(ctx context.Context, purchaseID, workspaceID string, meta DownloadMeta) (*Export, error) {
	tr := otel.Tracer("services/Marketplace")
	ctx, span := tr.Start(ctx, "Export",
		trace.WithAttributes(
			attribute.String("purchase.id", purchaseID),
			attribute.String("workspace.id", workspaceID),
		),
	)
	defer span.End()

	p, err := repo.GetPurchase(ctx, m.DB, purchaseID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, err
	}
	if p.BuyerWorkspaceID != workspaceID {
		return nil, ErrForbidden
	}
	if p.Status != domain.PurchaseCompleted {
		return nil, ErrPurchaseNotCompleted
	}

	leads, err := repo.LeadsForPurchase(ctx, m.DB, p.ID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeExportCSV(&buf, leads); err != nil {
		return nil, err
	}

	if err := repo.CreateDownloadAudit(ctx, m.DB, &domain.DownloadAudit{
		PurchaseID:  p.ID,
		WorkspaceID: workspaceID,
		UserID:      meta.UserID,
		RowCount:    len(leads),
		ClientIP:    meta.ClientIP,
		UserAgent:   meta.UserAgent,
	}); err != nil {
		return nil, err
	}

	return &Export{
		FileName: "purchase-" + p.ID + ".csv",
		RowCount: len(leads),
		Data:     buf.Bytes(),
	}, nil
}

// writeExportCSV writes the export header and one record per lead to dst.
func writeExportCSV(dst io.Writer, leads []domain.CanonicalLead) error {
	w := csv.NewWriter(dst)
	if err := w.Write(exportHeader); err != nil {
		return fmt.Errorf("write export header: %w", err)
	}
	for _, l := range leads {
		purchasedAt := ""
		if l.SoldAt != nil {
			purchasedAt = l.SoldAt.UTC().Format(time.RFC3339)
		}
		if err := w.Write([]string{
			l.ID, l.CompanyName, l.Domain, l.Industry, l.CompanySize,
			l.Address, l.City, l.State, l.Country,
			l.ContactName, l.Title, l.Email, l.Phone, l.LinkedInURL,
			strconv.Itoa(l.IntentScore), strconv.Itoa(l.FreshnessScore), l.VerificationStatus,
			FormatCents(l.PriceCents), l.Currency, purchasedAt,
		}); err != nil {
			return fmt.Errorf("write export row %s: %w", l.ID, err)
		}
	}
	w.Flush()
	return w.Error()
}

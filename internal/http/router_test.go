package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-lead-exchange/internal/config"
	"github.com/tbourn/go-lead-exchange/internal/domain"
	"github.com/tbourn/go-lead-exchange/internal/http/handlers"
	"github.com/tbourn/go-lead-exchange/internal/queue"
	"github.com/tbourn/go-lead-exchange/internal/ratelimit"
	"github.com/tbourn/go-lead-exchange/internal/repo"
	"github.com/tbourn/go-lead-exchange/internal/services"
	"github.com/tbourn/go-lead-exchange/internal/storage"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "router.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		MaxUploadBytes: 1 << 20,
		RateLimit:      config.RateLimitConfig{Backend: "memory", RPS: 100, Burst: 10, Window: time.Second},
		Security:       config.SecurityConfig{},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
		Batch:          config.BatchConfig{Workers: 2, FlushRows: 10, FlushInterval: time.Second, ExpectedRPS: 100},
		Pricing:        config.PricingConfig{LeadPriceCents: 2500},
		Payments:       config.PaymentsConfig{Currency: "usd"},
		Storage:        config.StorageConfig{SignedURLTTL: time.Hour},
		IdempotencyTTL: time.Hour,
	}
}

func serve(r http.Handler, method, target string, body io.Reader, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)

	RegisterRoutes(r, Deps{DB: db, Limiter: ratelimit.NewMemory(100, 10)}, baseConfig())

	w := serve(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "https://dashboard.buyer.test"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// No configured origins: any origin, no credentials.
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}

	// /ready pings the database
	if w := serve(r, http.MethodGet, "/ready", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("GET /ready = %d", w.Code)
	}

	// /metrics is wired
	w = serve(r, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	if w := serve(r, http.MethodGet, "/nope", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	if w := serve(r, http.MethodPost, "/health", nil, nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger is off by default
	if w := serve(r, http.MethodGet, "/swagger/index.html", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"https://app.buyer.test"}}

	RegisterRoutes(r, Deps{DB: newTestDB(t)}, cfg)

	w := serve(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "https://app.buyer.test"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.buyer.test" {
		t.Fatalf("expected the allowed origin echoed, got %q", got)
	}

	if w := serve(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "https://evil.test"}); w.Code != http.StatusForbidden {
		t.Fatalf("unlisted origin = %d, want 403", w.Code)
	}
}

func TestRegisterRoutes_AdminRequiresToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	retry := "/api/v1/admin/batches/" + "0b7c4f0e-5b7a-4b55-9f8e-2a1f0d3c9e11" + "/retry"

	// No token configured: operator routes are not mounted.
	r := gin.New()
	RegisterRoutes(r, Deps{DB: db}, baseConfig())
	if w := serve(r, http.MethodPost, retry, nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("admin without token configured: %d", w.Code)
	}

	// Token configured: bearer is required.
	cfg := baseConfig()
	cfg.AdminToken = "op-token"
	r = gin.New()
	RegisterRoutes(r, Deps{DB: db, Services: handlers.Services{
		Uploads: services.NewUploadService(db, nil, nil, 100),
	}}, cfg)
	if w := serve(r, http.MethodPost, retry, nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("admin without bearer: %d", w.Code)
	}
	w := serve(r, http.MethodPost, retry, nil, map[string]string{"Authorization": "Bearer op-token"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("admin retry of unknown batch: %d body=%s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_RateLimitPerCaller(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	r := gin.New()
	RegisterRoutes(r, Deps{
		DB:       db,
		Limiter:  ratelimit.NewMemory(0.001, 1),
		Services: handlers.Services{Credits: services.NewCreditLedger(db, 5)},
	}, baseConfig())

	ws1 := map[string]string{handlers.HeaderWorkspaceID: "ws-1"}
	if w := serve(r, http.MethodGet, "/api/v1/credits", nil, ws1); w.Code != http.StatusOK {
		t.Fatalf("first call: %d", w.Code)
	}
	w := serve(r, http.MethodGet, "/api/v1/credits", nil, ws1)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("second call: %d retry-after=%q", w.Code, w.Header().Get("Retry-After"))
	}
	ws2 := map[string]string{handlers.HeaderWorkspaceID: "ws-2"}
	if w := serve(r, http.MethodGet, "/api/v1/credits", nil, ws2); w.Code != http.StatusOK {
		t.Fatalf("other workspace: %d", w.Code)
	}
}

// TestRegisterRoutes_UploadFlow drives a batch through the real services:
// create, upload, complete, poll, then fetch the rejected-rows report via its
// signed link.
func TestRegisterRoutes_UploadFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	cfg := baseConfig()

	store, err := storage.NewLocal(t.TempDir(), "http://localhost:8080/files", []byte("router-test-key"))
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	proc := services.NewBatchProcessor(db, store, cfg)
	q := queue.NewInline(context.Background(), proc)
	uploads := services.NewUploadService(db, store, q, cfg.Batch.ExpectedRPS)

	r := gin.New()
	RegisterRoutes(r, Deps{DB: db, Services: handlers.Services{
		Uploads:     uploads,
		Marketplace: services.NewMarketplace(db),
		Files:       store,
	}}, cfg)
	partner := map[string]string{handlers.HeaderPartnerID: "partner-7", "Content-Type": "application/json"}

	// 1) create
	w := serve(r, http.MethodPost, "/api/v1/uploads", strings.NewReader(`{"file_name":"leads.csv"}`), partner)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var created handlers.CreateUploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	// 2) upload: two valid rows, one row missing company name and one duplicate
	var csv bytes.Buffer
	csv.WriteString("Company Name,Website,Email,Phone,City,Country,Intent Score\n")
	csv.WriteString("Acme Analytics,acme.example.com,jane@acme.example.com,+1 512 555 0142,Austin,US,80\n")
	csv.WriteString("Globex,globex.example.com,ops@globex.example.com,+1 415 555 0100,San Francisco,US,65\n")
	csv.WriteString(",nobody.example.com,x@nobody.example.com,,,US,10\n")
	csv.WriteString("Acme Analytics,acme.example.com,jane@acme.example.com,+1 512 555 0142,Austin,US,80\n")
	w = serve(r, http.MethodPut, created.UploadURL, &csv, map[string]string{
		handlers.HeaderPartnerID: "partner-7", "Content-Type": "text/csv",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("upload: %d %s", w.Code, w.Body.String())
	}

	// 3) complete
	w = serve(r, http.MethodPost, created.CompleteURL, nil, partner)
	if w.Code != http.StatusAccepted {
		t.Fatalf("complete: %d %s", w.Code, w.Body.String())
	}
	q.Wait()

	// 4) status
	w = serve(r, http.MethodGet, "/api/v1/uploads/"+created.BatchID+"/status", nil, partner)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var v services.BatchStatusView
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.Status != domain.BatchCompleted || v.Summary == nil {
		t.Fatalf("unexpected status view %+v", v)
	}
	if v.Results.Valid != 2 || v.Results.Invalid != 1 || v.Results.Duplicates != 1 || v.Progress.Percent != 100 {
		t.Fatalf("unexpected results %+v progress %+v", v.Results, v.Progress)
	}
	if v.Summary.LeadsAvailableForSale != 2 {
		t.Fatalf("unexpected summary %+v", v.Summary)
	}

	// 5) rejected-rows report through the signed link
	u, err := url.Parse(v.RejectedRowsURL)
	if err != nil || u.Path == "" {
		t.Fatalf("bad rejected url %q: %v", v.RejectedRowsURL, err)
	}
	w = serve(r, http.MethodGet, u.RequestURI(), nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "row_number") {
		t.Fatalf("rejected report: %d %q", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Cache-Control"), "no-store") {
		t.Fatalf("signed files must not be cached, got %q", w.Header().Get("Cache-Control"))
	}

	// A tampered link is refused.
	w = serve(r, http.MethodGet, u.Path+"?expires=9999999999&sig=deadbeef", nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("tampered link: %d", w.Code)
	}

	// 6) the two new leads are listed, masked
	w = serve(r, http.MethodGet, "/api/v1/marketplace/leads?country=us", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("listing: %d", w.Code)
	}
	var page handlers.ListLeadsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Pagination.Total != 2 {
		t.Fatalf("expected 2 listed leads, got %d", page.Pagination.Total)
	}
	for _, l := range page.Leads {
		if strings.Contains(l.Email, "jane@") || strings.Contains(l.Email, "ops@") {
			t.Fatalf("email not masked: %q", l.Email)
		}
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag on listing")
	}
	w = serve(r, http.MethodGet, "/api/v1/marketplace/leads?country=us", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional listing: %d", w.Code)
	}
}

func TestRegisterRoutes_UploadBodyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	cfg := baseConfig()
	cfg.MaxUploadBytes = 64

	store, err := storage.NewLocal(t.TempDir(), "http://localhost:8080/files", []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	uploads := services.NewUploadService(db, store, queue.NewInline(context.Background(), nil), 100)
	r := gin.New()
	RegisterRoutes(r, Deps{DB: db, Services: handlers.Services{Uploads: uploads}}, cfg)

	b, err := uploads.Create(context.Background(), "p1", "big.csv")
	if err != nil {
		t.Fatal(err)
	}
	body := strings.Repeat("x", 200)
	w := serve(r, http.MethodPut, fmt.Sprintf("/api/v1/uploads/%s/file", b.ID), strings.NewReader(body),
		map[string]string{handlers.HeaderPartnerID: "p1", "Content-Type": "text/csv"})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d %s", w.Code, w.Body.String())
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB"), nil) // 12 bytes
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_limitBodyExcept(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBodyExcept(4, "/big"))
	read := func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	}
	r.POST("/small", read)
	r.POST("/big", read)

	if w := serve(r, http.MethodPost, "/small", strings.NewReader("123456"), nil); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("/small: %d", w.Code)
	}
	if w := serve(r, http.MethodPost, "/big", strings.NewReader("123456"), nil); w.Code != http.StatusOK {
		t.Fatalf("/big: %d", w.Code)
	}
}

func Test_groupWithPrefix_and_joinPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if g := groupWithPrefix(r, "/"); g.BasePath() != "/" {
		t.Fatalf("root group base path = %q", g.BasePath())
	}
	if g := groupWithPrefix(r, "/api/v1"); g.BasePath() != "/api/v1" {
		t.Fatalf("prefixed group base path = %q", g.BasePath())
	}
	if got := joinPath("", "/uploads"); got != "/uploads" {
		t.Fatalf("joinPath root = %q", got)
	}
	if got := joinPath("/api/v1", "/uploads"); got != "/api/v1/uploads" {
		t.Fatalf("joinPath = %q", got)
	}
}

func Test_purchaseScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var got string
	r.POST("/api/v1/leads/:lead_id/purchase", func(c *gin.Context) { got = purchaseScope(c) })
	r.POST("/api/v1/uploads", func(c *gin.Context) { got = purchaseScope(c) })

	serve(r, http.MethodPost, "/api/v1/leads/l-1/purchase", nil, nil)
	if got != "purchase:l-1" {
		t.Fatalf("lead scope = %q", got)
	}
	serve(r, http.MethodPost, "/api/v1/uploads", nil, nil)
	if got != "/api/v1/uploads" {
		t.Fatalf("route scope = %q", got)
	}
}

package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func securedRouter(opt SecurityOptions, pre gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(SecurityHeaders(opt))
	r.Any("/*path", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	r := securedRouter(SecurityOptions{}, func(c *gin.Context) {
		c.Header("X-Request-ID", "rid-1")
		c.Next()
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/marketplace/leads", nil))

	h := w.Header()
	want := map[string]string{
		"X-Content-Type-Options":        "nosniff",
		"X-Frame-Options":               "DENY",
		"Referrer-Policy":               "no-referrer",
		"Access-Control-Expose-Headers": "X-Request-ID",
	}
	for k, v := range want {
		if got := h.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	for _, k := range []string{"Permissions-Policy", "Cache-Control", "Strict-Transport-Security"} {
		if h.Get(k) != "" {
			t.Errorf("%s should be unset, got %q", k, h.Get(k))
		}
	}
}

func TestSecurityHeaders_ExposeMerge(t *testing.T) {
	cases := []struct {
		name     string
		existing string
		want     string
	}{
		{"appends", "Foo", "Foo, X-Request-ID"},
		{"keeps existing", "X-Request-ID, Foo", "X-Request-ID, Foo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := securedRouter(SecurityOptions{}, func(c *gin.Context) {
				c.Header("X-Request-ID", "rid-2")
				c.Header("Access-Control-Expose-Headers", tc.existing)
				c.Next()
			})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
			if got := w.Header().Get("Access-Control-Expose-Headers"); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSecurityHeaders_PolicyNoStoreHSTS(t *testing.T) {
	r := securedRouter(SecurityOptions{
		EnableHSTS:   true,
		HSTSMaxAge:   24 * time.Hour,
		NoStore:      true,
		EnablePolicy: true,
	}, nil)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	h := w.Header()
	if h.Get("X-Permitted-Cross-Domain-Policies") != "none" || h.Get("Permissions-Policy") == "" {
		t.Fatalf("policy headers missing: %v", h)
	}
	if h.Get("Cache-Control") != "no-store" || h.Get("Pragma") != "no-cache" || h.Get("Expires") != "0" {
		t.Fatalf("cache headers missing: %v", h)
	}
	if got := h.Get("Strict-Transport-Security"); got != "max-age=86400; includeSubDomains; preload" {
		t.Fatalf("hsts = %q", got)
	}
}

func TestSecurityHeaders_HSTSDefaultAgeBehindProxy(t *testing.T) {
	r := securedRouter(SecurityOptions{EnableHSTS: true}, nil)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Strict-Transport-Security"); !strings.HasPrefix(got, "max-age=15552000;") {
		t.Fatalf("hsts = %q", got)
	}

	// Plain HTTP never gets HSTS.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("hsts on http = %q", got)
	}
}

func TestSecurityHeaders_NoStorePrefixes(t *testing.T) {
	r := securedRouter(SecurityOptions{
		NoStorePrefixes: []string{"/api/v1/marketplace/download", "/files/"},
		ExposeHeaders:   DefaultExposeHeaders,
	}, func(c *gin.Context) {
		c.Header("X-Request-ID", "rid-3")
		c.Next()
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/marketplace/leads", nil))
	if cc := w.Header().Get("Cache-Control"); cc != "" {
		t.Fatalf("listing should stay cacheable, got %q", cc)
	}
	exposed := w.Header().Get("Access-Control-Expose-Headers")
	for _, name := range append([]string{"X-Request-ID"}, DefaultExposeHeaders...) {
		if !strings.Contains(exposed, name) {
			t.Errorf("%s not exposed in %q", name, exposed)
		}
	}

	for _, path := range []string{"/api/v1/marketplace/download/p1", "/files/reports/b1.csv"} {
		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		if w.Header().Get("Cache-Control") != "no-store" {
			t.Errorf("%s: expected no-store, got %q", path, w.Header().Get("Cache-Control"))
		}
	}
}

func Test_isHTTPS(t *testing.T) {
	plain := httptest.NewRequest(http.MethodGet, "/", nil)
	withTLS := httptest.NewRequest(http.MethodGet, "/", nil)
	withTLS.TLS = &tls.ConnectionState{}
	proxied := httptest.NewRequest(http.MethodGet, "/", nil)
	proxied.Header.Set("X-Forwarded-Proto", "https")

	if isHTTPS(plain) || !isHTTPS(withTLS) || !isHTTPS(proxied) {
		t.Fatalf("isHTTPS: plain=%v tls=%v proxied=%v", isHTTPS(plain), isHTTPS(withTLS), isHTTPS(proxied))
	}
}

func Test_exposeHeader_NoDuplicates(t *testing.T) {
	h := http.Header{}
	exposeHeader(h, "ETag")
	exposeHeader(h, "etag")
	exposeHeader(h, "Retry-After")
	exposeHeader(h, "X-ETag")
	if got := h.Get("Access-Control-Expose-Headers"); got != "ETag, Retry-After, X-ETag" {
		t.Fatalf("got %q", got)
	}
}

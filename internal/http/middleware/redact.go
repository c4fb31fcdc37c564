package middleware

import (
	"net/http"
	"regexp"
	"strings"
)

// Lead contact data shows up in marketplace query strings and partner
// headers, so access logs scrub it before writing.
var (
	secretRE = regexp.MustCompile(`\b(?:sk|rk|whsec)_(?:live_|test_)?[A-Za-z0-9]+\b`)
	uuidRE   = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE  = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so it cannot eat the hex groups of an id.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// alwaysMasked headers are replaced wholesale.
var alwaysMasked = []string{"authorization", "cookie", "set-cookie", "stripe-signature"}

// Redactor scrubs secrets, ids, emails and phone numbers from strings and
// masks sensitive headers entirely.
type Redactor struct {
	masked map[string]struct{}
}

// NewRedactor returns a Redactor that also masks the named headers
// (case-insensitive).
func NewRedactor(maskHeaders ...string) *Redactor {
	r := &Redactor{masked: make(map[string]struct{}, len(alwaysMasked)+len(maskHeaders))}
	for _, h := range append(append([]string(nil), alwaysMasked...), maskHeaders...) {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			r.masked[h] = struct{}{}
		}
	}
	return r
}

// String replaces sensitive substrings of s with typed placeholders. Ids go
// before phones because the phone pattern is the loosest.
func (r *Redactor) String(s string) string {
	if s == "" {
		return s
	}
	s = secretRE.ReplaceAllString(s, "[REDACTED:secret]")
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// Headers flattens h for logging with masked and scrubbed values.
func (r *Redactor) Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, masked := r.masked[strings.ToLower(k)]; masked {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.String(strings.Join(vv, ", "))
	}
	return out
}

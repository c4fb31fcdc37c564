// Package dedup derives canonical fingerprints for raw lead rows and decides
// whether a row is new to the lead pool, a repeat within its own batch, or a
// duplicate of a lead that is already persisted.
//
// Normalization is deterministic and locale-independent:
//
//   - Business names are Unicode-folded (NFKD, combining marks removed,
//     case-folded), tokenized on letters and digits, and stripped of trailing
//     legal-form suffixes such as "Inc" or "GmbH".
//   - Domains lose scheme, "www.", port, path and trailing dots.
//   - Emails are lower-cased and lose any "+tag" in the local part.
//   - Phones keep digits only and must carry at least a minimum digit count.
//
// A Normalizer is immutable after construction and safe for concurrent use.
package dedup

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ----------------------------------------------------------------------------
// Options

// Option configures a Normalizer.
type Option func(*config)

type config struct {
	legalSuffixes  map[string]struct{}
	minPhoneDigits int
}

func defaultConfig() config {
	return config{
		legalSuffixes: toSet([]string{
			"inc", "incorporated", "llc", "llp", "ltd", "limited", "corp",
			"corporation", "co", "company", "plc", "gmbh", "ag", "sa", "sarl",
			"srl", "bv", "nv", "pty", "oy", "ab", "as", "spa", "kg",
		}),
		minPhoneDigits: 7,
	}
}

// WithLegalSuffixes replaces the suffix list stripped from business names.
func WithLegalSuffixes(words []string) Option {
	return func(c *config) {
		c.legalSuffixes = toSet(words)
	}
}

// WithMinPhoneDigits sets how many digits a phone needs to count as an
// identifier.
func WithMinPhoneDigits(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.minPhoneDigits = n
		}
	}
}

// ----------------------------------------------------------------------------
// Normalizer

// Normalizer canonicalizes the identity fields of a lead row.
type Normalizer struct {
	cfg config
}

// NewNormalizer returns a Normalizer with defaults overridden by opts.
func NewNormalizer(opts ...Option) *Normalizer {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Normalizer{cfg: cfg}
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Text folds s and joins its letter/digit tokens with single spaces.
func (n *Normalizer) Text(s string) string {
	return strings.Join(tokens(s), " ")
}

// Name normalizes a business name. Trailing legal suffixes are dropped unless
// that would leave nothing.
func (n *Normalizer) Name(s string) string {
	s = strings.ReplaceAll(s, "&", " and ")
	toks := tokens(s)
	end := len(toks)
	for end > 1 {
		if _, ok := n.cfg.legalSuffixes[toks[end-1]]; !ok {
			break
		}
		end--
	}
	return strings.Join(toks[:end], " ")
}

// Domain reduces a website or host to its bare lower-case hostname.
func (n *Normalizer) Domain(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "www.")
	return strings.Trim(s, ".")
}

// Email lower-cases an address and removes a "+tag" from its local part.
// Values without exactly one "@" normalize to "".
func (n *Normalizer) Email(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	local, host, ok := strings.Cut(s, "@")
	if !ok || local == "" || host == "" || strings.Contains(host, "@") {
		return ""
	}
	if i := strings.Index(local, "+"); i > 0 {
		local = local[:i]
	}
	return local + "@" + strings.Trim(host, ".")
}

// Phone keeps the digits of s, or returns "" when there are too few.
func (n *Normalizer) Phone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() < n.cfg.minPhoneDigits {
		return ""
	}
	return b.String()
}

// ----------------------------------------------------------------------------
// Helpers

// fold strips accents and case. Transformers carry state, so a fresh chain
// is built per call.
func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

func tokens(s string) []string {
	return wordRE.FindAllString(fold(s), -1)
}

func toSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			m[w] = struct{}{}
		}
	}
	return m
}

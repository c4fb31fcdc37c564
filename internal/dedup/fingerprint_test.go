package dedup

import (
	"errors"
	"strings"
	"testing"
)

func TestKey_PreferenceOrder(t *testing.T) {
	n := NewNormalizer()
	tests := []struct {
		name string
		in   Fields
		want string
	}{
		{"domain and email", Fields{CompanyName: "Acme", Domain: "acme.com", Email: "Jo@Acme.com"}, "d:acme.com|c:jo@acme.com"},
		{"domain from email", Fields{CompanyName: "Acme", Email: "jo+x@acme.com"}, "d:acme.com|c:jo@acme.com"},
		{"domain and phone", Fields{Domain: "acme.com", Phone: "555-010-2030"}, "d:acme.com|c:5550102030"},
		{"name and address", Fields{CompanyName: "Acme Inc", Address: "1 Main St", City: "Springfield", Country: "US"}, "n:acme|a:1 main st,springfield,,us"},
		{"domain and name", Fields{CompanyName: "Acme", Domain: "acme.com"}, "d:acme.com|n:acme"},
		{"name and phone", Fields{CompanyName: "Acme", Phone: "5550102030"}, "n:acme|c:5550102030"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Key(tt.in)
			if err != nil || got != tt.want {
				t.Fatalf("Key = %q,%v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestKey_Insufficient(t *testing.T) {
	n := NewNormalizer()
	for _, f := range []Fields{{}, {CompanyName: "Acme"}, {CompanyName: "Acme", City: "Paris"}} {
		if _, err := n.Key(f); !errors.Is(err, ErrInsufficientIdentity) {
			t.Fatalf("Key(%+v) err = %v", f, err)
		}
	}
}

func TestFingerprint_StableAcrossSpellings(t *testing.T) {
	n := NewNormalizer()
	a, err := n.Fingerprint(Fields{CompanyName: "Acme, Inc.", Domain: "https://www.acme.com", Email: "Jane+promo@ACME.com"})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := n.Fingerprint(Fields{CompanyName: "ACME", Domain: "acme.com", Email: "jane@acme.com"})
	if a != b {
		t.Fatalf("fingerprints differ: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, Version+":") || len(a) != len(Version)+1+64 {
		t.Fatalf("unexpected fingerprint shape %q", a)
	}
	c, _ := n.Fingerprint(Fields{CompanyName: "Acme", Domain: "acme.com", Email: "john@acme.com"})
	if c == a {
		t.Fatalf("different contacts must not collide")
	}
}

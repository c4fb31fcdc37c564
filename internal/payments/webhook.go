package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// EventIntentSucceeded is the only webhook event acted upon.
const EventIntentSucceeded = "payment_intent.succeeded"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)

// Event is a parsed webhook delivery.
type Event struct {
	ID     string
	Type   string
	Intent *Intent
}

// WebhookVerifier checks the provider's signature header.
type WebhookVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

// NewWebhookVerifier returns a verifier with a five minute replay window.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{Secret: secret, Tolerance: 5 * time.Minute, Now: time.Now}
}

// Verify checks header ("t=<unix>,v1=<hex>[,v1=...]") against payload.
func (v *WebhookVerifier) Verify(payload []byte, header string) error {
	if strings.TrimSpace(v.Secret) == "" {
		return ErrInvalidSignature
	}
	ts, sigs, err := parseSignatureHeader(header)
	if err != nil {
		return ErrInvalidSignature
	}
	if v.Tolerance > 0 {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return ErrInvalidSignature
		}
		now := time.Now
		if v.Now != nil {
			now = v.Now
		}
		if d := now().Sub(time.Unix(sec, 0)); d > v.Tolerance || d < -v.Tolerance {
			return ErrInvalidSignature
		}
	}
	expected := Sign(v.Secret, ts, payload)
	for _, s := range sigs {
		if hmac.Equal([]byte(s), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign computes the v1 signature for timestamp and payload.
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent decodes a webhook body. Intent is set for payment_intent.*
// events.
func ParseEvent(payload []byte) (*Event, error) {
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil || strings.TrimSpace(raw.ID) == "" {
		return nil, ErrInvalidPayload
	}
	ev := &Event{ID: raw.ID, Type: strings.TrimSpace(raw.Type)}
	if strings.HasPrefix(ev.Type, "payment_intent.") {
		var in Intent
		if err := json.Unmarshal(raw.Data.Object, &in); err != nil || in.ID == "" {
			return nil, ErrInvalidPayload
		}
		ev.Intent = &in
	}
	return ev, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "t":
			ts = strings.TrimSpace(v)
		case "v1":
			sigs = append(sigs, strings.TrimSpace(v))
		}
	}
	if ts == "" || len(sigs) == 0 {
		return "", nil, ErrInvalidSignature
	}
	return ts, sigs, nil
}

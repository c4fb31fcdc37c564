package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-lead-exchange/internal/config"
)

// Stripe is a minimal REST client for payment intents.
type Stripe struct {
	apiBase string
	secret  string
	timeout time.Duration
	http    *http.Client
}

// NewStripe returns a client using cfg. Every call is bounded by
// cfg.Timeout on top of the caller's context.
func NewStripe(cfg config.PaymentsConfig) *Stripe {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Stripe{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		secret:  cfg.SecretKey,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
}

// HTTPClient exposes the underlying client so tests can intercept it.
func (s *Stripe) HTTPClient() *http.Client { return s.http }

// CreateIntent creates a payment intent. The idempotency key is forwarded so
// a retried create never produces a second intent.
func (s *Stripe) CreateIntent(ctx context.Context, p CreateIntentParams) (*Intent, error) {
	if p.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	data := url.Values{}
	data.Set("amount", strconv.FormatInt(p.AmountCents, 10))
	data.Set("currency", strings.ToLower(p.Currency))
	data.Set("automatic_payment_methods[enabled]", "true")
	if p.Description != "" {
		data.Set("description", p.Description)
	}
	keys := make([]string, 0, len(p.Metadata))
	for k := range p.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data.Set("metadata["+k+"]", p.Metadata[k])
	}

	headers := http.Header{}
	if p.IdempotencyKey != "" {
		headers.Set("Idempotency-Key", p.IdempotencyKey)
	}
	var out Intent
	if err := s.do(ctx, http.MethodPost, "/v1/payment_intents", data, headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RetrieveIntent fetches an intent by id.
func (s *Stripe) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrIntentNotFound
	}
	var out Intent
	if err := s.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Stripe) do(ctx context.Context, method, path string, form url.Values, headers http.Header, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.apiBase+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.secret, "")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%s %s: %w", method, path, ErrProviderTimeout)
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(err) {
			return ErrProviderTimeout
		}
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return ErrIntentNotFound
	case resp.StatusCode >= 400:
		var ae apiError
		_ = json.Unmarshal(raw, &ae)
		return fmt.Errorf("%w: %s", ErrInvalidRequest, ae.Error.Message)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrProviderUnavailable, err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

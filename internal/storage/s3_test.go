package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
)

// fakeS3 serves path-style GET, HEAD and PUT for a single bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(r.URL.Path, "/bucket/")
	switch r.Method {
	case http.MethodPut:
		b, _ := io.ReadAll(r.Body)
		f.objects[key] = b
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodHead, http.MethodGet:
		b, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(b)))
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(b)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeS3(t *testing.T) *S3 {
	t.Helper()
	srv := httptest.NewServer(&fakeS3{objects: map[string][]byte{}})
	t.Cleanup(srv.Close)
	sess, err := session.NewSession(aws.NewConfig().
		WithRegion("us-east-1").
		WithEndpoint(srv.URL).
		WithS3ForcePathStyle(true).
		WithCredentials(credentials.NewStaticCredentials("id", "secret", "")))
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return NewS3WithSession(sess, "bucket")
}

func TestS3_PutStatOpen(t *testing.T) {
	s := newFakeS3(t)
	ctx := context.Background()

	if err := s.Put(ctx, "uploads/p1/b1.csv", strings.NewReader("company_name\nAcme\n"), "text/csv"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	info, err := s.Stat(ctx, "uploads/p1/b1.csv")
	if err != nil || info.Size != int64(len("company_name\nAcme\n")) {
		t.Fatalf("Stat = %+v,%v", info, err)
	}
	rc, err := s.Open(ctx, "uploads/p1/b1.csv")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "company_name\nAcme\n" {
		t.Fatalf("body = %q", b)
	}
}

func TestS3_NotFound(t *testing.T) {
	s := newFakeS3(t)
	ctx := context.Background()
	if _, err := s.Stat(ctx, "nope.csv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Stat err = %v", err)
	}
	if _, err := s.Open(ctx, "nope.csv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open err = %v", err)
	}
}

func TestS3_SignedURL(t *testing.T) {
	s := newFakeS3(t)
	u, err := s.SignedURL(context.Background(), "rejected/b1.csv", 15*time.Minute)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if !strings.Contains(u, "/bucket/rejected/b1.csv") || !strings.Contains(u, "X-Amz-Signature=") {
		t.Fatalf("unexpected presigned url %q", u)
	}
	if _, err := s.SignedURL(context.Background(), "../x", time.Minute); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

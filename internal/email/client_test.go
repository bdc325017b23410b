package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/afterword/heartbeat/internal/retryhttp"
)

func newTestClient(srv *httptest.Server) *Client {
	c := New("test-key", "noreply@afterword.app", retryhttp.New())
	c.SetBaseURL(srv.URL)
	return c
}

func TestSendSetsAuthAndFrom(t *testing.T) {
	var gotAuth, gotUnsub string
	var body resendMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotUnsub = body.Headers["List-Unsubscribe"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv)

	err := c.Send(context.Background(), Message{To: "a@b.com", Subject: "hi", Text: "body"}, "key-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if !strings.Contains(body.From, "Afterword <") {
		t.Fatalf("from = %q", body.From)
	}
	if gotUnsub != "<mailto:afterword.app@gmail.com?subject=Unsubscribe>" {
		t.Fatalf("unsubscribe header = %q", gotUnsub)
	}
}

func TestSendBatchChunksAt100(t *testing.T) {
	var calls int32
	var chunkSizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var payload []resendMessage
		_ = json.NewDecoder(r.Body).Decode(&payload)
		chunkSizes = append(chunkSizes, len(payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv)

	msgs := make([]Message, 250)
	for i := range msgs {
		msgs[i] = Message{To: "a@b.com", Subject: "s", Text: "t"}
	}

	if err := c.SendBatch(context.Background(), msgs, "unlock-batch-u1-100"); err != nil {
		t.Fatalf("send batch: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if chunkSizes[0] != 100 || chunkSizes[1] != 100 || chunkSizes[2] != 50 {
		t.Fatalf("chunk sizes = %v, want [100 100 50]", chunkSizes)
	}
}

func TestSendBatchAppendsChunkIndexToIdempotencyKey(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv)

	msgs := make([]Message, 150)
	for i := range msgs {
		msgs[i] = Message{To: "a@b.com", Subject: "s", Text: "t"}
	}
	if err := c.SendBatch(context.Background(), msgs, "unlock-batch-u1-100"); err != nil {
		t.Fatalf("send batch: %v", err)
	}
	if keys[0] != "unlock-batch-u1-100-0" || keys[1] != "unlock-batch-u1-100-1" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestSendBatchEmptyIsNoop(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c := newTestClient(srv)

	if err := c.SendBatch(context.Background(), nil, "key"); err != nil {
		t.Fatalf("send batch: %v", err)
	}
	if calls != 0 {
		t.Fatalf("calls = %d, want 0", calls)
	}
}

func TestSanitizeTextStripsHTML(t *testing.T) {
	c := New("k", "noreply@afterword.app", retryhttp.New())
	got := c.SanitizeText(`<script>alert(1)</script>Jane`)
	if strings.Contains(got, "<script>") {
		t.Fatalf("sanitized text still contains script tag: %q", got)
	}
	if !strings.Contains(got, "Jane") {
		t.Fatalf("sanitized text dropped plain content: %q", got)
	}
}

package executor

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afterword/heartbeat/internal/crypto"
	"github.com/afterword/heartbeat/internal/email"
	"github.com/afterword/heartbeat/internal/retryhttp"
	"github.com/afterword/heartbeat/internal/vault"
)

func seal(t *testing.T, key [32]byte, plaintext string) string {
	t.Helper()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("new gcm: %v", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		t.Fatalf("read nonce: %v", err)
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-gcm.Overhead()], sealed[len(sealed)-gcm.Overhead():]
	return base64.StdEncoding.EncodeToString(nonce) + "." +
		base64.StdEncoding.EncodeToString(ciphertext) + "." +
		base64.StdEncoding.EncodeToString(tag)
}

// fakeVault is an in-memory vault.Repository for executor tests.
type fakeVault struct {
	mu      sync.Mutex
	entries map[string]*vault.Entry
}

func newFakeVault(entries ...*vault.Entry) *fakeVault {
	f := &fakeVault{entries: map[string]*vault.Entry{}}
	for _, e := range entries {
		cp := *e
		f.entries[e.ID] = &cp
	}
	return f
}

func (f *fakeVault) ListActiveByUser(_ context.Context, userID string) ([]*vault.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*vault.Entry
	for _, e := range f.entries {
		if e.UserID == userID && (e.Status == vault.StatusActive || e.Status == vault.StatusSending) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeVault) CountPendingByUser(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.UserID == userID && (e.Status == vault.StatusActive || e.Status == vault.StatusSending) {
			n++
		}
	}
	return n, nil
}

func (f *fakeVault) ClaimForSending(_ context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[entryID]
	if !ok || e.Status != vault.StatusActive {
		return vault.ErrNotFound
	}
	e.Status = vault.StatusSending
	return nil
}

func (f *fakeVault) Release(_ context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[entryID]
	if !ok || e.Status != vault.StatusSending {
		return nil
	}
	e.Status = vault.StatusActive
	return nil
}

func (f *fakeVault) MarkSent(_ context.Context, entryID string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[entryID]
	if !ok || e.Status != vault.StatusSending {
		return vault.ErrNotFound
	}
	e.Status = vault.StatusSent
	e.SentAt = &sentAt
	return nil
}

func (f *fakeVault) Delete(_ context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, entryID)
	return nil
}

func (f *fakeVault) RecoverStaleLocks(_ context.Context, olderThan time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.Status == vault.StatusSending && e.UpdatedAt.Before(olderThan) {
			e.Status = vault.StatusActive
			n++
		}
	}
	return n, nil
}

func (f *fakeVault) ListActiveAudioByUser(_ context.Context, userID string) ([]*vault.Entry, error) {
	return nil, nil
}

func (f *fakeVault) ListSentOlderThanPage(_ context.Context, olderThan time.Time, after string, limit int) ([]*vault.Entry, error) {
	return nil, nil
}

func (f *fakeVault) InsertTombstone(_ context.Context, t vault.Tombstone) error { return nil }

func (f *fakeVault) CountAnyByUser(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (f *fakeVault) CountTombstonesByUser(_ context.Context, userID string) (int, error) {
	return 0, nil
}

func (f *fakeVault) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[id].Status
}

func (f *fakeVault) exists(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[id]
	return ok
}

func newTestEmail(t *testing.T) (*email.Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	c := email.New("key", "noreply@afterword.app", retryhttp.New())
	c.SetBaseURL(srv.URL)
	return c, &calls
}

func validSendEntry(t *testing.T, id, userID string, hmacKey []byte, serverKey [32]byte) *vault.Entry {
	t.Helper()
	payload := seal(t, serverKey, "ciphertext-payload")
	recipient := seal(t, serverKey, "beneficiary@example.com")
	dataKey := seal(t, serverKey, "raw-data-encryption-key")
	sig := crypto.Sign(crypto.CanonicalEntryMessage(payload, recipient), hmacKey)

	return &vault.Entry{
		ID:                      id,
		UserID:                  userID,
		Title:                   "For my daughter",
		ActionType:              vault.ActionSend,
		DataType:                "text",
		Status:                  vault.StatusActive,
		PayloadEncrypted:        payload,
		RecipientEmailEncrypted: recipient,
		DataKeyEncrypted:        dataKey,
		HMACSignature:           sig,
		UpdatedAt:               time.Now(),
	}
}

func TestExecuteHappyPathSend(t *testing.T) {
	serverKey := crypto.ServerKey("test-secret")
	hmacKey := []byte("user-hmac-key-0123456789abcdef!")
	entry := validSendEntry(t, "e1", "u1", hmacKey, serverKey)

	fv := newFakeVault(entry)
	emailClient, calls := newTestEmail(t)

	ex := &Executor{Vault: fv, Email: emailClient, ViewerBaseURL: "https://view.afterword.app/", Log: zerolog.Nop()}

	hadSend, inputSendCount, err := ex.Execute(context.Background(), "u1", "Jane", hmacKey, serverKey, time.Now())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !hadSend {
		t.Fatalf("expected hadSend=true")
	}
	if inputSendCount != 1 {
		t.Fatalf("inputSendCount = %d, want 1", inputSendCount)
	}
	if fv.status("e1") != vault.StatusSent {
		t.Fatalf("entry status = %q, want sent", fv.status("e1"))
	}
	if *calls != 1 {
		t.Fatalf("batch send calls = %d, want 1", *calls)
	}
}

func TestExecuteDestroyOnlyDeletesEntry(t *testing.T) {
	entry := &vault.Entry{
		ID:         "e1",
		UserID:     "u1",
		Title:      "Goodbye note",
		ActionType: vault.ActionDestroy,
		Status:     vault.StatusActive,
		UpdatedAt:  time.Now(),
	}
	fv := newFakeVault(entry)
	emailClient, calls := newTestEmail(t)

	ex := &Executor{Vault: fv, Email: emailClient, ViewerBaseURL: "https://view.afterword.app", Log: zerolog.Nop()}
	hadSend, inputSendCount, err := ex.Execute(context.Background(), "u1", "Jane", nil, [32]byte{}, time.Now())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if hadSend {
		t.Fatalf("expected hadSend=false for destroy-only")
	}
	if inputSendCount != 0 {
		t.Fatalf("inputSendCount = %d, want 0", inputSendCount)
	}
	if fv.exists("e1") {
		t.Fatalf("expected destroy entry to be deleted")
	}
	if *calls != 0 {
		t.Fatalf("expected no batch email send for destroy-only user")
	}
}

func TestExecuteHybridNullHMACReleasesAllSends(t *testing.T) {
	serverKey := crypto.ServerKey("test-secret")
	fakeHMAC := []byte("irrelevant-key-not-passed-here!!")

	var entries []*vault.Entry
	for i := 0; i < 6; i++ {
		e := validSendEntry(t, idFor("send", i), "u1", fakeHMAC, serverKey)
		entries = append(entries, e)
	}
	for i := 0; i < 3; i++ {
		entries = append(entries, &vault.Entry{
			ID:         idFor("destroy", i),
			UserID:     "u1",
			Title:      "destroy me",
			ActionType: vault.ActionDestroy,
			Status:     vault.StatusActive,
			UpdatedAt:  time.Now(),
		})
	}

	fv := newFakeVault(entries...)
	emailClient, calls := newTestEmail(t)
	ex := &Executor{Vault: fv, Email: emailClient, ViewerBaseURL: "https://view.afterword.app", Log: zerolog.Nop()}

	hadSend, inputSendCount, err := ex.Execute(context.Background(), "u1", "Jane", nil, serverKey, time.Now())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if hadSend {
		t.Fatalf("expected hadSend=false with null HMAC key")
	}
	if inputSendCount != 6 {
		t.Fatalf("inputSendCount = %d, want 6", inputSendCount)
	}
	if *calls != 0 {
		t.Fatalf("expected no email sends with null HMAC key")
	}
	for i := 0; i < 6; i++ {
		id := idFor("send", i)
		if fv.status(id) != vault.StatusActive {
			t.Fatalf("send entry %s status = %q, want active (released)", id, fv.status(id))
		}
	}
	for i := 0; i < 3; i++ {
		id := idFor("destroy", i)
		if fv.exists(id) {
			t.Fatalf("destroy entry %s should have been deleted", id)
		}
	}
}

func TestExecuteTamperedHMACReleasesEntry(t *testing.T) {
	serverKey := crypto.ServerKey("test-secret")
	hmacKey := []byte("user-hmac-key-0123456789abcdef!")
	entry := validSendEntry(t, "e1", "u1", hmacKey, serverKey)
	entry.HMACSignature = "tampered-signature-value=="

	fv := newFakeVault(entry)
	emailClient, calls := newTestEmail(t)
	ex := &Executor{Vault: fv, Email: emailClient, ViewerBaseURL: "https://view.afterword.app", Log: zerolog.Nop()}

	hadSend, inputSendCount, err := ex.Execute(context.Background(), "u1", "Jane", hmacKey, serverKey, time.Now())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if hadSend || inputSendCount != 1 {
		t.Fatalf("hadSend=%v inputSendCount=%d, want false/1", hadSend, inputSendCount)
	}
	if *calls != 0 {
		t.Fatalf("expected no email send for tampered HMAC")
	}
	if fv.status("e1") != vault.StatusActive {
		t.Fatalf("entry status = %q, want active (released)", fv.status("e1"))
	}
}

func TestExecuteBatchOver100Chunks(t *testing.T) {
	serverKey := crypto.ServerKey("test-secret")
	hmacKey := []byte("user-hmac-key-0123456789abcdef!")

	var entries []*vault.Entry
	for i := 0; i < 250; i++ {
		entries = append(entries, validSendEntry(t, idFor("send", i), "u1", hmacKey, serverKey))
	}
	fv := newFakeVault(entries...)

	var chunkSizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload []map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		chunkSizes = append(chunkSizes, len(payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	emailClient := email.New("key", "noreply@afterword.app", retryhttp.New())
	emailClient.SetBaseURL(srv.URL)

	ex := &Executor{Vault: fv, Email: emailClient, ViewerBaseURL: "https://view.afterword.app", Log: zerolog.Nop()}
	hadSend, inputSendCount, err := ex.Execute(context.Background(), "u1", "Jane", hmacKey, serverKey, time.Now())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !hadSend || inputSendCount != 250 {
		t.Fatalf("hadSend=%v inputSendCount=%d, want true/250", hadSend, inputSendCount)
	}
	if len(chunkSizes) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunkSizes))
	}
	if chunkSizes[0] != 100 || chunkSizes[1] != 100 || chunkSizes[2] != 50 {
		t.Fatalf("chunk sizes = %v, want [100 100 50]", chunkSizes)
	}
}

func idFor(prefix string, i int) string {
	return fmt.Sprintf("%s-%d", prefix, i)
}

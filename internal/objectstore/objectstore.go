// Package objectstore adapts the vault's audio-attachment bucket: the only
// operation the heartbeat cycle ever performs against it is a best-effort
// delete after the owning row has already been removed from the relational
// store.
package objectstore

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Store removes an object from the vault-audio bucket. Implemented against
// the Supabase Storage REST surface, which sits alongside the same project
// URL used for the relational store.
type Store struct {
	baseURL    string
	bucket     string
	serviceKey string
	http       *http.Client
}

// New creates a Store for the given Supabase project URL and service-role
// key, targeting the vault-audio bucket.
func New(supabaseURL, serviceKey string) *Store {
	return &Store{
		baseURL:    strings.TrimRight(supabaseURL, "/"),
		bucket:     "vault-audio",
		serviceKey: serviceKey,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

// Remove deletes the object at key. A 404 from the provider is treated as
// success, since the end state -- the object is gone -- is the same either
// way. Any other failure is returned for the caller to log; an audio-delete
// failure is never fatal to the run.
func (s *Store) Remove(ctx context.Context, key string) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, strings.TrimLeft(key, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete object %q: unexpected status %d", key, resp.StatusCode)
	}
	return nil
}

// Package executor implements the safety-critical core of the heartbeat:
// claiming, validating, batch-sending, and finalizing a user's expired
// vault entries without ever losing or double-delivering one. Every
// deletion path is either unconditional-and-safe (a destroy entry, or a
// sent entry already past its grace period) or gated on a committed
// sending -> sent transition; an entry whose ownership cannot be
// confirmed is always released back to active, never dropped.
package executor

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/afterword/heartbeat/internal/crypto"
	"github.com/afterword/heartbeat/internal/email"
	"github.com/afterword/heartbeat/internal/notify"
	"github.com/afterword/heartbeat/internal/objectstore"
	"github.com/afterword/heartbeat/internal/vault"
)

var recipientEmailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// staleLockAge is the threshold past which a stuck "sending" row is assumed
// abandoned by a crashed runner and reset back to active.
const staleLockAge = 30 * time.Minute

// Executor runs the claim, deliver, and finalize phases for one user's
// expired profile.
type Executor struct {
	Vault         vault.Repository
	Email         *email.Client
	Notify        *notify.Dispatcher
	Objects       *objectstore.Store
	ViewerBaseURL string
	Log           zerolog.Logger
}

// preparedSend is one entry staged for the batch email send in Phase 2.
type preparedSend struct {
	entryID string
	title   string
	message email.Message
}

// RecoverStaleLocks resets any entry stuck in "sending" older than
// staleLockAge back to active. Run once per cycle, before any profile's
// entries are processed.
func (e *Executor) RecoverStaleLocks(ctx context.Context, now time.Time) (int, error) {
	n, err := e.Vault.RecoverStaleLocks(ctx, now.Add(-staleLockAge))
	if err != nil {
		return 0, fmt.Errorf("recover stale locks: %w", err)
	}
	if n > 0 {
		e.Log.Info().Int("count", n).Msg("recovered stale sending locks")
	}
	return n, nil
}

// Execute runs Phase 1 (prepare), Phase 2 (batch send), and Phase 3
// (finalize) for userID's active/sending entries. hmacKey is the user's
// decrypted HMAC key, or nil if it was unavailable or failed to decrypt at
// cycle start -- every send-type entry is then released rather than
// processed. serverKey opens the AES-256-GCM envelopes around
// recipient_email and data_key.
//
// Returns (hadSend, inputSendCount): hadSend is true if at least one
// send-type entry reached "sent" in this call; inputSendCount is the
// number of send-type entries seen in the input regardless of outcome.
// LifecycleController uses both to decide the profile's next state.
func (e *Executor) Execute(ctx context.Context, userID, senderName string, hmacKey []byte, serverKey [32]byte, now time.Time) (hadSend bool, inputSendCount int, err error) {
	entries, err := e.Vault.ListActiveByUser(ctx, userID)
	if err != nil {
		return false, 0, fmt.Errorf("list active entries for %s: %w", userID, err)
	}

	var prepared []preparedSend
	for _, entry := range entries {
		if entry.ActionType == vault.ActionSend {
			inputSendCount++
		}

		claimed, err := e.claim(ctx, entry.ID)
		if err != nil {
			return false, inputSendCount, fmt.Errorf("claim entry %s: %w", entry.ID, err)
		}
		if !claimed {
			continue
		}

		if entry.ActionType == vault.ActionDestroy {
			e.executeDestroy(ctx, userID, entry)
			continue
		}

		ps, ok := e.prepareSend(ctx, userID, senderName, entry, hmacKey, serverKey)
		if !ok {
			continue
		}
		prepared = append(prepared, ps)
	}

	if len(prepared) == 0 {
		return false, inputSendCount, nil
	}

	if err := e.batchSend(ctx, userID, prepared, now); err != nil {
		e.Log.Error().Err(err).Str("user_id", userID).Msg("batch send failed, releasing all prepared locks")
		for _, ps := range prepared {
			e.release(ctx, ps.entryID)
		}
		return false, inputSendCount, nil
	}

	anySent := e.finalize(ctx, userID, prepared, now)
	return anySent, inputSendCount, nil
}

// claim attempts the optimistic-lock transition active -> sending. false
// means another runner already owns the entry.
func (e *Executor) claim(ctx context.Context, entryID string) (bool, error) {
	err := e.Vault.ClaimForSending(ctx, entryID)
	if err == nil {
		return true, nil
	}
	if err == vault.ErrNotFound {
		return false, nil
	}
	return false, err
}

func (e *Executor) release(ctx context.Context, entryID string) {
	if err := e.Vault.Release(ctx, entryID); err != nil {
		e.Log.Error().Err(err).Str("entry_id", entryID).Msg("failed to release entry lock")
	}
}

// executeDestroy runs the destroy branch of Phase 1 step 2: best-effort
// executed-push, then unconditional delete of the row and (best-effort) its
// audio object. Destroy entries carry no downstream risk of silent loss, so
// the deletion is unconditional once claimed.
func (e *Executor) executeDestroy(ctx context.Context, userID string, entry *vault.Entry) {
	if e.Notify != nil {
		if err := e.Notify.SendExecutedPush(ctx, userID, "destroyed", entry.Title); err != nil {
			e.Log.Warn().Err(err).Str("entry_id", entry.ID).Msg("executed-push failed for destroyed entry")
		}
	}

	if err := e.Vault.Delete(ctx, entry.ID); err != nil {
		e.Log.Error().Err(err).Str("entry_id", entry.ID).Msg("CRITICAL: failed to delete destroy entry after executed-push")
		return
	}

	if entry.AudioFilePath != nil && e.Objects != nil {
		if err := e.Objects.Remove(ctx, *entry.AudioFilePath); err != nil {
			e.Log.Warn().Err(err).Str("entry_id", entry.ID).Msg("failed to remove audio object for destroyed entry")
		}
	}
}

// prepareSend runs Phase 1 steps 3-9 for one send-type entry. ok is false
// whenever the entry was released rather than staged -- the caller must
// never delete in that case.
func (e *Executor) prepareSend(ctx context.Context, userID, senderName string, entry *vault.Entry, hmacKey []byte, serverKey [32]byte) (preparedSend, bool) {
	logField := e.Log.With().Str("entry_id", entry.ID).Str("user_id", userID).Logger()

	if len(hmacKey) == 0 {
		logField.Error().Msg("CRITICAL: user HMAC key unavailable, releasing entry")
		e.release(ctx, entry.ID)
		return preparedSend{}, false
	}

	canonical := crypto.CanonicalEntryMessage(entry.PayloadEncrypted, entry.RecipientEmailEncrypted)
	if !crypto.Verify(canonical, hmacKey, entry.HMACSignature) {
		logField.Error().Msg("CRITICAL: HMAC signature mismatch, releasing entry")
		e.release(ctx, entry.ID)
		return preparedSend{}, false
	}

	if entry.RecipientEmailEncrypted == "" {
		logField.Error().Msg("CRITICAL: empty recipient ciphertext, releasing entry")
		e.release(ctx, entry.ID)
		return preparedSend{}, false
	}

	recipientEmail, err := crypto.DecryptServerString(entry.RecipientEmailEncrypted, serverKey)
	if err != nil || !recipientEmailPattern.MatchString(recipientEmail) {
		logField.Warn().Err(err).Msg("failed to decrypt or validate recipient email, releasing entry")
		e.release(ctx, entry.ID)
		return preparedSend{}, false
	}

	dataKeyPlaintext, err := crypto.Decrypt(crypto.ExtractServerEnvelope(entry.DataKeyEncrypted), serverKey)
	if err != nil || len(dataKeyPlaintext) == 0 {
		logField.Warn().Err(err).Msg("failed to decrypt data key, releasing entry")
		e.release(ctx, entry.ID)
		return preparedSend{}, false
	}
	securityKey := base64.StdEncoding.EncodeToString(dataKeyPlaintext)

	viewerLink := e.viewerLink(entry.ID)
	msg := e.Email.UnlockMessage(recipientEmail, senderName, entry.Title, viewerLink, securityKey)

	return preparedSend{entryID: entry.ID, title: entry.Title, message: msg}, true
}

func (e *Executor) viewerLink(entryID string) string {
	return fmt.Sprintf("%s/?entry=%s", trimTrailingSlash(e.ViewerBaseURL), entryID)
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// batchSend runs Phase 2: a single batch-endpoint call (chunked at 100)
// with idempotency key unlock-batch-<user_id>-<now_epoch>.
func (e *Executor) batchSend(ctx context.Context, userID string, prepared []preparedSend, now time.Time) error {
	msgs := make([]email.Message, len(prepared))
	for i, ps := range prepared {
		msgs[i] = ps.message
	}
	idempotencyKey := fmt.Sprintf("unlock-batch-%s-%d", userID, now.Unix())
	return e.Email.SendBatch(ctx, msgs, idempotencyKey)
}

// finalize runs Phase 3: conditional sending -> sent transition per entry,
// one retry on zero-rows-affected, best-effort executed-push per entry.
// Returns true if at least one entry reached sent.
func (e *Executor) finalize(ctx context.Context, userID string, prepared []preparedSend, now time.Time) bool {
	anySent := false
	for _, ps := range prepared {
		if !e.markSentWithRetry(ctx, ps.entryID, now) {
			e.Log.Error().Str("entry_id", ps.entryID).Msg("CRITICAL: failed to finalize sent entry after successful delivery")
			continue
		}
		anySent = true

		if e.Notify != nil {
			if err := e.Notify.SendExecutedPush(ctx, userID, "sent", ps.title); err != nil {
				e.Log.Warn().Err(err).Str("entry_id", ps.entryID).Msg("executed-push failed for sent entry")
			}
		}
	}
	return anySent
}

func (e *Executor) markSentWithRetry(ctx context.Context, entryID string, now time.Time) bool {
	if err := e.Vault.MarkSent(ctx, entryID, now); err == nil {
		return true
	} else if err != vault.ErrNotFound {
		e.Log.Error().Err(err).Str("entry_id", entryID).Msg("error finalizing sent entry")
		return false
	}

	if err := e.Vault.MarkSent(ctx, entryID, now); err == nil {
		return true
	}
	return false
}

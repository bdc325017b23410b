package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afterword/heartbeat/internal/profile"
	"github.com/afterword/heartbeat/internal/vault"
)

type fakeVaultCounts struct {
	pending map[string]int
}

func (f *fakeVaultCounts) ListActiveByUser(_ context.Context, _ string) ([]*vault.Entry, error) {
	return nil, nil
}
func (f *fakeVaultCounts) CountPendingByUser(_ context.Context, userID string) (int, error) {
	return f.pending[userID], nil
}
func (f *fakeVaultCounts) ClaimForSending(_ context.Context, _ string) error { return nil }
func (f *fakeVaultCounts) Release(_ context.Context, _ string) error        { return nil }
func (f *fakeVaultCounts) MarkSent(_ context.Context, _ string, _ time.Time) error {
	return nil
}
func (f *fakeVaultCounts) Delete(_ context.Context, _ string) error { return nil }
func (f *fakeVaultCounts) RecoverStaleLocks(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}
func (f *fakeVaultCounts) ListActiveAudioByUser(_ context.Context, _ string) ([]*vault.Entry, error) {
	return nil, nil
}
func (f *fakeVaultCounts) ListSentOlderThanPage(_ context.Context, _ time.Time, _ string, _ int) ([]*vault.Entry, error) {
	return nil, nil
}
func (f *fakeVaultCounts) InsertTombstone(_ context.Context, _ vault.Tombstone) error { return nil }
func (f *fakeVaultCounts) CountAnyByUser(_ context.Context, _ string) (int, error)    { return 0, nil }
func (f *fakeVaultCounts) CountTombstonesByUser(_ context.Context, _ string) (int, error) {
	return 0, nil
}

type fakeProfileRepo struct {
	profiles       map[string]*profile.Profile
	grace          []string
	freshReset     []string
	markedActivity []string
}

func (f *fakeProfileRepo) GetByID(_ context.Context, id string) (*profile.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, profile.ErrNotFound
	}
	return p, nil
}
func (f *fakeProfileRepo) ListExpiredActivePage(_ context.Context, _ string, _ int) ([]*profile.Profile, error) {
	return nil, nil
}
func (f *fakeProfileRepo) ListFreeSubscribersPage(_ context.Context, _ string, _ int) ([]*profile.Profile, error) {
	return nil, nil
}
func (f *fakeProfileRepo) ListInactiveWithExpiredGracePage(_ context.Context, _ time.Time, _ string, _ int) ([]*profile.Profile, error) {
	return nil, nil
}
func (f *fakeProfileRepo) ListStaleActivePage(_ context.Context, _ time.Time, _ string, _ int) ([]*profile.Profile, error) {
	return nil, nil
}
func (f *fakeProfileRepo) MarkWarningSent(_ context.Context, _ string, _ time.Time) error { return nil }
func (f *fakeProfileRepo) MarkPush66Sent(_ context.Context, _ string, _ time.Time) error  { return nil }
func (f *fakeProfileRepo) MarkPush33Sent(_ context.Context, _ string, _ time.Time) error  { return nil }
func (f *fakeProfileRepo) SetInactiveGrace(_ context.Context, id string, _ time.Time) error {
	f.grace = append(f.grace, id)
	return nil
}
func (f *fakeProfileRepo) ResetFreshActive(_ context.Context, id string, _ time.Time) error {
	f.freshReset = append(f.freshReset, id)
	return nil
}
func (f *fakeProfileRepo) MarkHadVaultActivity(_ context.Context, id string) error {
	f.markedActivity = append(f.markedActivity, id)
	return nil
}
func (f *fakeProfileRepo) ApplyDowngradeReset(_ context.Context, _ string, _ time.Time) error {
	return nil
}
func (f *fakeProfileRepo) DeleteUser(_ context.Context, _ string) error { return nil }

func TestApplyLeavesActiveWhenEntriesPending(t *testing.T) {
	v := &fakeVaultCounts{pending: map[string]int{"u1": 2}}
	p := &fakeProfileRepo{}
	c := &Controller{Vault: v, Profile: p, Log: zerolog.Nop()}

	outcome, err := c.Apply(context.Background(), "u1", false, 0, time.Now())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeLeftActive {
		t.Fatalf("outcome = %q, want left_active", outcome)
	}
	if len(p.markedActivity) != 1 || p.markedActivity[0] != "u1" {
		t.Fatalf("markedActivity = %v", p.markedActivity)
	}
	if len(p.grace) != 0 || len(p.freshReset) != 0 {
		t.Fatalf("expected no grace/reset calls")
	}
}

func TestApplyEntersGraceOnSuccessfulSend(t *testing.T) {
	v := &fakeVaultCounts{pending: map[string]int{"u1": 0}}
	p := &fakeProfileRepo{}
	c := &Controller{Vault: v, Profile: p, Log: zerolog.Nop()}

	outcome, err := c.Apply(context.Background(), "u1", true, 1, time.Now())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeGraceEntered {
		t.Fatalf("outcome = %q, want grace_entered", outcome)
	}
	if len(p.grace) != 1 || p.grace[0] != "u1" {
		t.Fatalf("grace = %v", p.grace)
	}
}

func TestApplyTripsDataLossWhenSendsExistButNoneSucceeded(t *testing.T) {
	v := &fakeVaultCounts{pending: map[string]int{"u1": 0}}
	p := &fakeProfileRepo{}
	c := &Controller{Vault: v, Profile: p, Log: zerolog.Nop()}

	outcome, err := c.Apply(context.Background(), "u1", false, 6, time.Now())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeDataLossTrip {
		t.Fatalf("outcome = %q, want data_loss_trip", outcome)
	}
	if len(p.grace) != 0 || len(p.freshReset) != 0 {
		t.Fatalf("expected no grace/reset calls on data-loss trip, got grace=%v freshReset=%v", p.grace, p.freshReset)
	}
	if len(p.markedActivity) != 1 {
		t.Fatalf("expected had_vault_activity still marked on data-loss trip")
	}
}

func TestApplyResetsFreshActiveOnDestroyOnly(t *testing.T) {
	v := &fakeVaultCounts{pending: map[string]int{"u1": 0}}
	p := &fakeProfileRepo{}
	c := &Controller{Vault: v, Profile: p, Log: zerolog.Nop()}

	outcome, err := c.Apply(context.Background(), "u1", false, 0, time.Now())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeFreshReset {
		t.Fatalf("outcome = %q, want fresh_reset", outcome)
	}
	if len(p.freshReset) != 1 || p.freshReset[0] != "u1" {
		t.Fatalf("freshReset = %v", p.freshReset)
	}
}

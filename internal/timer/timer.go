// Package timer computes per-user countdown state. Every function here is
// pure: no I/O, no global clock access, so the scheduling logic can be tested
// exhaustively without a database.
package timer

import (
	"strings"
	"time"
)

const (
	secondsPerDay  = 24 * 60 * 60
	push66Fraction = 0.66
	push33Fraction = 0.33
	email24hWindow = 24 * time.Hour
)

// State is the derived timer state for one profile at one instant.
type State struct {
	Deadline          time.Time
	RemainingSeconds  float64
	RemainingFraction float64
	Push66At          time.Time
	Push33At          time.Time
	Email24hAt        time.Time
}

// NormalizeTimerDays clamps a possibly-zero-or-negative timer_days value to
// the minimum valid value of 1, per the Profile invariant in the data model.
func NormalizeTimerDays(timerDays int) int {
	if timerDays < 1 {
		return 1
	}
	return timerDays
}

// Build derives the full timer state for a profile given its last check-in,
// configured timer length, and the current instant.
func Build(lastCheckIn time.Time, timerDays int, now time.Time) State {
	days := NormalizeTimerDays(timerDays)
	totalSeconds := float64(days) * secondsPerDay
	deadline := lastCheckIn.Add(time.Duration(totalSeconds) * time.Second)

	remaining := deadline.Sub(now).Seconds()
	if remaining < 0 {
		remaining = 0
	}

	var remainingFraction float64
	if totalSeconds > 0 {
		remainingFraction = remaining / totalSeconds
	}

	push66At := lastCheckIn.Add(time.Duration((1-push66Fraction)*totalSeconds) * time.Second)
	push33At := lastCheckIn.Add(time.Duration((1-push33Fraction)*totalSeconds) * time.Second)

	email24hAt := deadline.Add(-email24hWindow)
	if email24hAt.Before(lastCheckIn) {
		email24hAt = lastCheckIn
	}

	return State{
		Deadline:          deadline,
		RemainingSeconds:  remaining,
		RemainingFraction: remainingFraction,
		Push66At:          push66At,
		Push33At:          push33At,
		Email24hAt:        email24hAt,
	}
}

// Expired reports whether now is at or past the deadline.
func (s State) Expired(now time.Time) bool {
	return !now.Before(s.Deadline)
}

// AlreadyMarkedInCycle reports whether a notification timestamp sentAt
// already accounts for the current check-in cycle: a nil sentAt has never
// been marked, and a non-nil one counts only if it is not older than the
// current last_check_in (an earlier sentAt belongs to a prior cycle that a
// subsequent check-in invalidated).
func AlreadyMarkedInCycle(sentAt *time.Time, lastCheckIn time.Time) bool {
	if sentAt == nil {
		return false
	}
	return !sentAt.Before(lastCheckIn)
}

// DueAndUnsent reports whether a notification trigger at triggerAt is due
// (now has reached it) and has not already been marked sent this cycle.
func DueAndUnsent(now, triggerAt time.Time, sentAt *time.Time, lastCheckIn time.Time) bool {
	if now.Before(triggerAt) {
		return false
	}
	return !AlreadyMarkedInCycle(sentAt, lastCheckIn)
}

// paidSubscriptions is the case-insensitive set of subscription_status
// values that gate the 24h reminder email.
var paidSubscriptions = map[string]bool{
	"pro":      true,
	"lifetime": true,
	"premium":  true,
}

// IsPaid reports whether subscriptionStatus is one of the paid tiers,
// case-insensitively. Empty or unrecognized values are not paid.
func IsPaid(subscriptionStatus string) bool {
	return paidSubscriptions[strings.ToLower(strings.TrimSpace(subscriptionStatus))]
}

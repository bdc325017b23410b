package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/afterword/heartbeat/internal/email"
	"github.com/afterword/heartbeat/internal/push"
	"github.com/afterword/heartbeat/internal/pushdevice"
)

// Pusher is the narrow surface Dispatcher needs from a push provider
// client, letting tests substitute a fake rather than driving a real FCM
// OAuth handshake.
type Pusher interface {
	Send(ctx context.Context, deviceToken, title, body string, data map[string]string) (push.Outcome, error)
}

// Dispatcher sends the reminder email, 66%/33% remaining pushes, and
// post-execution pushes for a profile. A nil Push disables push sends
// entirely, which is the expected state when no Firebase credential was
// configured for this run.
type Dispatcher struct {
	Email   *email.Client
	Push    Pusher
	Devices pushdevice.Repository
	Log     zerolog.Logger
}

// SendReminderEmail sends the 24h-before-deadline reminder to a paid user,
// bucketed by remaining fraction. Callers are responsible for the paid-tier
// and already-sent-this-cycle gating; this method always sends when called.
func (d *Dispatcher) SendReminderEmail(ctx context.Context, userID, to string, remainingFraction float64, now time.Time) error {
	msg := d.Email.ReminderMessage(to, remainingFraction)
	idempotencyKey := fmt.Sprintf("warning-%s-%s", userID, now.Format("2006-01-02"))
	if err := d.Email.Send(ctx, msg, idempotencyKey); err != nil {
		return fmt.Errorf("send reminder email: %w", err)
	}
	return nil
}

// SendDowngradeCourtesyEmail sends the courtesy notice after a strong-signal
// downgrade revert. Weak-signal reverts never call this.
func (d *Dispatcher) SendDowngradeCourtesyEmail(ctx context.Context, userID, to string, now time.Time) error {
	msg := d.Email.DowngradeCourtesyMessage(to)
	idempotencyKey := fmt.Sprintf("downgrade-%s-%s", userID, now.Format("2006-01-02"))
	if err := d.Email.Send(ctx, msg, idempotencyKey); err != nil {
		return fmt.Errorf("send downgrade courtesy email: %w", err)
	}
	return nil
}

// SendRemainingPush sends the 66% or 33% remaining-time push to every
// device registered to userID. Each device is sent independently: a
// send failure or an unregistered-token prune on one device never blocks
// the others. Returns the first unexpected (non-unregistered) error
// encountered, if any, after attempting all devices.
func (d *Dispatcher) SendRemainingPush(ctx context.Context, userID string, remaining time.Duration) error {
	timeLeft := FormatTimeLeft(remaining)
	title := "Afterword check-in reminder"
	body := fmt.Sprintf("You have %s left to check in.", timeLeft)
	return d.fanOutPush(ctx, userID, title, body)
}

// SendExecutedPush sends the post-execution notification for one entry:
// verb is "sent" (beneficiary delivery) or "destroyed".
func (d *Dispatcher) SendExecutedPush(ctx context.Context, userID, verb, entryTitle string) error {
	title := "Afterword vault update"
	body := fmt.Sprintf("\"%s\" has been %s.", entryTitle, verb)
	return d.fanOutPush(ctx, userID, title, body)
}

func (d *Dispatcher) fanOutPush(ctx context.Context, userID, title, body string) error {
	if d.Push == nil {
		return nil
	}

	devices, err := d.Devices.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list push devices for %s: %w", userID, err)
	}

	var firstErr error
	for _, dev := range devices {
		outcome, err := d.Push.Send(ctx, dev.Token, title, body, nil)
		if err != nil {
			d.Log.Warn().Err(err).Str("user_id", userID).Msg("push send failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if outcome.Unregistered {
			if err := d.Devices.Delete(ctx, userID, dev.Token); err != nil {
				d.Log.Warn().Err(err).Str("user_id", userID).Msg("failed to prune unregistered push device")
			}
		}
	}
	return firstErr
}

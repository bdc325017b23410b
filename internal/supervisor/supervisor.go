// Package supervisor wraps a single cycle run with the outer bounded retry:
// up to MaxAttempts attempts (three by default), with fixed delays between them, for the
// transient errors a cycle run can still surface (config is checked before
// this point, so what reaches here is a startup or datastore failure).
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Delays is the fixed schedule between outer retry attempts.
var Delays = []time.Duration{15 * time.Second, 45 * time.Second}

// Clock abstracts time.Now and time.Sleep so tests can run the full retry
// schedule without real delays.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Supervisor retries a single run function up to MaxAttempts times. A zero
// MaxAttempts defaults to len(Delays)+1, three attempts total.
type Supervisor struct {
	Clock       Clock
	Log         zerolog.Logger
	MaxAttempts int
}

// New creates a Supervisor with the production clock and the given attempt
// cap. maxAttempts <= 0 uses the default of len(Delays)+1.
func New(log zerolog.Logger, maxAttempts int) *Supervisor {
	return &Supervisor{Clock: realClock{}, Log: log, MaxAttempts: maxAttempts}
}

func (s *Supervisor) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return len(Delays) + 1
}

// delayFor returns the delay before the (i+1)th attempt, given that attempt
// i-1 (0-based) just failed; i is at least 1. Once the fixed schedule is exhausted, the last
// delay repeats for any further configured attempts.
func delayFor(i int) time.Duration {
	if i-1 < len(Delays) {
		return Delays[i-1]
	}
	return Delays[len(Delays)-1]
}

// Run invokes attempt up to MaxAttempts times, sleeping the fixed schedule
// between failures. It returns the last error if every attempt fails, or nil
// as soon as one attempt succeeds. Context cancellation aborts immediately
// without consuming a further attempt.
func (s *Supervisor) Run(ctx context.Context, attempt func(ctx context.Context) error) error {
	var lastErr error

	attempts := s.maxAttempts()
	for i := 0; i < attempts; i++ {
		if i > 0 {
			s.Log.Warn().Err(lastErr).Int("attempt", i+1).Msg("retrying cycle after transient failure")
			s.Clock.Sleep(ctx, delayFor(i))
			if ctx.Err() != nil {
				return fmt.Errorf("cycle retry cancelled: %w", ctx.Err())
			}
		}

		err := attempt(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("cycle cancelled: %w", err)
		}
	}

	return fmt.Errorf("cycle failed after %d attempts: %w", attempts, lastErr)
}

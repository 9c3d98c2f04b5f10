package common

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryPolicy bounds the attempts made for a transient failure.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy is three attempts with 200ms doubling backoff capped at 2s.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Base: 200 * time.Millisecond, Max: 2 * time.Second}

// Retry runs fn until it succeeds, returns a non-transient error, the context
// ends, or the policy's attempts are used up. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	delay := p.Base
	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err = fn(ctx); err == nil || !IsTransient(err) {
			return err
		}
		if attempt == p.Attempts {
			break
		}
		log.Debug().Str("op", op).Int("attempt", attempt).Dur("backoff", delay).Err(err).Msg("retry: transient failure")
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		delay *= 2
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
	return err
}

package common

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RateLimiter throttles broker requests and tracks the remaining quota the
// broker reports back.
type RateLimiter struct {
	limiter   *rate.Limiter
	mu        sync.RWMutex
	remaining int
	limit     int
}

// NewRateLimiter allows rps requests per second with the given burst.
// limit is the broker's advertised per-window quota used for warnings.
func NewRateLimiter(rps float64, burst, limit int) *RateLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		remaining: limit,
		limit:     limit,
	}
}

// Wait blocks until a request may be sent or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := rl.limiter.Wait(ctx); err != nil {
		return err
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		log.Debug().Dur("waited", waited).Msg("rate limit: request delayed")
	}
	return nil
}

// UpdateFromHeader records the remaining quota from a response header.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" || rl.limit <= 0 {
		return
	}
	remaining, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	rl.remaining = remaining
	rl.mu.Unlock()

	used := float64(rl.limit-remaining) / float64(rl.limit) * 100
	if used >= 95 {
		log.Warn().Int("remaining", remaining).Int("limit", rl.limit).Msg("rate limit critical: approaching broker throttle")
	} else if used >= 80 {
		log.Warn().Int("remaining", remaining).Int("limit", rl.limit).Msg("rate limit warning")
	}
}

// GetUsage returns the last reported remaining quota.
func (rl *RateLimiter) GetUsage() (remaining int, limit int) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.remaining, rl.limit
}

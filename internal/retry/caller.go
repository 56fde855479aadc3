package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/calyptra-labs/stakedeck/internal/config"
	"github.com/calyptra-labs/stakedeck/internal/monitoring"
	"github.com/calyptra-labs/stakedeck/internal/types"
	"github.com/rs/zerolog"
)

// Caller is the single entry point for chain calls. Every read and write
// against the network goes through Do or Value so transient endpoint
// failures are absorbed by the same bounded backoff policy.
type Caller struct {
	maxAttempts  int
	baseDelay    time.Duration
	growthFactor float64
	maxJitter    time.Duration
	logger       zerolog.Logger
}

// ExhaustedError reports that every attempt for a call failed. It carries
// the last underlying error and matches types.ErrRPCExhausted.
type ExhaustedError struct {
	Label    string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts exhausted: %v", e.Label, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

func (e *ExhaustedError) Is(target error) bool {
	return target == types.ErrRPCExhausted
}

// NewCaller creates a resilient caller from the retry configuration
func NewCaller(cfg *config.RetryConfig, logger zerolog.Logger) *Caller {
	return &Caller{
		maxAttempts:  cfg.MaxAttempts,
		baseDelay:    cfg.BaseDelayDuration(),
		growthFactor: cfg.GrowthFactor,
		maxJitter:    cfg.MaxJitterDuration(),
		logger:       logger.With().Str("component", "retry").Logger(),
	}
}

// Do runs fn with bounded retries and exponential backoff. Rate-limit
// responses are classified for logging and metrics only; the retry policy
// itself does not branch on them. Context cancellation stops the loop
// immediately.
func (c *Caller) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			monitoring.RecordRPCOutcome(label, "success", time.Since(start).Seconds())
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			monitoring.RecordRPCOutcome(label, "canceled", time.Since(start).Seconds())
			return err
		}

		if IsRateLimited(err) {
			monitoring.RPCRateLimitedTotal.WithLabelValues(label).Inc()
			c.logger.Warn().
				Str("call", label).
				Int("attempt", attempt).
				Msg("RPC endpoint rate limited")
		}

		if attempt < c.maxAttempts {
			monitoring.RPCRetriesTotal.WithLabelValues(label).Inc()
			c.logger.Debug().
				Str("call", label).
				Int("attempt", attempt).
				Err(err).
				Msg("RPC call failed, retrying")

			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				monitoring.RecordRPCOutcome(label, "canceled", time.Since(start).Seconds())
				return err
			}
		}
	}

	monitoring.RPCExhaustedTotal.WithLabelValues(label).Inc()
	monitoring.RecordRPCOutcome(label, "exhausted", time.Since(start).Seconds())
	c.logger.Error().
		Str("call", label).
		Int("attempts", c.maxAttempts).
		Err(lastErr).
		Msg("RPC call exhausted all attempts")

	return &ExhaustedError{Label: label, Attempts: c.maxAttempts, Err: lastErr}
}

// Value runs fn through the caller's retry policy and returns its result
func Value[T any](ctx context.Context, c *Caller, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := c.Do(ctx, label, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// backoff computes the delay before the next attempt
func (c *Caller) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(c.baseDelay) * math.Pow(c.growthFactor, float64(attempt-1)))
	if c.maxJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(c.maxJitter)))
	}
	return delay
}

func (c *Caller) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRateLimited reports whether an RPC error looks like endpoint rate
// limiting (HTTP 429 or the JSON-RPC limit code)
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "too many requests") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "429") ||
		strings.Contains(s, "-32005")
}

// Package retry wraps fallible external calls with bounded attempts and
// exponential backoff.
package retry

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/bobarin/storyreel/internal/models"
)

// Class is the classifier's verdict for one failure.
type Class int

const (
	// Retryable failures are worth another attempt (timeouts, 5xx, broken
	// connections).
	Retryable Class = iota
	// Fatal failures short-circuit immediately (malformed responses, bad
	// input).
	Fatal
)

// Classifier maps an error to a retry class.
type Classifier func(error) Class

// Config bounds one retried operation.
type Config struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// BaseDelay is the wait before the second attempt; attempt i waits
	// BaseDelay * 2^(i-1).
	BaseDelay time.Duration
	// Jitter spreads each delay by ±20% when true.
	Jitter bool
	// Label names the operation in logs.
	Label string
}

// Do runs op until it succeeds, the classifier declares a failure fatal, the
// attempt budget is exhausted, or ctx is cancelled. Cancellation during a
// backoff sleep returns immediately with a Cancelled error. An exhausted
// budget maps the last error to ExternalServiceError.
func Do(ctx context.Context, cfg Config, classify Classifier, op func(context.Context) error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt)
			log.Printf("[Retry] %s attempt %d/%d in %v (last error: %v)",
				cfg.Label, attempt+1, cfg.Attempts, delay, lastErr)

			select {
			case <-ctx.Done():
				return models.NewPipelineError(models.ErrKindCancelled, "cancelled during backoff", models.ErrCancelled)
			case <-time.After(delay):
			}
		}

		if err := ctx.Err(); err != nil {
			return models.NewPipelineError(models.ErrKindCancelled, "cancelled before attempt", models.ErrCancelled)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		// A cancelled context is never retried, whatever the classifier says.
		if ctx.Err() != nil {
			return models.NewPipelineError(models.ErrKindCancelled, "cancelled in flight", models.ErrCancelled)
		}
		if classify != nil && classify(err) == Fatal {
			return err
		}
	}

	return models.NewPipelineError(models.ErrKindExternalService,
		cfg.Label+" failed after retries: "+lastErr.Error(), lastErr)
}

// backoffDelay computes the exponential delay before the given attempt
// (1-based for the first retry), with optional ±20% jitter.
func backoffDelay(cfg Config, attempt int) time.Duration {
	delay := cfg.BaseDelay << (attempt - 1)
	if cfg.Jitter {
		spread := 0.8 + rand.Float64()*0.4
		delay = time.Duration(float64(delay) * spread)
	}
	return delay
}

package resolver

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/syncforge/erpsync/internal/model"
)

// BackoffConfig parameterizes the exponential-backoff schedule spec.md
// §4.4 defines: next_retry_at = now + base*2^retry_count, clamped to a max.
type BackoffConfig struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoffConfig matches the spec's illustrative base/max.
var DefaultBackoffConfig = BackoffConfig{Base: 30 * time.Second, Max: 1 * time.Hour}

// NextRetryAt computes the next retry time for a pending child at its
// current retry_count, built on cenkalti/backoff/v4's exponential
// backoff so the base*2^n schedule and its clamp share one well-tested
// implementation instead of a hand-rolled loop.
func NextRetryAt(now time.Time, cfg BackoffConfig, retryCount int) time.Time {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Base
	b.Multiplier = 2
	b.MaxInterval = cfg.Max
	b.MaxElapsedTime = 0 // clamp by MaxInterval only, never by elapsed wall time
	b.RandomizationFactor = 0
	b.Reset()

	var d time.Duration
	for i := 0; i <= retryCount; i++ {
		d = b.NextBackOff()
		if d == backoff.Stop {
			d = cfg.Max
			break
		}
	}
	return now.Add(d)
}

// AdvanceRetry applies a failed resolution attempt to a pending
// child: increments retry_count and recomputes next_retry_at, or
// leaves it ready for promotion to a FailedRecord once retries are
// exhausted (callers check Retryable after calling this).
func AdvanceRetry(now time.Time, cfg BackoffConfig, pc model.PendingChild) model.PendingChild {
	pc.RetryCount++
	if pc.RetryCount >= pc.MaxRetries {
		return pc
	}
	next := NextRetryAt(now, cfg, pc.RetryCount)
	pc.NextRetryAt = &next
	return pc
}

// Exhausted reports whether a pending child has used up its retries
// and must be promoted to a FailedRecord (stage = "resolve").
func Exhausted(pc model.PendingChild) bool {
	return pc.RetryCount >= pc.MaxRetries
}

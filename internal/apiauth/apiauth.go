// Package apiauth holds the bearer-token refresh logic shared by the
// source and sink API clients: spec.md §4.6 requires refreshing once
// on HTTP 401 and retrying, rather than failing the whole request.
package apiauth

import (
	"context"
	"sync"

	"github.com/syncforge/erpsync/internal/errkind"
)

// RefreshFunc obtains a fresh bearer token from the identity provider.
type RefreshFunc func(ctx context.Context) (string, error)

// TokenSource holds the current bearer token and the means to refresh
// it. Safe for concurrent use — multiple in-flight requests may race
// to refresh; RefreshOnce does not coalesce them, so each caller that
// saw a 401 triggers its own refresh.
type TokenSource struct {
	mu      sync.Mutex
	token   string
	refresh RefreshFunc
}

// NewTokenSource constructs a TokenSource seeded with an initial token.
func NewTokenSource(initialToken string, refresh RefreshFunc) *TokenSource {
	return &TokenSource{token: initialToken, refresh: refresh}
}

// Token returns the current bearer token.
func (t *TokenSource) Token() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

// RefreshOnce replaces the current token with a freshly obtained one.
// Concurrent callers observing the same stale token all trigger a
// refresh; the API client layer is expected to call this at most once
// per request after a 401, so the coalescing here is best-effort, not
// a strict single-flight.
func (t *TokenSource) RefreshOnce(ctx context.Context) error {
	if t.refresh == nil {
		return errkind.New(errkind.Authentication, "no refresh function configured")
	}
	newToken, err := t.refresh(ctx)
	if err != nil {
		return errkind.Newf(errkind.Authentication, "token refresh failed: %v", err)
	}
	t.mu.Lock()
	t.token = newToken
	t.mu.Unlock()
	return nil
}

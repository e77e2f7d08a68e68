package apiauth

import (
	"context"
	"errors"
	"testing"

	"github.com/syncforge/erpsync/internal/errkind"
)

func TestTokenSourceToken(t *testing.T) {
	ts := NewTokenSource("initial", nil)
	if got := ts.Token(); got != "initial" {
		t.Errorf("Token() = %q, want initial", got)
	}
}

func TestRefreshOnceReplacesToken(t *testing.T) {
	ts := NewTokenSource("stale", func(ctx context.Context) (string, error) {
		return "fresh", nil
	})

	if err := ts.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("RefreshOnce() error = %v", err)
	}
	if got := ts.Token(); got != "fresh" {
		t.Errorf("Token() after refresh = %q, want fresh", got)
	}
}

func TestRefreshOnceNoRefreshFuncConfigured(t *testing.T) {
	ts := NewTokenSource("static", nil)

	err := ts.RefreshOnce(context.Background())
	if !errkind.OfKind(err, errkind.Authentication) {
		t.Fatalf("expected an Authentication errkind, got %v", err)
	}
	if got := ts.Token(); got != "static" {
		t.Errorf("Token() should be unchanged on failed refresh, got %q", got)
	}
}

func TestRefreshOnceWrapsUnderlyingError(t *testing.T) {
	boom := errors.New("provider unreachable")
	ts := NewTokenSource("stale", func(ctx context.Context) (string, error) {
		return "", boom
	})

	err := ts.RefreshOnce(context.Background())
	if !errkind.OfKind(err, errkind.Authentication) {
		t.Fatalf("expected an Authentication errkind, got %v", err)
	}
	if got := ts.Token(); got != "stale" {
		t.Errorf("Token() should be unchanged on failed refresh, got %q", got)
	}
}

package sourceclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/syncforge/erpsync/internal/apiauth"
	"github.com/syncforge/erpsync/internal/errkind"
)

func TestFetchPageReturnsRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runtime/items/execute" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var body executeRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Page != 1 {
			t.Fatalf("expected page=1, got %d", body.Page)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    []map[string]any{{"item_id": "A"}},
			"metadata": map[string]any{
				"total_rows": 1,
				"page":       1,
				"page_size":  50,
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, apiauth.NewTokenSource("tok", nil))
	page, err := c.FetchPage(context.Background(), FetchParams{EntitySlug: "items", Page: 1, PageSize: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0]["item_id"] != "A" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.HasMore {
		t.Fatal("expected HasMore=false once accumulated reaches total_rows")
	}
}

func TestFetchPageHasMoreWhileBelowTotalRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    []map[string]any{{"item_id": "A"}, {"item_id": "B"}},
			"metadata": map[string]any{
				"total_rows": 10,
				"page":       1,
				"page_size":  2,
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, apiauth.NewTokenSource("tok", nil))
	page, err := c.FetchPage(context.Background(), FetchParams{EntitySlug: "items", Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !page.HasMore {
		t.Fatal("expected HasMore=true with total_rows still ahead of accumulated")
	}
}

func TestFetchPageSendsRowVersionFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body executeRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Filters["row_version_gt"] != "42" {
			t.Fatalf("expected row_version_gt filter, got %+v", body.Filters)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"data":     []map[string]any{},
			"metadata": map[string]any{"total_rows": 0, "page": 1, "page_size": 10},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, apiauth.NewTokenSource("tok", nil))
	_, err := c.FetchPage(context.Background(), FetchParams{EntitySlug: "items", Page: 1, PageSize: 10, RowVersionGT: "42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetchPageRefreshesOn401(t *testing.T) {
	attempt := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		if r.Header.Get("Authorization") == "Bearer stale" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"code": "unauthorized"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"data":     []map[string]any{},
			"metadata": map[string]any{"total_rows": 0, "page": 1, "page_size": 10},
		})
	}))
	defer srv.Close()

	auth := apiauth.NewTokenSource("stale", func(ctx context.Context) (string, error) {
		return "fresh", nil
	})
	c := New(srv.URL, auth)
	_, err := c.FetchPage(context.Background(), FetchParams{EntitySlug: "items", Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("expected refresh-and-retry to succeed, got %v", err)
	}
	if attempt != 2 {
		t.Fatalf("expected exactly 2 attempts (original + retry), got %d", attempt)
	}
	if auth.Token() != "fresh" {
		t.Fatalf("expected token source updated, got %q", auth.Token())
	}
}

func TestFetchPageSecondConsecutive401IsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "unauthorized"})
	}))
	defer srv.Close()

	auth := apiauth.NewTokenSource("stale", func(ctx context.Context) (string, error) {
		return "still-bad", nil
	})
	c := New(srv.URL, auth)
	_, err := c.FetchPage(context.Background(), FetchParams{EntitySlug: "items", Page: 1, PageSize: 10})
	if !errkind.OfKind(err, errkind.Connection) {
		t.Fatalf("expected a second consecutive 401 to surface as errkind.Connection, got %v", err)
	}
	if errkind.OfKind(err, errkind.Authentication) {
		t.Fatal("a second consecutive 401 must not surface as errkind.Authentication")
	}
}

func TestFetchPageNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "not_found", "message": "no such entity"})
	}))
	defer srv.Close()

	c := New(srv.URL, apiauth.NewTokenSource("tok", nil))
	_, err := c.FetchPage(context.Background(), FetchParams{EntitySlug: "ghost", Page: 1, PageSize: 10})
	if !errkind.OfKind(err, errkind.NotFound) {
		t.Fatalf("expected errkind.NotFound, got %v", err)
	}
}

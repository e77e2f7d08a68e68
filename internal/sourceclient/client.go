// Package sourceclient is the authenticated, paged HTTP client for the
// source ERP system's read API.
package sourceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/syncforge/erpsync/internal/apiauth"
	"github.com/syncforge/erpsync/internal/errkind"
	"github.com/syncforge/erpsync/internal/model"
)

// defaultTimeout bounds ordinary requests (auth, metadata lookups).
// FetchPage overrides it per-call with fetchTimeout, since paged
// extraction runs longer than a typical request/response round trip.
const defaultTimeout = 30 * time.Second

// fetchTimeout is the extended per-request budget for FETCH stage
// calls against /runtime/{slug}/execute.
const fetchTimeout = 60 * time.Second

// Client fetches raw records from one source ERP system's API.
type Client struct {
	BaseURL string
	Auth    *apiauth.TokenSource
	HTTP    *http.Client
}

// New constructs a Client with a 30-second default request timeout;
// FetchPage extends this per-call to fetchTimeout.
func New(baseURL string, auth *apiauth.TokenSource) *Client {
	return &Client{
		BaseURL: baseURL,
		Auth:    auth,
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

// Page is one page of raw records from a source-API fetch, plus
// whether a subsequent page exists.
type Page struct {
	Records []model.Record `json:"records"`
	HasMore bool           `json:"has_more"`
}

// FetchParams controls one page of the source fetch per spec.md
// §4.5's FETCH stage.
type FetchParams struct {
	EntitySlug   string
	Page         int
	PageSize     int
	RowVersionGT any // non-nil for incremental: "row_version > last_sync_rowversion"
}

// executeRequest is the runtime-API execute body: spec.md §6's
// "{slug, page, page_size, filters?, sort?}" (slug travels in the
// path, not the body, matching POST /runtime/{slug}/execute).
type executeRequest struct {
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Filters  map[string]any `json:"filters,omitempty"`
}

// executeResponse is spec.md §6's "{success, data: […], metadata:
// {total_rows, page, page_size, execution_time_ms}}".
type executeResponse struct {
	Success  bool           `json:"success"`
	Data     []model.Record `json:"data"`
	Metadata struct {
		TotalRows       int `json:"total_rows"`
		Page            int `json:"page"`
		PageSize        int `json:"page_size"`
		ExecutionTimeMs int `json:"execution_time_ms"`
	} `json:"metadata"`
}

// FetchPage retrieves one page of raw records for the given entity via
// the runtime execute endpoint, deriving HasMore from the accumulated
// row count against metadata.total_rows per spec.md §4.6's
// execute-all-pages convenience ("until len(data)+accumulated ≥
// total_rows or data empty").
func (c *Client) FetchPage(ctx context.Context, p FetchParams) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req := executeRequest{Page: p.Page, PageSize: p.PageSize}
	if p.RowVersionGT != nil {
		req.Filters = map[string]any{"row_version_gt": p.RowVersionGT}
	}

	path := fmt.Sprintf("/runtime/%s/execute", p.EntitySlug)
	var resp executeResponse
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errkind.New(errkind.Connection, "source API reported an unsuccessful execute")
	}

	accumulated := p.PageSize*(p.Page-1) + len(resp.Data)
	hasMore := len(resp.Data) > 0 && accumulated < resp.Metadata.TotalRows
	return &Page{Records: resp.Data, HasMore: hasMore}, nil
}

// --- HTTP helpers: a do/doRequest split so the refresh-and-retry
// wrapper stays separate from the actual request/response plumbing. ---

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do retries once, after a single token refresh, on a 401. A second
// consecutive authentication failure is not re-raised as
// Authentication — it surfaces as a Connection error, since by that
// point the caller can no longer distinguish "bad token" from "auth
// service down" and should back off like any other connectivity fault.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	err := c.doRequest(ctx, method, path, body, result)
	if !errkind.OfKind(err, errkind.Authentication) {
		return err
	}
	if c.Auth == nil {
		return errkind.New(errkind.Connection, "authentication failed with no token source configured")
	}
	if refreshErr := c.Auth.RefreshOnce(ctx); refreshErr != nil {
		return errkind.New(errkind.Connection, "token refresh failed after a 401: "+refreshErr.Error())
	}
	err = c.doRequest(ctx, method, path, body, result)
	if errkind.OfKind(err, errkind.Authentication) {
		return errkind.New(errkind.Connection, "authentication failed again after refresh: "+err.Error())
	}
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errkind.Newf(errkind.Connection, "marshal request: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return errkind.Newf(errkind.Connection, "create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Auth != nil {
		req.Header.Set("Authorization", "Bearer "+c.Auth.Token())
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errkind.Newf(errkind.Connection, "http request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errkind.Newf(errkind.Connection, "read response: %v", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.Unmarshal(respBody, &apiErr)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return errkind.New(errkind.Authentication, apiErr.Message)
		case http.StatusForbidden:
			return errkind.New(errkind.Authorization, apiErr.Message)
		case http.StatusNotFound:
			return errkind.New(errkind.NotFound, apiErr.Message)
		default:
			return errkind.Newf(errkind.Connection, "source API HTTP %d: %s", resp.StatusCode, string(respBody))
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return errkind.Newf(errkind.Connection, "unmarshal response: %v", err)
		}
	}
	return nil
}

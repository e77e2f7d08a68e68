// Package sinkclient is the authenticated HTTP client for the sink
// ERP system's write API: batched state lookup, insert, update, and
// delete.
package sinkclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/syncforge/erpsync/internal/apiauth"
	"github.com/syncforge/erpsync/internal/errkind"
	"github.com/syncforge/erpsync/internal/model"
)

// bkBatchChunkSize bounds how many BK hashes are sent in a single
// batch/query request (an Open Question spec.md leaves to the
// implementation; 500 keeps the URL/body comfortably under common
// reverse-proxy limits while amortizing round trips).
const bkBatchChunkSize = 500

// defaultTimeout bounds ordinary single-record requests. ingestTimeout
// extends batch insert/update/delete calls per spec.md §5.
const (
	defaultTimeout = 30 * time.Second
	ingestTimeout  = 120 * time.Second
)

// Client writes records to one sink ERP system's API.
type Client struct {
	BaseURL string
	Auth    *apiauth.TokenSource
	HTTP    *http.Client
}

// New constructs a Client with a 30-second default request timeout;
// the batch insert/update/delete calls extend this per-call to
// ingestTimeout.
func New(baseURL string, auth *apiauth.TokenSource) *Client {
	return &Client{
		BaseURL: baseURL,
		Auth:    auth,
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

// GetByBKHash implements spec.md §4.7's get_by_bk_hash(entity, bk):
// GET /{entity}?erp_key_hash=…, returning nil if the sink has no
// record with that business-key hash.
func (c *Client) GetByBKHash(ctx context.Context, entity, bkHash string) (*model.StoredRecordState, error) {
	path := fmt.Sprintf("/%s?%s", entity, url.Values{"erp_key_hash": {bkHash}}.Encode())
	var resp struct {
		Records []model.StoredRecordState `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Records) == 0 {
		return nil, nil
	}
	return &resp.Records[0], nil
}

// GetBatchByBKHashes fetches the stored identity projection for the
// given business-key hashes via POST /{entity}/batch/query, chunking
// the request per bkBatchChunkSize.
func (c *Client) GetBatchByBKHashes(ctx context.Context, entity string, bkHashes []string) (map[string]model.StoredRecordState, error) {
	out := make(map[string]model.StoredRecordState, len(bkHashes))
	for start := 0; start < len(bkHashes); start += bkBatchChunkSize {
		end := start + bkBatchChunkSize
		if end > len(bkHashes) {
			end = len(bkHashes)
		}
		chunk := bkHashes[start:end]

		var resp struct {
			Records []model.StoredRecordState `json:"records"`
		}
		body := map[string]any{"bk_hashes": chunk}
		path := fmt.Sprintf("/%s/batch/query", entity)
		if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
			return nil, err
		}
		for _, rec := range resp.Records {
			out[rec.KeyHash] = rec
		}
	}
	return out, nil
}

// ParentsExist implements resolver.ExistenceChecker by delegating to
// GetBatchByBKHashes and reducing it to a presence map.
func (c *Client) ParentsExist(ctx context.Context, parentEntity string, bkHashes []string) (map[string]bool, error) {
	stored, err := c.GetBatchByBKHashes(ctx, parentEntity, bkHashes)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(bkHashes))
	for _, bk := range bkHashes {
		_, out[bk] = stored[bk]
	}
	return out, nil
}

// Insert creates a new record at the sink and returns its assigned uid.
func (c *Client) Insert(ctx context.Context, entity string, record model.Record) (string, error) {
	var resp struct {
		UID string `json:"uid"`
	}
	if err := c.do(ctx, http.MethodPost, "/"+entity, record, &resp); err != nil {
		return "", err
	}
	return resp.UID, nil
}

// Update patches an existing sink record by uid.
func (c *Client) Update(ctx context.Context, entity, uid string, record model.Record) error {
	path := fmt.Sprintf("/%s/%s", entity, uid)
	return c.do(ctx, http.MethodPatch, path, record, nil)
}

// Delete removes a sink record by uid.
func (c *Client) Delete(ctx context.Context, entity, uid string) error {
	path := fmt.Sprintf("/%s/%s", entity, uid)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// BatchResult reports the per-record outcome of a batched write, since
// a partial failure within a batch must not fail every sibling record
// (spec.md §4.5's INGEST stage writes per-record failures individually).
type BatchResult struct {
	UID   string
	Error error
}

// batchWriteResponse is spec.md §4.7's documented batch_insert/
// batch_update/batch_delete shape: "{success_count, failure_count,
// failures: [{record|uid, error}]}". Entries absent from Failures are
// assumed successful; failures are matched back to the request by
// uid (update/delete) or by business-key hash (insert, which has no
// uid yet).
type batchWriteResponse struct {
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
	Failures     []batchFailure `json:"failures"`
}

type batchFailure struct {
	UID    string       `json:"uid,omitempty"`
	Record model.Record `json:"record,omitempty"`
	Error  string       `json:"error"`
}

// BatchInsert calls POST /{entity}/batch/insert with the extended
// ingest timeout spec.md §5 requires for batch writes.
func (c *Client) BatchInsert(ctx context.Context, entity string, records []model.Record) []BatchResult {
	ctx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	results := make([]BatchResult, len(records))
	var resp batchWriteResponse
	body := map[string]any{"records": records}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/%s/batch/insert", entity), body, &resp); err != nil {
		for i := range results {
			results[i] = BatchResult{Error: err}
		}
		return results
	}

	failedByBK := make(map[string]string, len(resp.Failures))
	for _, f := range resp.Failures {
		failedByBK[f.Record.BusinessKeyHash()] = f.Error
	}
	for i, r := range records {
		if errMsg, failed := failedByBK[r.BusinessKeyHash()]; failed {
			results[i] = BatchResult{Error: errkind.New(errkind.SyncExecution, errMsg)}
			continue
		}
		results[i] = BatchResult{}
	}
	return results
}

// BatchUpdate calls POST /{entity}/batch/update with the extended
// ingest timeout.
func (c *Client) BatchUpdate(ctx context.Context, entity string, uids []string, records []model.Record) []BatchResult {
	ctx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	results := make([]BatchResult, len(records))
	updates := make([]map[string]any, len(records))
	for i, r := range records {
		updates[i] = map[string]any{"uid": uids[i], "record": r}
	}

	var resp batchWriteResponse
	body := map[string]any{"updates": updates}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/%s/batch/update", entity), body, &resp); err != nil {
		for i, uid := range uids {
			results[i] = BatchResult{UID: uid, Error: err}
		}
		return results
	}

	failedByUID := make(map[string]string, len(resp.Failures))
	for _, f := range resp.Failures {
		failedByUID[f.UID] = f.Error
	}
	for i, uid := range uids {
		if errMsg, failed := failedByUID[uid]; failed {
			results[i] = BatchResult{UID: uid, Error: errkind.New(errkind.SyncExecution, errMsg)}
			continue
		}
		results[i] = BatchResult{UID: uid}
	}
	return results
}

// BatchDelete calls POST /{entity}/batch/delete with the extended
// ingest timeout.
func (c *Client) BatchDelete(ctx context.Context, entity string, uids []string) []BatchResult {
	ctx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	results := make([]BatchResult, len(uids))
	var resp batchWriteResponse
	body := map[string]any{"uids": uids}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/%s/batch/delete", entity), body, &resp); err != nil {
		for i, uid := range uids {
			results[i] = BatchResult{UID: uid, Error: err}
		}
		return results
	}

	failedByUID := make(map[string]string, len(resp.Failures))
	for _, f := range resp.Failures {
		failedByUID[f.UID] = f.Error
	}
	for i, uid := range uids {
		if errMsg, failed := failedByUID[uid]; failed {
			results[i] = BatchResult{UID: uid, Error: errkind.New(errkind.SyncExecution, errMsg)}
			continue
		}
		results[i] = BatchResult{UID: uid}
	}
	return results
}

// --- HTTP helpers: a do/doRequest split so the refresh-and-retry
// wrapper stays separate from the actual request/response plumbing. ---

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do retries once, after a single token refresh, on a 401. A second
// consecutive authentication failure surfaces as a Connection error,
// not Authentication — at that point the caller can no longer tell
// "bad token" from "auth service down" and should back off like any
// other connectivity fault.
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
		case http.StatusConflict:
			return errkind.New(errkind.AlreadyExists, apiErr.Message)
		default:
			return errkind.Newf(errkind.Connection, "sink API HTTP %d: %s", resp.StatusCode, string(respBody))
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return errkind.Newf(errkind.Connection, "unmarshal response: %v", err)
		}
	}
	return nil
}

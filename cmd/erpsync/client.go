package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors for common HTTP error classes, mirroring the shape of
// the daemon's ErrorResponse.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// Client is an HTTP client for the erpsyncd operator API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient creates a client pointed at a running erpsyncd instance.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// SyncBatch mirrors internal/model.SyncBatch's JSON shape for display
// purposes; kept independent to avoid importing the daemon's internal
// packages from a thin operator CLI.
type SyncBatch struct {
	UID          string         `json:"uid"`
	EntityName   string         `json:"entity_name"`
	SyncType     string         `json:"sync_type"`
	SourceSystem string         `json:"source_system"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Status       string         `json:"status"`
	Metrics      map[string]int `json:"metrics"`
	ErrorMessage *string        `json:"error_message,omitempty"`
}

type syncStartRequest struct {
	EntityName string `json:"entity_name"`
	SyncType   string `json:"sync_type"`
}

type syncStartResponse struct {
	BatchUID string `json:"batch_uid"`
}

type pagedResponse[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// StartSync triggers POST /sync/start and returns the pre-assigned batch uid.
func (c *Client) StartSync(entityName, syncType string) (string, error) {
	var resp syncStartResponse
	err := c.do("POST", "/api/v1/sync/start", syncStartRequest{EntityName: entityName, SyncType: syncType}, &resp)
	return resp.BatchUID, err
}

// Status fetches a batch's current state.
func (c *Client) Status(batchUID string) (*SyncBatch, error) {
	var batch SyncBatch
	if err := c.do("GET", "/api/v1/sync/status/"+batchUID, nil, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// Stop requests advisory cancellation of a running batch.
func (c *Client) Stop(batchUID string) error {
	return c.do("POST", "/api/v1/sync/stop/"+batchUID, nil, nil)
}

// History lists past batches, optionally filtered by entity name.
func (c *Client) History(entityName string, page, pageSize int) (pagedResponse[SyncBatch], error) {
	var resp pagedResponse[SyncBatch]
	path := fmt.Sprintf("/api/v1/sync/history?page=%d&page_size=%d", page, pageSize)
	if entityName != "" {
		path += "&entity_name=" + entityName
	}
	err := c.do("GET", path, nil, &resp)
	return resp, err
}

// RetryFailed replays retryable failed records for an entity and
// returns how many of them resolved.
func (c *Client) RetryFailed(entityName string) (int, error) {
	var resp map[string]int
	err := c.do("POST", "/api/v1/sync/retry-failed", map[string]string{"entity_name": entityName}, &resp)
	return resp["resolved"], err
}

// Stats fetches the monitoring aggregate.
func (c *Client) Stats() (map[string]any, error) {
	var resp map[string]any
	err := c.do("GET", "/api/v1/monitoring/stats", nil, &resp)
	return resp, err
}

func (c *Client) do(method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Code != "" {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return fmt.Errorf("%w: %s", ErrUnauthorized, errResp.Error.Message)
			case http.StatusForbidden:
				return fmt.Errorf("%w: %s", ErrForbidden, errResp.Error.Message)
			case http.StatusNotFound:
				return fmt.Errorf("%w: %s", ErrNotFound, errResp.Error.Message)
			default:
				return &errResp.Error
			}
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

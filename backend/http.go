package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient talks to the remote backend's REST API. Every call gets a
// bounded timeout; transport failures and 5xx responses are reported as
// transient RemoteErrors so the caller retries instead of conflicting.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	terminalID string
	client     *http.Client
}

// NewHTTPClient creates a backend client. timeout bounds each call.
func NewHTTPClient(baseURL, apiKey, terminalID string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		terminalID: terminalID,
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "GET", "/health", nil)
	return err
}

func (c *HTTPClient) FetchChangedSince(ctx context.Context, domain, cursor string) ([]ChangedRecord, error) {
	path := "/catalog/" + url.PathEscape(domain) + "/changes"
	if cursor != "" {
		path += "?since=" + url.QueryEscape(cursor)
	}
	body, err := c.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Records []ChangedRecord `json:"records"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode %s changes: %w", domain, err)
	}
	return out.Records, nil
}

func (c *HTTPClient) Insert(ctx context.Context, entityType string, payload []byte) (json.RawMessage, error) {
	return c.do(ctx, "POST", "/entities/"+url.PathEscape(entityType), payload)
}

func (c *HTTPClient) Update(ctx context.Context, entityType, id string, payload []byte) (json.RawMessage, error) {
	return c.do(ctx, "PUT", "/entities/"+url.PathEscape(entityType)+"/"+url.PathEscape(id), payload)
}

func (c *HTTPClient) Fetch(ctx context.Context, entityType, id string) (json.RawMessage, error) {
	return c.do(ctx, "GET", "/entities/"+url.PathEscape(entityType)+"/"+url.PathEscape(id), nil)
}

func (c *HTTPClient) FetchReport(ctx context.Context, reportType, date string) (json.RawMessage, error) {
	return c.do(ctx, "GET", "/reports/"+url.PathEscape(reportType)+"?date="+url.QueryEscape(date), nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload []byte) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &RemoteError{Kind: KindRejected, Message: err.Error()}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("X-Terminal-ID", c.terminalID)

	resp, err := c.client.Do(req)
	if err != nil {
		kind := KindUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, &RemoteError{Kind: kind, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &RemoteError{Kind: KindUnavailable, Message: err.Error()}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return json.RawMessage(data), nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, &RemoteError{Kind: KindUnavailable, Message: fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode)}
	default:
		return nil, decodeAPIError(resp.StatusCode, data)
	}
}

// decodeAPIError turns a 4xx body into a classified RemoteError. The
// backend reports {"error":{"code":..., "message":...}}; a missing or
// malformed body falls back to message-text classification.
func decodeAPIError(status int, data []byte) *RemoteError {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil || (body.Error.Code == "" && body.Error.Message == "") {
		if status == http.StatusNotFound {
			return &RemoteError{Kind: KindDeleted, Message: fmt.Sprintf("status %d", status)}
		}
		return &RemoteError{Kind: KindRejected, Message: fmt.Sprintf("status %d: %s", status, truncate(string(data), 200))}
	}
	return &RemoteError{
		Kind:    Classify(body.Error.Code, body.Error.Message),
		Message: body.Error.Message,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

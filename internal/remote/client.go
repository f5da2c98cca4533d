package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds every remote request.
const DefaultTimeout = 30 * time.Second

// PreferMergeDuplicates asks the backend to treat an insert of an existing
// id as an update.
const PreferMergeDuplicates = "resolution=merge-duplicates"

// Client implements Backend over the JSON/HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a client for the backend at baseURL authenticating with
// the given bearer token. An empty token sends no Authorization header.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Backend = (*Client)(nil)

func collectionPath(collection string) string {
	return "/api/v1/collections/" + url.PathEscape(collection)
}

func recordPath(collection, id string) string {
	return collectionPath(collection) + "/" + url.PathEscape(id)
}

// Upsert posts row with the merge-duplicates preference.
func (c *Client) Upsert(ctx context.Context, collection string, row map[string]any) error {
	headers := http.Header{"Prefer": []string{PreferMergeDuplicates}}
	if err := c.doRequest(ctx, http.MethodPost, collectionPath(collection), headers, row, nil); err != nil {
		return fmt.Errorf("upsert %s: %w", collection, err)
	}
	return nil
}

// UpdateByID patches the given fields of a record.
func (c *Client) UpdateByID(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := c.doRequest(ctx, http.MethodPatch, recordPath(collection, id), nil, fields, nil); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

// DeleteByID removes a record.
func (c *Client) DeleteByID(ctx context.Context, collection, id string) error {
	if err := c.doRequest(ctx, http.MethodDelete, recordPath(collection, id), nil, nil, nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// SelectRange fetches one page of a tenant's rows. Numbers are decoded as
// json.Number.
func (c *Client) SelectRange(ctx context.Context, collection string, q RangeQuery) ([]map[string]any, error) {
	params := url.Values{}
	if q.TenantID != "" {
		params.Set("tenant_id", q.TenantID)
	}
	if q.Order != "" {
		params.Set("order", q.Order)
	}
	params.Set("offset", strconv.Itoa(q.Offset))
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var rows []map[string]any
	path := collectionPath(collection) + "?" + params.Encode()
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("select %s: %w", collection, err)
	}
	return rows, nil
}

// SubmitDailySummary posts the end-of-day report.
func (c *Client) SubmitDailySummary(ctx context.Context, s DailySummary) error {
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/rpc/submit_daily_summary", nil, s, nil); err != nil {
		return fmt.Errorf("submit daily summary: %w", err)
	}
	return nil
}

// Ping checks the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, nil, nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// doRequest performs an HTTP request, encoding body and decoding the
// response into result when both are non-nil.
func (c *Client) doRequest(ctx context.Context, method, path string, headers http.Header, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		remoteErr := &Error{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
		var p problem
		if err := json.Unmarshal(respBody, &p); err == nil {
			if p.Title != "" {
				remoteErr.Title = p.Title
			}
			remoteErr.Detail = p.Detail
		}
		return remoteErr
	}

	if result != nil && len(respBody) > 0 {
		dec := json.NewDecoder(bytes.NewReader(respBody))
		dec.UseNumber()
		if err := dec.Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dojoverse/dojosync/internal/errors"
)

// HTTPConfig holds connection settings for the hosted backend.
type HTTPConfig struct {
	// BaseURL of the REST endpoint, e.g. "https://app.example.com/rest/v1".
	BaseURL string
	// APIKey sent on every request.
	APIKey string
	// DefaultTimeout applies when a Query carries none. Zero means 30s.
	DefaultTimeout time.Duration
}

// HTTPClient talks to a PostgREST-style endpoint: one resource per table,
// filter predicates in the query string, JSON bodies both ways.
type HTTPClient struct {
	config     HTTPConfig
	httpClient *http.Client
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(config HTTPConfig) *HTTPClient {
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Select returns matching rows.
func (c *HTTPClient) Select(ctx context.Context, q Query) ([]Row, error) {
	values := filterValues(q.Filters)
	if q.OrderBy != "" {
		values.Set("order", q.OrderBy+".asc")
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}

	timeout := q.Timeout
	if timeout == 0 {
		timeout = c.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := c.do(ctx, http.MethodGet, q.Table, values, nil, nil)
	if err != nil {
		return nil, err
	}

	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, errors.Wrap(errors.ErrBackend, "failed to decode rows", err)
	}
	return rows, nil
}

// Insert creates a row and returns the created representation.
func (c *HTTPClient) Insert(ctx context.Context, table string, row Row) (Row, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "failed to encode row", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.DefaultTimeout)
	defer cancel()

	body, err := c.do(ctx, http.MethodPost, table, nil, bytes.NewReader(payload),
		map[string]string{"Prefer": "return=representation"})
	if err != nil {
		return nil, err
	}

	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, errors.Wrap(errors.ErrBackend, "failed to decode inserted row", err)
	}
	if len(rows) == 0 {
		return Row{}, nil
	}
	return rows[0], nil
}

// Update patches matching rows and returns the number changed.
func (c *HTTPClient) Update(ctx context.Context, table string, filters []Filter, changes Row) (int, error) {
	payload, err := json.Marshal(changes)
	if err != nil {
		return 0, errors.Wrap(errors.ErrInvalid, "failed to encode changes", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.DefaultTimeout)
	defer cancel()

	body, err := c.do(ctx, http.MethodPatch, table, filterValues(filters),
		bytes.NewReader(payload),
		map[string]string{"Prefer": "return=representation"})
	if err != nil {
		return 0, err
	}

	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, errors.Wrap(errors.ErrBackend, "failed to decode updated rows", err)
	}
	return len(rows), nil
}

// Delete removes matching rows.
func (c *HTTPClient) Delete(ctx context.Context, table string, filters []Filter) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.DefaultTimeout)
	defer cancel()

	_, err := c.do(ctx, http.MethodDelete, table, filterValues(filters), nil, nil)
	return err
}

// do executes one request and maps failure statuses to typed errors.
func (c *HTTPClient) do(ctx context.Context, method, table string, values url.Values, body io.Reader, headers map[string]string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/%s", c.config.BaseURL, url.PathEscape(table))
	if len(values) > 0 {
		endpoint += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "failed to build request", err)
	}

	req.Header.Set("apikey", c.config.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(errors.ErrBackendTimeout, "backend request timed out", err)
		}
		return nil, errors.Wrap(errors.ErrNetwork, "backend request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, "failed to read backend response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, statusError(resp.StatusCode, data)
}

// statusError maps an HTTP failure status to the engine's error taxonomy.
func statusError(status int, body []byte) error {
	msg := fmt.Sprintf("backend returned %d: %s", status, truncate(body, 200))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.New(errors.ErrPermission, msg)
	case status == http.StatusConflict:
		return errors.New(errors.ErrSyncConflict, msg)
	case status == http.StatusNotFound:
		return errors.New(errors.ErrNotFound, msg)
	case status == http.StatusRequestTimeout:
		return errors.New(errors.ErrBackendTimeout, msg)
	case status >= 500:
		return errors.New(errors.ErrBackend, msg)
	default:
		return errors.New(errors.ErrInvalid, msg)
	}
}

func filterValues(filters []Filter) url.Values {
	values := url.Values{}
	for _, f := range filters {
		values.Set(f.Column, fmt.Sprintf("%s.%v", f.Op, f.Value))
	}
	return values
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

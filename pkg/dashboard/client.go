// Package dashboard implements a dashboard session: a typed API client, a
// cached view of each query domain, and a websocket subscription that treats
// push events purely as invalidation signals.
package dashboard

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

	"github.com/nkaplan19/apm-dashboard/internal/domain"
)

// Client provides typed access to the collector API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// NewClient constructs a Client pointing at the provided API base URL.
func NewClient(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:5000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Applications fetches the application catalog.
func (c *Client) Applications(ctx context.Context) ([]domain.Application, error) {
	var apps []domain.Application
	if err := c.do(ctx, http.MethodGet, "/api/applications", nil, &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

// Metrics fetches recent samples, optionally for one application.
func (c *Client) Metrics(ctx context.Context, applicationID string, limit int) ([]domain.Metric, error) {
	query := url.Values{}
	if applicationID != "" {
		query.Set("applicationId", applicationID)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var metrics []domain.Metric
	if err := c.do(ctx, http.MethodGet, withQuery("/api/metrics", query), nil, &metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

// MetricsByTimeRange fetches samples inside the inclusive range.
func (c *Client) MetricsByTimeRange(ctx context.Context, start, end time.Time, applicationID string) ([]domain.Metric, error) {
	query := url.Values{}
	query.Set("start", start.UTC().Format(time.RFC3339))
	query.Set("end", end.UTC().Format(time.RFC3339))
	if applicationID != "" {
		query.Set("applicationId", applicationID)
	}
	var metrics []domain.Metric
	if err := c.do(ctx, http.MethodGet, withQuery("/api/metrics", query), nil, &metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

// Errors fetches recent error records, optionally for one application.
func (c *Client) Errors(ctx context.Context, applicationID string, limit int) ([]domain.ErrorEvent, error) {
	query := url.Values{}
	if applicationID != "" {
		query.Set("applicationId", applicationID)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var events []domain.ErrorEvent
	if err := c.do(ctx, http.MethodGet, withQuery("/api/errors", query), nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Alerts fetches alerts, optionally filtered by application and acknowledged state.
func (c *Client) Alerts(ctx context.Context, applicationID string, acknowledged *bool) ([]domain.Alert, error) {
	query := url.Values{}
	if applicationID != "" {
		query.Set("applicationId", applicationID)
	}
	if acknowledged != nil {
		query.Set("acknowledged", strconv.FormatBool(*acknowledged))
	}
	var alerts []domain.Alert
	if err := c.do(ctx, http.MethodGet, withQuery("/api/alerts", query), nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// Register registers a new application and returns the generated record.
func (c *Client) Register(ctx context.Context, name string) (*domain.Application, error) {
	payload := map[string]string{"name": name}
	var response struct {
		ApplicationID string             `json:"applicationId"`
		Application   domain.Application `json:"application"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/ingest/register", payload, &response); err != nil {
		return nil, err
	}
	return &response.Application, nil
}

// AcknowledgeAlert acknowledges one alert.
func (c *Client) AcknowledgeAlert(ctx context.Context, id string) (*domain.Alert, error) {
	var alert domain.Alert
	path := "/api/alerts/" + url.PathEscape(id) + "/acknowledge"
	if err := c.do(ctx, http.MethodPatch, path, nil, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

func withQuery(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return APIError{Status: resp.StatusCode, Message: payload.Error}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

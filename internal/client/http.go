package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/alsoamit/manager-dash-sub001/internal/access"
	"github.com/alsoamit/manager-dash-sub001/internal/entity"
)

// SnapshotParams scopes a snapshot request. Empty fields are omitted.
type SnapshotParams struct {
	Date string // report date, YYYY-MM-DD
}

func (p SnapshotParams) values() url.Values {
	v := url.Values{}
	if p.Date != "" {
		v.Set("date", p.Date)
	}
	return v
}

// HTTPClient makes REST calls to the dashboard backend.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// LoadSnapshot fetches GET /api/{collection}.
func (c *HTTPClient) LoadSnapshot(ctx context.Context, coll entity.Collection, p SnapshotParams) ([]entity.Record, error) {
	path := "/api/" + url.PathEscape(string(coll))
	if q := p.values().Encode(); q != "" {
		path += "?" + q
	}
	var out []entity.Record
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CurrentSession fetches GET /api/session. No session (401, 404 or 204)
// is reported as nil without an error.
func (c *HTTPClient) CurrentSession(ctx context.Context) (*access.Session, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/session")
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusNotFound, http.StatusNoContent:
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GET /api/session: %d %s", resp.StatusCode, string(body))
	}
	var s access.Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

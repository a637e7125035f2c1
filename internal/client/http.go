package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alfredjeanlab/miyah/internal/model"
	"github.com/alfredjeanlab/miyah/internal/store"
)

// HTTPClient implements ReportsClient using the report store HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Compile-time check that HTTPClient implements ReportsClient.
var _ ReportsClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:3002"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Reports ---

func (c *HTTPClient) CreateReport(ctx context.Context, req *CreateReportRequest) (*CreateReportResponse, error) {
	var resp CreateReportResponse
	status, err := c.do(ctx, http.MethodPost, "/api/reports", req, &resp)
	if err != nil {
		return nil, err
	}
	resp.Created = status == http.StatusCreated
	return &resp, nil
}

func (c *HTTPClient) GetReport(ctx context.Context, id string) (*model.Report, error) {
	var r model.Report
	if err := c.doJSON(ctx, http.MethodGet, "/api/reports/"+url.PathEscape(id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *HTTPClient) ListReports(ctx context.Context) ([]model.Report, error) {
	var reports []model.Report
	if err := c.doJSON(ctx, http.MethodGet, "/api/reports", nil, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

func (c *HTTPClient) DeleteReport(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/reports/"+url.PathEscape(id), nil, nil)
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, store.ErrNotFound) match a 404 response, so callers
// can treat the HTTP client and a local store alike.
func (e *APIError) Is(target error) bool {
	return target == store.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	_, err := c.do(ctx, method, path, body, result)
	return err
}

// do is doJSON that also returns the response status code.
func (c *HTTPClient) do(ctx context.Context, method, path string, body any, result any) (int, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	// 204 No Content: success with no body.
	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil {
			if errResp.Error != "" {
				return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
			}
			if errResp.Message != "" {
				return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: errResp.Message}
			}
		}
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

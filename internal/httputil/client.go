// Package httputil provides the HTTP client used for calls to the host
// ledger's services.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/dapp_registry/pkg/logger"
)

const (
	// ServiceTokenHeader carries the signed service token.
	ServiceTokenHeader = "X-Service-Token"
	// TraceIDHeader propagates the caller's trace id.
	TraceIDHeader = "X-Trace-ID"
)

// ServiceClient is an HTTP client that signs each request with a short-lived
// HS256 service token and retries transient failures.
type ServiceClient struct {
	httpClient *http.Client
	secret     []byte
	serviceID  string
	baseURL    string
	maxRetries int
	backoff    time.Duration
}

// ServiceClientConfig configures the service client.
type ServiceClientConfig struct {
	BaseURL    string
	ServiceID  string
	Secret     []byte
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// NewServiceClient creates a new service client.
func NewServiceClient(cfg ServiceClientConfig) *ServiceClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	backoff := cfg.Backoff
	if backoff == 0 {
		backoff = 200 * time.Millisecond
	}

	return &ServiceClient{
		httpClient: &http.Client{Timeout: timeout},
		secret:     cfg.Secret,
		serviceID:  cfg.ServiceID,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Do executes a request, attaching the service token and trace id.
func (c *ServiceClient) Do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	return c.doWithRetry(ctx, method, path, body, 0)
}

func (c *ServiceClient) doWithRetry(ctx context.Context, method, path string, body interface{}, attempt int) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(c.secret) > 0 {
		token, err := c.serviceToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate service token: %w", err)
		}
		req.Header.Set(ServiceTokenHeader, token)
	}
	if traceID := logger.TraceID(ctx); traceID != "" {
		req.Header.Set(TraceIDHeader, traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if attempt < c.maxRetries && ctx.Err() == nil {
			if waitErr := c.wait(ctx, attempt); waitErr != nil {
				return nil, fmt.Errorf("request failed: %w", err)
			}
			return c.doWithRetry(ctx, method, path, body, attempt+1)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if retryable(resp.StatusCode) && attempt < c.maxRetries {
		resp.Body.Close()
		if err := c.wait(ctx, attempt); err != nil {
			return nil, err
		}
		return c.doWithRetry(ctx, method, path, body, attempt+1)
	}
	return resp, nil
}

func (c *ServiceClient) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.backoff * time.Duration(1<<attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryable(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func (c *ServiceClient) serviceToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.serviceID,
		Subject:   c.serviceID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Post performs a POST request with a JSON body.
func (c *ServiceClient) Post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Get performs a GET request.
func (c *ServiceClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// DecodeResponse decodes a JSON response into target. Error statuses are
// returned as *StatusError.
func DecodeResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, err := ReadAllWithLimit(resp.Body, 64<<10)
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}

	if target == nil {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<20)); err != nil {
			return fmt.Errorf("discard response body: %w", err)
		}
		return nil
	}

	body, err := ReadAllStrict(resp.Body, 8<<20)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// ReadAllWithLimit reads at most limit bytes and reports whether the body was
// longer.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

// ReadAllStrict reads the body and fails when it exceeds limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	body, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return body, nil
}

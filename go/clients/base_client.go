package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// StatusError is a non-2xx response. Message is taken from the server's JSON error body when present.
type StatusError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Message    string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s returned status code: %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s returned status code: %d, response: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

// Unauthorized reports a 401 or 403.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// EnvelopeError is a 2xx response whose envelope says success: false.
type EnvelopeError struct {
	Message string
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("API returned unsuccessful response: %s", e.Message)
}

type BaseClient struct {
	baseURL string
	client  *http.Client

	mu      sync.RWMutex
	headers map[string]string
}

func NewBaseClient(baseURL string) *BaseClient {
	return &BaseClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

func (c *BaseClient) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[key] = value
}

// SetBearerToken authenticates every following request.
func (c *BaseClient) SetBearerToken(token string) {
	c.SetHeader("Authorization", "Bearer "+token)
}

func (c *BaseClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// SetHTTPClient replaces the transport, mostly for tests.
func (c *BaseClient) SetHTTPClient(client *http.Client) {
	c.client = client
}

func (c *BaseClient) MakeRequest(ctx context.Context, method, endpoint string, body io.Reader, extra http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.mu.RLock()
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	c.mu.RUnlock()
	for key, values := range extra {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(responseBody),
			Body:       string(responseBody),
		}
	}

	return responseBody, nil
}

func (c *BaseClient) Get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodGet, endpoint, nil, nil)
}

func (c *BaseClient) Post(ctx context.Context, endpoint string, body io.Reader) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodPost, endpoint, body, nil)
}

// PostJSON marshals payload as the request body.
func (c *BaseClient) PostJSON(ctx context.Context, endpoint string, payload interface{}, extra http.Header) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.MakeRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(data), extra)
}

// envelope is the {success, data, message} wrapper the auction backend puts around responses.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message json.RawMessage `json:"message"`
}

// Unwrap returns the data of a {success, data} response, or body unchanged when it is not wrapped.
func Unwrap(body []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Success == nil {
		return body, nil
	}
	if !*env.Success {
		return nil, &EnvelopeError{Message: flattenMessage(env.Message)}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}
	return env.Data, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if msg := flattenMessage(payload.Message); msg != "" {
		return msg
	}
	return payload.Error
}

// flattenMessage accepts both "message": "x" and validation-style "message": ["x", "y"].
func flattenMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := ""
		for i, m := range list {
			if i > 0 {
				out += "; "
			}
			out += m
		}
		return out
	}
	return string(raw)
}

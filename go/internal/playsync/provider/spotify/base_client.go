package spotify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/mcdev12/playsync/go/internal/playsync/provider"
)

// BaseClient issues authenticated requests against a JSON HTTP API
type BaseClient struct {
	baseURL string
	client  *http.Client

	mu      sync.RWMutex
	headers map[string]string
}

// NewBaseClient wraps httpClient, which carries authentication in its
// transport. A nil httpClient selects a plain client.
func NewBaseClient(baseURL string, httpClient *http.Client) *BaseClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = 30 * time.Second
	}
	return &BaseClient{
		baseURL: baseURL,
		client:  httpClient,
		headers: make(map[string]string),
	}
}

func (c *BaseClient) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[key] = value
}

func (c *BaseClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// MakeRequest performs the call and returns the status code and body. Non-2xx
// responses are mapped onto the provider error taxonomy.
func (c *BaseClient) MakeRequest(ctx context.Context, op, method, endpoint string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.mu.RLock()
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	c.mu.RUnlock()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		kind := provider.ErrNetwork
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			// the token endpoint refused our refresh credentials
			kind = provider.ErrAuthExpired
		}
		return 0, nil, &provider.Error{Op: op, Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &provider.Error{Op: op, Status: resp.StatusCode, Kind: provider.ErrNetwork, Err: err}
	}

	if err := provider.FromStatus(op, resp.StatusCode, string(responseBody)); err != nil {
		return resp.StatusCode, nil, err
	}

	return resp.StatusCode, responseBody, nil
}

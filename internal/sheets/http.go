package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPBridge calls the spreadsheet bridge deployed as a remote function.
type HTTPBridge struct {
	URL    string
	Token  string
	Client *http.Client
}

// NewHTTPBridge returns a bridge with its own client timeout.
func NewHTTPBridge(url, token string, timeout time.Duration) *HTTPBridge {
	return &HTTPBridge{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: timeout},
	}
}

// Call posts the request as JSON and decodes the bridge response.
func (b *HTTPBridge) Call(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bridge request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.Token)
	}

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBridge, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrBridge, err)
	}

	var out Response
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("%w: invalid response: %v", ErrBridge, err)
		}
	}
	if resp.StatusCode >= 300 {
		if out.Error != "" {
			return nil, fmt.Errorf("%w: status %d: %s", ErrBridge, resp.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("%w: status %d", ErrBridge, resp.StatusCode)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrBridge, out.Error)
	}
	return &out, nil
}

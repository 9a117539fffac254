// SPDX-License-Identifier: MIT

// Package webhook posts JSON notifications to user-configured endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client posts JSON payloads with a fixed timeout. Delivery results are
// reported, not returned as errors, so callers can log and move on.
type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// PostJSON delivers payload to url. The detail string carries the response
// body (truncated to 300 bytes) or the failure description.
func (c *Client) PostJSON(ctx context.Context, url string, payload any) (ok bool, detail string) {
	if url == "" {
		return false, "webhook_url_empty"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err.Error()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, string(raw)
	}
	return false, fmt.Sprintf("status=%d body=%s", resp.StatusCode, string(raw))
}

// ABOUTME: HTTP transport for tool calls to configured backends.
// ABOUTME: Implements Caller over POST /tools/{name} and health probes over GET /health.

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPCaller executes tool calls against backends over plain HTTP. Each
// backend is addressed by a base URL fixed at construction; tool calls go to
// POST {base}/tools/{name} and health probes to GET {base}/health.
type HTTPCaller struct {
	client *http.Client
	urls   map[string]string // backend ID -> base URL
}

// NewHTTPCaller creates an HTTPCaller for the given backend base URLs.
func NewHTTPCaller(urls map[string]string) *HTTPCaller {
	cp := make(map[string]string, len(urls))
	for id, u := range urls {
		cp[id] = strings.TrimRight(u, "/")
	}
	return &HTTPCaller{
		// Per-call deadlines come from the router's context; this is a
		// transport-level backstop.
		client: &http.Client{Timeout: 2 * time.Minute},
		urls:   cp,
	}
}

// Call sends the tool input to the backend and returns its JSON output.
func (c *HTTPCaller) Call(ctx context.Context, backendID, toolName string, input json.RawMessage) (json.RawMessage, error) {
	base, ok := c.urls[backendID]
	if !ok {
		return nil, fmt.Errorf("no URL configured for backend %q", backendID)
	}

	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	url := fmt.Sprintf("%s/tools/%s", base, toolName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling backend %q: %w", backendID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading backend response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend %q returned status %d", backendID, resp.StatusCode)
	}
	return body, nil
}

// Probe checks the backend's health endpoint. Matches health.ProbeFunc.
func (c *HTTPCaller) Probe(ctx context.Context, backendID string) (bool, error) {
	base, ok := c.urls[backendID]
	if !ok {
		return false, fmt.Errorf("no URL configured for backend %q", backendID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK, nil
}

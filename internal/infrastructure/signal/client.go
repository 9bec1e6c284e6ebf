package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rangeview/internal/core/domain"
	"rangeview/pkg/auth"
)

// maxResponseBytes caps signaling and geometry response bodies.
const maxResponseBytes = 1 << 20

// Client is the HTTP client for the detector's request/response endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *auth.TokenSource
}

func NewClient(baseURL string, timeout time.Duration, tokens *auth.TokenSource) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokens: tokens,
	}
}

func (c *Client) post(ctx context.Context, cameraID domain.CameraID, path string, body, out interface{}) (int, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, cameraID, out)
}

func (c *Client) get(ctx context.Context, cameraID domain.CameraID, path string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}

	return c.do(req, cameraID, out)
}

func (c *Client) do(req *http.Request, cameraID domain.CameraID, out interface{}) (int, error) {
	req.Header.Set("Accept", "application/json")
	if err := c.tokens.Authorize(req.Header, cameraID.String()); err != nil {
		return 0, fmt.Errorf("authorize: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, err
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, &decodeError{err: err}
	}
	return resp.StatusCode, nil
}

type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return "decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

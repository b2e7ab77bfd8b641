// Package remote mirrors local progress artifacts into a remote content
// repository. All failures are contained here: the ledger and the
// aggregator never see an error from this package.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.github.com"

// Client talks to a GitHub-contents-style REST API.
type Client struct {
	owner   string
	repo    string
	apiBase string
	client  *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIBase overrides the API base URL.
func WithAPIBase(base string) ClientOption {
	return func(c *Client) { c.apiBase = strings.TrimRight(base, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.client.Timeout = d }
}

// NewClient returns a Client for the given repository.
func NewClient(owner, repo string, opts ...ClientOption) *Client {
	c := &Client{
		owner:   owner,
		repo:    repo,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RemoteError is a non-2xx response from the remote repository.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote returned HTTP %d: %s", e.StatusCode, e.Body)
}

func (c *Client) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.apiBase, c.owner, c.repo, path)
}

// ContentSHA looks up the content identifier of path. found is false
// when the path does not exist yet (HTTP 404).
func (c *Client) ContentSHA(ctx context.Context, token, path string) (sha string, found bool, err error) {
	body, status, err := c.do(ctx, http.MethodGet, c.contentsURL(path), token, nil)
	if err != nil {
		return "", false, err
	}
	switch {
	case status == http.StatusNotFound:
		return "", false, nil
	case status != http.StatusOK:
		return "", false, &RemoteError{StatusCode: status, Body: truncate(body)}
	}

	var resp struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return "", false, fmt.Errorf("decode lookup response: %w", err)
	}
	return resp.SHA, true, nil
}

// GetContent fetches the decoded content and sha of path, for
// read-modify-write updates such as the dashboard. found is false on 404.
func (c *Client) GetContent(ctx context.Context, token, path string) (content []byte, sha string, found bool, err error) {
	body, status, err := c.do(ctx, http.MethodGet, c.contentsURL(path), token, nil)
	if err != nil {
		return nil, "", false, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, "", false, nil
	case status != http.StatusOK:
		return nil, "", false, &RemoteError{StatusCode: status, Body: truncate(body)}
	}

	var resp struct {
		SHA     string `json:"sha"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, "", false, fmt.Errorf("decode content response: %w", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
	if err != nil {
		return nil, "", false, fmt.Errorf("decode content base64: %w", err)
	}
	return decoded, resp.SHA, true, nil
}

// PutInput describes one upsert.
type PutInput struct {
	Message string
	Content []byte
	// SHA is the existing content identifier; empty means create.
	SHA    string
	Branch string
}

// PutContent creates or updates path. Content is base64 encoded
// uniformly, binary and text alike. Including the sha of the existing
// content makes the write an update; omitting it a create.
func (c *Client) PutContent(ctx context.Context, token, path string, in PutInput) error {
	payload := map[string]string{
		"message": in.Message,
		"content": base64.StdEncoding.EncodeToString(in.Content),
		"branch":  in.Branch,
	}
	if in.SHA != "" {
		payload["sha"] = in.SHA
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal upsert payload: %w", err)
	}

	respBody, status, err := c.do(ctx, http.MethodPut, c.contentsURL(path), token, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return &RemoteError{StatusCode: status, Body: truncate(respBody)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url, token string, body []byte) (string, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("read response body: %w", err)
	}
	return string(data), resp.StatusCode, nil
}

func truncate(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

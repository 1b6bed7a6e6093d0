package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"clipweave/internal/provider"
)

const (
	defaultHTTPTimeout     = 30 * time.Second
	defaultDownloadTimeout = 5 * time.Minute
	maxErrorBody           = 4 * 1024
)

// Config captures the runtime settings required to talk to the provider.
type Config struct {
	BaseURL                string
	UserAgent              string
	TimeoutSeconds         int
	DownloadTimeoutSeconds int
}

// Client speaks the JSON operations API:
//
//	POST {base}/operations          -> {"operation_id": "..."}
//	GET  {base}/operations/{id}     -> {"status": "running|done|failed", "artifact_url": "...", "error": "..."}
//	GET  {base}/session             -> 2xx when the credential is accepted
type Client struct {
	cfg            Config
	base           *url.URL
	httpClient     *http.Client
	downloadClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the client used for API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithDownloadClient overrides the client used for artifact downloads.
func WithDownloadClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.downloadClient = client
		}
	}
}

// New constructs a provider client.
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("provider base url %q is not absolute", cfg.BaseURL)
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	downloadTimeout := defaultDownloadTimeout
	if cfg.DownloadTimeoutSeconds > 0 {
		downloadTimeout = time.Duration(cfg.DownloadTimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:            cfg,
		base:           base,
		httpClient:     &http.Client{Timeout: timeout},
		downloadClient: &http.Client{Timeout: downloadTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type submitResponse struct {
	OperationID string `json:"operation_id"`
}

// Submit posts the descriptor as the request body and returns the operation id.
func (c *Client) Submit(ctx context.Context, descriptor json.RawMessage, credential string) (string, error) {
	if len(bytes.TrimSpace(descriptor)) == 0 {
		descriptor = json.RawMessage("{}")
	}
	var out submitResponse
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint("operations"), credential, descriptor, &out); err != nil {
		return "", fmt.Errorf("submit operation: %w", err)
	}
	id := strings.TrimSpace(out.OperationID)
	if id == "" {
		return "", fmt.Errorf("submit operation: %w: response missing operation_id", provider.ErrTransient)
	}
	return id, nil
}

// Poll reports the state of an operation. A failed operation whose error text
// describes an expired session is surfaced as provider.ErrAuth.
func (c *Client) Poll(ctx context.Context, operationID, credential string) (provider.Status, error) {
	var status provider.Status
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("operations", operationID), credential, nil, &status); err != nil {
		return provider.Status{}, fmt.Errorf("poll operation %s: %w", operationID, err)
	}
	status.State = provider.OperationState(strings.ToLower(strings.TrimSpace(string(status.State))))
	switch status.State {
	case provider.OperationRunning, provider.OperationDone:
	case provider.OperationFailed:
		if provider.LooksLikeAuth(status.Error) {
			return status, fmt.Errorf("poll operation %s: %w: %s", operationID, provider.ErrAuth, status.Error)
		}
	case "queued", "pending", "processing":
		status.State = provider.OperationRunning
	default:
		return status, fmt.Errorf("poll operation %s: %w: unknown status %q", operationID, provider.ErrTransient, status.State)
	}
	return status, nil
}

// Download streams the artifact at rawURL into dst. Relative URLs resolve against the base URL.
func (c *Client) Download(ctx context.Context, rawURL, credential string, dst io.Writer) (int64, error) {
	target, err := c.resolve(rawURL)
	if err != nil {
		return 0, fmt.Errorf("download artifact: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("download artifact: new request: %w", err)
	}
	c.decorate(req, credential)
	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download artifact: %w", transportError(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return 0, fmt.Errorf("download artifact: %w", statusError(resp))
	}
	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download artifact: %w: %w", provider.ErrTransient, err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return n, fmt.Errorf("download artifact: %w: short body %d of %d bytes", provider.ErrTransient, n, resp.ContentLength)
	}
	return n, nil
}

// Validate asks the provider whether credential is still accepted.
func (c *Client) Validate(ctx context.Context, credential string) error {
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("session"), credential, nil, nil); err != nil {
		return fmt.Errorf("validate session: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint, credential string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	c.decorate(req, credential)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", provider.ErrTransient, err)
	}
	return nil
}

func (c *Client) decorate(req *http.Request, credential string) {
	if credential = strings.TrimSpace(credential); credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.base.JoinPath(escaped...).String()
}

func (c *Client) resolve(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("artifact url is empty")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse artifact url: %w", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	return c.base.ResolveReference(ref).String(), nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
	text := strings.TrimSpace(string(body))
	return &provider.StatusError{
		Kind:       provider.ClassifyStatus(resp.StatusCode, text),
		StatusCode: resp.StatusCode,
		Body:       text,
		RetryAfter: retryAfter,
	}
}

func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", provider.ErrTransient, err)
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

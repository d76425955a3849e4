// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// MaxResponseSize is the maximum allowed body size for non-streaming
// responses. Limits memory use when the service misbehaves.
const MaxResponseSize = 4 * 1024 * 1024 // 4MB

// Config holds configuration options for the backend client.
type Config struct {
	// BaseURL is the chat service base URL.
	BaseURL string

	// Timeout bounds every session CRUD call (default: 10s). The chat
	// stream is exempt; it is bound only to its context.
	Timeout time.Duration

	// RequestsPerSecond throttles outgoing requests (default: 10).
	// Zero or negative disables the throttle.
	RequestsPerSecond float64

	// Burst is the throttle burst size (default: 20).
	Burst int

	// Logger receives diagnostic output. Defaults to a no-op logger.
	Logger *zap.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "http://127.0.0.1:8080",
		Timeout:           10 * time.Second,
		RequestsPerSecond: 10,
		Burst:             20,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the chat service.
//
// Two HTTP clients are kept: one with a bounded timeout for session
// bookkeeping, and one without for the chat stream, whose lifetime is
// controlled by the request context instead.
type Client struct {
	config       *Config
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// NewClient creates a backend client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a backend client with custom configuration.
func NewClientWithConfig(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8080"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Burst == 0 {
		config.Burst = 20
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		// Streaming client has no timeout; the connection stays open for
		// the whole generation and is torn down via context cancellation.
		streamClient: &http.Client{
			Transport: transport,
		},
		limiter: limiter,
		logger:  logger,
	}
}

// throttle waits for rate-limiter clearance, if a limiter is configured.
func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// CreateSession asks the service to create a new session for the user.
// The service assigns the id, placeholder title, and timestamps.
func (c *Client) CreateSession(ctx context.Context, userID string) (*Session, error) {
	var sess Session
	err := c.doJSON(ctx, http.MethodPost, "/sessions", createSessionRequest{UserID: userID}, &sess)
	if err != nil {
		return nil, err
	}
	if sess.ID == "" {
		return nil, &ClientError{Kind: KindInvalidResponse, Message: "create session returned no id"}
	}
	return &sess, nil
}

// GetSession fetches a session together with its transcript. A response
// that decodes but carries no id is treated as not found rather than as a
// malformed-response failure, since the service reports missing sessions
// both ways.
func (c *Client) GetSession(ctx context.Context, id string) (*SessionDetail, error) {
	var detail SessionDetail
	err := c.doJSON(ctx, http.MethodGet, "/sessions/"+id, nil, &detail)
	if err != nil {
		return nil, err
	}
	if detail.ID == "" {
		return nil, ErrSessionNotFound
	}
	return &detail, nil
}

// ListSessions returns the user's sessions, most recent first.
//
// The endpoint has shipped two shapes over time: a bare array and a
// {"sessions": [...]} wrapper. Both are normalized here, and any failure
// degrades to an empty list; listing is bookkeeping and must never block
// the chat flow.
func (c *Client) ListSessions(ctx context.Context, userID string) []Session {
	body, err := c.doRaw(ctx, http.MethodGet, "/sessions/user/"+userID, nil)
	if err != nil {
		c.logger.Warn("list sessions failed", zap.Error(err))
		return []Session{}
	}

	sessions := normalizeSessionList(body)
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastMessageAt.After(sessions[j].LastMessageAt)
	})
	return sessions
}

// normalizeSessionList maps both historical list response shapes into a
// canonical slice. Anything else decodes to empty.
func normalizeSessionList(body []byte) []Session {
	var bare []Session
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare
	}

	var wrapped struct {
		Sessions []Session `json:"sessions"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Sessions != nil {
		return wrapped.Sessions
	}

	return []Session{}
}

// DeleteSession removes a session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	_, err := c.doRaw(ctx, http.MethodDelete, "/sessions/"+id, nil)
	return err
}

// GenerateTitle asks the service to derive a title from the first
// exchange. Title generation is asynchronous on the service side, so an
// empty title with a nil error means "not ready yet".
func (c *Client) GenerateTitle(ctx context.Context, id, userMessage, assistantMessage string) (string, error) {
	var resp generateTitleResponse
	err := c.doJSON(ctx, http.MethodPost, "/sessions/"+id+"/generate-title",
		generateTitleRequest{UserMessage: userMessage, AssistantMessage: assistantMessage}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Title, nil
}

// =============================================================================
// CHAT STREAM
// =============================================================================

// OpenStream posts a message to the chat endpoint and returns the raw
// chunked response body for the stream decoder. The caller owns the body
// and must close it. Non-2xx responses are classified and returned as
// errors; the body is consumed for the error message in that case.
func (c *Client) OpenStream(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, transportError(err)
	}

	req.Stream = true
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &ClientError{Kind: KindInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, &ClientError{Kind: KindConnection, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		resp.Body.Close()
		return nil, statusError(resp.StatusCode, string(bytes.TrimSpace(body)))
	}

	return resp.Body, nil
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// doJSON performs a bounded-timeout request and decodes the JSON response
// into out (when out is non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := c.doRaw(ctx, method, path, in)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ClientError{Kind: KindInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

// doRaw performs a bounded-timeout request and returns the raw body.
func (c *Client) doRaw(ctx context.Context, method, path string, in any) ([]byte, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, transportError(err)
	}

	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, &ClientError{Kind: KindInvalidResponse, Message: "failed to marshal request", Cause: err}
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reqBody)
	if err != nil {
		return nil, &ClientError{Kind: KindConnection, Message: "failed to create request", Cause: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	// SECURITY: Read response with size limit to prevent memory exhaustion
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, string(bytes.TrimSpace(body)))
	}

	return body, nil
}

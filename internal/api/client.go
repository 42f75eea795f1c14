// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize caps response bodies.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrContextNotFound indicates the requested context does not exist.
	ErrContextNotFound = errors.New("context not found")

	// ErrUnauthorized indicates the backend rejected the bearer token.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a backend-reported failure with an HTTP status.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
}

// ContextCreationError indicates the backend refused to create a context
// (success=false in an otherwise healthy response).
type ContextCreationError struct {
	Message string
}

// Error implements the error interface.
func (e *ContextCreationError) Error() string {
	if e.Message == "" {
		return "context creation refused by backend"
	}
	return "context creation refused: " + e.Message
}

// =============================================================================
// CLIENT
// =============================================================================

// TokenSource supplies the bearer token for authenticated calls.
// An empty return degrades the request to unauthenticated.
type TokenSource func() string

// Client talks to the QA backend. All methods are safe for concurrent use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	// streamClient has no timeout; streaming reads are bounded by context.
	streamClient *http.Client
	tokenSource  TokenSource
	log          *zap.Logger
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string, tokenSource TokenSource, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Transport: transport, Timeout: DefaultTimeout},
		streamClient: &http.Client{Transport: transport},
		tokenSource:  tokenSource,
		log:          log,
	}
}

// setHeaders attaches content type and the bearer token when available.
// A missing token is logged, not fatal; the backend decides what an
// unauthenticated caller may do.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.tokenSource != nil {
		if token := c.tokenSource(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
			return
		}
	}
	c.log.Warn("no auth token available, sending unauthenticated request",
		zap.String("url", req.URL.Path))
}

// doJSON performs a request and decodes the JSON response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp.StatusCode, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// errorFromResponse maps an HTTP failure to the error taxonomy.
func (c *Client) errorFromResponse(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w (HTTP %d)", ErrUnauthorized, status)
	case http.StatusNotFound:
		return ErrContextNotFound
	}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error.Message != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		} else if envelope.Message != "" {
			apiErr.Message = envelope.Message
		}
	}
	return apiErr
}

// =============================================================================
// CONTEXT OPERATIONS
// =============================================================================

// CreateContext requests a new conversation context and returns its id.
// A backend success=false becomes a ContextCreationError.
func (c *Client) CreateContext(ctx context.Context) (string, error) {
	var resp createContextResponse
	if err := c.doJSON(ctx, http.MethodPost, "/contexts/new", struct{}{}, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", &ContextCreationError{Message: resp.Message}
	}
	return resp.ContextID, nil
}

// DeleteContext removes a context on the backend.
func (c *Client) DeleteContext(ctx context.Context, contextID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/contexts/"+url.PathEscape(contextID), nil, nil)
}

// ListContexts fetches all contexts. On failure it returns an empty list
// along with the error; the registry decides whether to keep its previous
// snapshot.
func (c *Client) ListContexts(ctx context.Context) ([]Context, error) {
	var resp contextsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/contexts", nil, &resp); err != nil {
		return []Context{}, err
	}
	if resp.Contexts == nil {
		return []Context{}, nil
	}
	return resp.Contexts, nil
}

// SwitchContext notifies the backend of the active context.
func (c *Client) SwitchContext(ctx context.Context, contextID string) error {
	body := switchContextRequest{ContextID: contextID}
	return c.doJSON(ctx, http.MethodPost, "/contexts/"+url.PathEscape(contextID)+"/activate", body, nil)
}

// GetTurns fetches the completed turn history of a context.
func (c *Client) GetTurns(ctx context.Context, contextID string) (*TurnResponse, error) {
	var resp TurnResponse
	if err := c.doJSON(ctx, http.MethodGet, "/contexts/"+url.PathEscape(contextID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// =============================================================================
// QUERY OPERATIONS
// =============================================================================

// Query performs a non-streaming question round-trip.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	var resp QueryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/query", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// =============================================================================
// AUXILIARY OPERATIONS
// =============================================================================

// GetFilterRules fetches the version-to-document-filter mapping.
func (c *Client) GetFilterRules(ctx context.Context) (*FilterRulesResponse, error) {
	var resp FilterRulesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/filter-rules", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetHealth fetches backend readiness.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendFeedback rates a completed turn.
func (c *Client) SendFeedback(ctx context.Context, contextID string, turnIndex int, kind FeedbackType) error {
	body := feedbackRequest{ContextID: contextID, TurnIndex: turnIndex, Type: kind}
	return c.doJSON(ctx, http.MethodPost, "/feedback", body, nil)
}

// OfferSource proposes a document for the knowledge base.
func (c *Client) OfferSource(ctx context.Context, req OfferSourceRequest) (*OfferSourceResponse, error) {
	var resp OfferSourceResponse
	if err := c.doJSON(ctx, http.MethodPost, "/sources/offer", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login exchanges an access code for a bearer token pair.
func (c *Client) Login(ctx context.Context, accessCode string) (*TokenResponse, error) {
	body := struct {
		AccessCode string `json:"access_code"`
	}{AccessCode: accessCode}
	var resp TokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

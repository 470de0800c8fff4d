// Package remote implements the lobby collaborator contracts over the lobby-api
// HTTP and websocket surface.
package remote

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
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultTimeout = 30 * time.Second

	errorCodeHeader   = "X-Lobby-Error"
	maxErrorBodyBytes = 64 << 10
)

var errMissingBaseURL = errors.New("remote: base url required")

// StatusError is a non-2xx response from the API.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client talks to a lobby-api server and implements backend.Auth,
// backend.Store and backend.Feed.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	token string

	listenersMu  sync.Mutex
	listeners    map[int]func(*backend.Identity)
	nextListener int
}

var (
	_ backend.Auth  = (*Client)(nil)
	_ backend.Store = (*Client)(nil)
	_ backend.Feed  = (*Client)(nil)
)

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithAccessToken resumes a previously issued session.
func WithAccessToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if raw == "" {
		return nil, errMissingBaseURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zap.NewNop(),
		listeners:  make(map[int]func(*backend.Identity)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessToken returns the current bearer token, empty when signed out.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// endpoint joins an already escaped path onto the base URL.
func (c *Client) endpoint(escapedPath string, query url.Values) string {
	target := *c.baseURL
	rawPath := strings.TrimRight(c.baseURL.EscapedPath(), "/") + escapedPath
	unescaped, err := url.PathUnescape(rawPath)
	if err != nil {
		unescaped = rawPath
	}
	target.Path = unescaped
	target.RawPath = rawPath
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	return target.String()
}

// do sends a JSON request and decodes a JSON response into out when out is non-nil.
// A 401 on an authenticated request ends the local session.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return backend.NewError(backend.KindGeneric, op, fmt.Errorf("marshal request: %w", err))
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), bodyReader)
	if err != nil {
		return backend.NewError(backend.KindGeneric, op, fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	token := c.AccessToken()
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return backend.NewError(backend.KindGeneric, op, fmt.Errorf("request failed: %w", err))
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		decoded := decodeError(op, response)
		if response.StatusCode == http.StatusUnauthorized && token != "" {
			c.dropSession(token)
		}
		return decoded
	}
	if out == nil || response.StatusCode == http.StatusNoContent || method == http.MethodHead {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return backend.NewError(backend.KindGeneric, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// decodeError turns an error response into a classified backend.Error.
// The body code wins over the header, which covers bodiless HEAD responses.
func decodeError(op string, response *http.Response) error {
	statusErr := &StatusError{StatusCode: response.StatusCode, Code: response.Header.Get(errorCodeHeader)}
	raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	var payload errorPayload
	if len(raw) > 0 && json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		statusErr.Code = payload.Error
		statusErr.Message = payload.Message
	}
	kind := backend.KindFromCode(statusErr.Code)
	if statusErr.Code == "" {
		switch response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = backend.KindUnauthorized
		case http.StatusNotFound:
			kind = backend.KindNotFound
		}
	}
	return backend.NewError(kind, op, statusErr)
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// dropSession forgets token if it is still current and reports the loss.
// Listeners run on their own goroutine so callers inside a listener cannot deadlock.
func (c *Client) dropSession(token string) {
	c.mu.Lock()
	if c.token != token {
		c.mu.Unlock()
		return
	}
	c.token = ""
	c.mu.Unlock()
	c.logger.Warn("session rejected by server, signing out locally")
	go c.notify(nil)
}

func (c *Client) notify(identity *backend.Identity) {
	c.listenersMu.Lock()
	listeners := make([]func(*backend.Identity), 0, len(c.listeners))
	for _, listener := range c.listeners {
		listeners = append(listeners, listener)
	}
	c.listenersMu.Unlock()
	for _, listener := range listeners {
		if identity == nil {
			listener(nil)
			continue
		}
		copied := *identity
		listener(&copied)
	}
}

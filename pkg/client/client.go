// Package client provides a Go client for the txcached HTTP API.
//
// A Client opens sessions; each RemoteSession is one transactional caller on
// the server and supports Begin, Commit, Abort, Get, Set and Delete. Error
// replies are returned as *APIError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Custom Errors ---

// APIError represents an error returned by the API (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
	// Partial is set when a commit was only partly applied.
	Partial *PartialCommit
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// PartialCommit lists the keys of a partly applied commit.
type PartialCommit struct {
	Applied   []string `json:"applied"`
	Failed    string   `json:"failed"`
	Unapplied []string `json:"unapplied"`
}

// --- JSON Response Structs ---

type errorResponse struct {
	Error   string         `json:"error"`
	Partial *PartialCommit `json:"partial,omitempty"`
}

type sessionResponse struct {
	ID      string            `json:"id"`
	Active  bool              `json:"active"`
	Aborted bool              `json:"aborted,omitempty"`
	Writes  map[string]string `json:"writes,omitempty"`
	Deletes []string          `json:"deletes,omitempty"`
}

type kvResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Found bool   `json:"found"`
}

// CacheEntry is one cached key. Present is false for known-absent keys.
type CacheEntry struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Present bool   `json:"present"`
}

// CacheSnapshot is the server's cache content, most recently used first.
type CacheSnapshot struct {
	Enabled bool         `json:"enabled"`
	Entries []CacheEntry `json:"entries"`
}

// Pending describes the uncommitted state of a session.
type Pending struct {
	Active  bool
	Writes  map[string]string
	Deletes []string
}

// --- Client ---

// Client talks to one txcached server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for the server at host:port. token may be empty when
// the server runs without authentication.
func New(host string, port int, token string) *Client {
	return &Client{
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// jsonRequest executes a request and decodes a successful reply into out.
func (c *Client) jsonRequest(ctx context.Context, method, endpoint string, payload, out any) error {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, Partial: errResp.Partial}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Healthz checks that the server is up.
func (c *Client) Healthz(ctx context.Context) error {
	return c.jsonRequest(ctx, http.MethodGet, "/healthz", nil, nil)
}

// CacheSnapshot returns the server's cache content.
func (c *Client) CacheSnapshot(ctx context.Context) (CacheSnapshot, error) {
	var snap CacheSnapshot
	err := c.jsonRequest(ctx, http.MethodGet, "/cache", nil, &snap)
	return snap, err
}

// OpenSession creates a new server-side session.
func (c *Client) OpenSession(ctx context.Context) (*RemoteSession, error) {
	var resp sessionResponse
	if err := c.jsonRequest(ctx, http.MethodPost, "/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return &RemoteSession{client: c, id: resp.ID}, nil
}

// --- Session ---

// RemoteSession is a transactional caller on the server. Like an engine
// session it must not be shared between goroutines that expect independent
// transactions.
type RemoteSession struct {
	client *Client
	id     string
}

// ID returns the server-assigned session ID.
func (s *RemoteSession) ID() string {
	return s.id
}

func (s *RemoteSession) path(suffix string) string {
	return "/sessions/" + url.PathEscape(s.id) + suffix
}

func (s *RemoteSession) keyPath(key string) string {
	return s.path("/kv/" + url.PathEscape(key))
}

func (s *RemoteSession) Begin(ctx context.Context) error {
	return s.client.jsonRequest(ctx, http.MethodPost, s.path("/begin"), nil, nil)
}

// Commit applies the session's staged writes. A failed commit that leaves
// the transaction open can be retried or aborted.
func (s *RemoteSession) Commit(ctx context.Context) error {
	return s.client.jsonRequest(ctx, http.MethodPost, s.path("/commit"), nil, nil)
}

func (s *RemoteSession) Abort(ctx context.Context) error {
	return s.client.jsonRequest(ctx, http.MethodPost, s.path("/abort"), nil, nil)
}

// Get returns the value of key as seen by this session.
func (s *RemoteSession) Get(ctx context.Context, key string) (string, bool, error) {
	var resp kvResponse
	if err := s.client.jsonRequest(ctx, http.MethodGet, s.keyPath(key), nil, &resp); err != nil {
		return "", false, err
	}
	return resp.Value, resp.Found, nil
}

// Set stages key=value and returns the previous value.
func (s *RemoteSession) Set(ctx context.Context, key, value string) (string, bool, error) {
	var resp kvResponse
	payload := map[string]string{"value": value}
	if err := s.client.jsonRequest(ctx, http.MethodPut, s.keyPath(key), payload, &resp); err != nil {
		return "", false, err
	}
	return resp.Value, resp.Found, nil
}

// Delete stages the removal of key and returns the previous value.
func (s *RemoteSession) Delete(ctx context.Context, key string) (string, bool, error) {
	var resp kvResponse
	if err := s.client.jsonRequest(ctx, http.MethodDelete, s.keyPath(key), nil, &resp); err != nil {
		return "", false, err
	}
	return resp.Value, resp.Found, nil
}

// Pending returns the session's uncommitted writes and deletes.
func (s *RemoteSession) Pending(ctx context.Context) (Pending, error) {
	var resp sessionResponse
	if err := s.client.jsonRequest(ctx, http.MethodGet, s.path(""), nil, &resp); err != nil {
		return Pending{}, err
	}
	return Pending{Active: resp.Active, Writes: resp.Writes, Deletes: resp.Deletes}, nil
}

// Close ends the session on the server, aborting any open transaction.
func (s *RemoteSession) Close(ctx context.Context) error {
	return s.client.jsonRequest(ctx, http.MethodDelete, s.path(""), nil, nil)
}

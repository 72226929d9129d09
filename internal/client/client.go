// Package client talks to the tracker API on behalf of the client stores and
// the CLI.
package client

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
)

// Session is the token pair and grant returned by login and refresh.
type Session struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	Workspace    string    `json:"workspace"`
	KeyLabel     string    `json:"keyLabel"`
	Role         string    `json:"role"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// APIError is a non-2xx response carrying the server's {code, error} body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (%d %s): %s", e.Status, e.Code, e.Message)
}

// ErrorCode returns the API error code, such as records.CodeUnknownItem.
func (e *APIError) ErrorCode() string {
	return e.Code
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

var ErrNotLoggedIn = errors.New("not logged in")

// Client is safe for concurrent use. When a request comes back 401 and a
// refresh token is known, the client rotates the pair once and retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// stream has no overall timeout; change feeds stay open.
	stream *http.Client

	mu        sync.RWMutex
	session   Session
	onRefresh func(Session)
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		stream:     &http.Client{},
	}
}

// SetSession installs a previously stored token pair.
func (c *Client) SetSession(sess Session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
}

func (c *Client) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// OnRefresh registers fn to be called with every newly issued session, so
// callers can persist rotated tokens.
func (c *Client) OnRefresh(fn func(Session)) {
	c.mu.Lock()
	c.onRefresh = fn
	c.mu.Unlock()
}

func (c *Client) Login(ctx context.Context, workspace, key string) (Session, error) {
	var sess Session
	body := map[string]string{"workspace": workspace, "key": key}
	if err := c.send(ctx, http.MethodPost, "/api/session/login", body, &sess, false); err != nil {
		return Session{}, err
	}
	c.adopt(sess)
	return sess, nil
}

func (c *Client) Logout(ctx context.Context) error {
	current := c.Session()
	body := map[string]string{"refreshToken": current.RefreshToken}
	err := c.send(ctx, http.MethodPost, "/api/session/logout", body, nil, current.Token != "")
	c.SetSession(Session{})
	return err
}

func (c *Client) refresh(ctx context.Context) error {
	current := c.Session()
	if current.RefreshToken == "" {
		return ErrNotLoggedIn
	}
	var sess Session
	body := map[string]string{"refreshToken": current.RefreshToken}
	if err := c.send(ctx, http.MethodPost, "/api/session/refresh", body, &sess, false); err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	c.adopt(sess)
	return nil
}

func (c *Client) adopt(sess Session) {
	c.mu.Lock()
	c.session = sess
	fn := c.onRefresh
	c.mu.Unlock()
	if fn != nil {
		fn(sess)
	}
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// do sends an authenticated JSON request and decodes the response into
// result when it is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	err := c.send(ctx, method, path, body, result, true)
	if IsStatus(err, http.StatusUnauthorized) && c.Session().RefreshToken != "" {
		if refreshErr := c.refresh(ctx); refreshErr != nil {
			return err
		}
		return c.send(ctx, method, path, body, result, true)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, body, result any, authed bool) error {
	resp, err := c.request(ctx, c.httpClient, method, path, body, authed)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	if result == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, httpClient *http.Client, method, path string, body any, authed bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token := c.Session().Token
		if token == "" {
			return nil, ErrNotLoggedIn
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request %s %s: %w", method, path, err)
	}
	return resp, nil
}

func decodeError(status int, data []byte) error {
	var payload struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	apiErr := &APIError{Status: status}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
	}
	return apiErr
}

func withQuery(path string, values url.Values) string {
	if encoded := values.Encode(); encoded != "" {
		return path + "?" + encoded
	}
	return path
}

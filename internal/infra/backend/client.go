// Package backend is the HTTP client for the hosted backend-as-a-service:
// REST tables, storage buckets and token auth. Every failure is classified
// from the response status code here, at the boundary; nothing above this
// package inspects response text to decide control flow.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/agrovision/cropscan/internal/domain"
)

type Config struct {
	URL     string
	AnonKey string
	Timeout time.Duration

	// TokenSource supplies the current access token for authenticated
	// requests. When it is nil or returns "", the anon key is used.
	TokenSource func() string
}

type Client struct {
	baseURL string
	anonKey string
	token   func() string
	http    *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.URL,
		anonKey: cfg.AnonKey,
		token:   cfg.TokenSource,
		http:    &http.Client{Timeout: timeout},
	}
}

// SetTokenSource wires the session token provider after construction.
// The session itself needs the client for refresh calls, so one of the
// two has to be attached late.
func (c *Client) SetTokenSource(fn func() string) {
	c.token = fn
}

func (c *Client) bearer(authed bool) string {
	if authed && c.token != nil {
		if t := c.token(); t != "" {
			return t
		}
	}
	return c.anonKey
}

type apiError struct {
	Message string `json:"message"`
	Msg     string `json:"msg"`
	Error_  string `json:"error"`
}

func (e apiError) text() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Msg != "":
		return e.Msg
	default:
		return e.Error_
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, authed bool, extra http.Header) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.bearer(authed))
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if err := classify(resp.StatusCode, data); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	return data, nil
}

// classify converts a response status into a typed error. 401 and 403 both
// mean a bad or expired token here; the session wrapper decides whether a
// refresh is worth attempting.
func classify(status int, body []byte) error {
	if status < 400 {
		return nil
	}

	var ae apiError
	_ = json.Unmarshal(body, &ae)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		if msg := ae.text(); msg != "" {
			return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
		}
		return domain.ErrUnauthorized
	default:
		if msg := ae.text(); msg != "" {
			return fmt.Errorf("status %d: %s", status, msg)
		}
		return fmt.Errorf("status %d", status)
	}
}

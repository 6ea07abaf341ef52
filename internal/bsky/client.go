// Package bsky talks XRPC to a Bluesky PDS: app-password sessions and the
// actor preferences that hold muted words.
package bsky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrSessionExpired     = errors.New("session expired")
	ErrInvalidCredentials = errors.New("invalid identifier or password")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// XRPCError is a non-success response that maps to no sentinel.
type XRPCError struct {
	Status  int
	Name    string
	Message string
}

func (e *XRPCError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("xrpc %d %s", e.Status, e.Name)
	}
	return fmt.Sprintf("xrpc %d %s: %s", e.Status, e.Name, e.Message)
}

// Session is an authenticated app-password session.
type Session struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("bsky"),
	}
}

func (c *Client) CreateSession(ctx context.Context, identifier, password string) (Session, error) {
	var session Session
	err := c.call(ctx, http.MethodPost, "com.atproto.server.createSession", "", map[string]string{
		"identifier": identifier,
		"password":   password,
	}, &session)
	if errors.Is(err, ErrSessionExpired) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	return session, nil
}

func (c *Client) RefreshSession(ctx context.Context, refreshJwt string) (Session, error) {
	var session Session
	if err := c.call(ctx, http.MethodPost, "com.atproto.server.refreshSession", refreshJwt, nil, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

func (c *Client) DeleteSession(ctx context.Context, refreshJwt string) error {
	return c.call(ctx, http.MethodPost, "com.atproto.server.deleteSession", refreshJwt, nil, nil)
}

// GetPreferences returns the actor preferences as raw JSON objects so
// entries this service does not understand pass through untouched.
func (c *Client) GetPreferences(ctx context.Context, session Session) ([]json.RawMessage, error) {
	var out struct {
		Preferences []json.RawMessage `json:"preferences"`
	}
	if err := c.call(ctx, http.MethodGet, "app.bsky.actor.getPreferences", session.AccessJwt, nil, &out); err != nil {
		return nil, err
	}
	return out.Preferences, nil
}

func (c *Client) PutPreferences(ctx context.Context, session Session, preferences []json.RawMessage) error {
	if preferences == nil {
		preferences = []json.RawMessage{}
	}
	body := map[string]any{"preferences": preferences}
	return c.call(ctx, http.MethodPost, "app.bsky.actor.putPreferences", session.AccessJwt, body, nil)
}

func (c *Client) call(ctx context.Context, method, nsid, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", nsid, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/xrpc/"+nsid, body)
	if err != nil {
		return fmt.Errorf("build %s: %w", nsid, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrServiceUnavailable, nsid, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", nsid, err)
	}
	c.logger.Debug("xrpc call",
		zap.String("nsid", nsid),
		zap.Int("status", resp.StatusCode),
		zap.Int64("duration_ms", time.Since(started).Milliseconds()),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, payload)
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", nsid, err)
	}
	return nil
}

func statusError(status int, payload []byte) error {
	name := gjson.GetBytes(payload, "error").String()
	message := gjson.GetBytes(payload, "message").String()
	switch {
	case status == http.StatusUnauthorized,
		name == "ExpiredToken", name == "InvalidToken":
		return fmt.Errorf("%w: %s", ErrSessionExpired, message)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, message)
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", ErrServiceUnavailable, message)
	default:
		return &XRPCError{Status: status, Name: name, Message: message}
	}
}

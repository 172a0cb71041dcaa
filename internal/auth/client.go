// Package auth talks to the hosted identity provider's REST API and keeps
// the session credentials it hands out.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/memberdesk/memberdesk/internal/session"
)

// APIError is a non-2xx answer from the identity provider.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth: provider answered %d", e.Status)
	}
	return fmt.Sprintf("auth: provider answered %d: %s", e.Status, e.Message)
}

// Client implements session.Provider against a GoTrue-compatible API.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	store    CredentialStore
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Store      CredentialStore
	Logger     *slog.Logger
	Now        func() time.Time
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		http:     cfg.HTTPClient,
		store:    cfg.Store,
		validate: validator.New(),
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.store == nil {
		c.store = NewMemoryCredentialStore()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

type userPayload struct {
	ID           string         `json:"id" validate:"required"`
	Email        string         `json:"email" validate:"omitempty,email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type tokenPayload struct {
	AccessToken  string      `json:"access_token" validate:"required"`
	RefreshToken string      `json:"refresh_token" validate:"required"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	User         userPayload `json:"user"`
}

type errorPayload struct {
	Message          string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// CurrentSession returns the persisted session, refreshing the access token
// first when it has expired. It returns nil, nil when nobody is signed in.
func (c *Client) CurrentSession(ctx context.Context) (*session.Session, error) {
	creds, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if creds == nil || creds.AccessToken == "" {
		return nil, nil
	}
	sess := toSession(creds)
	if !sess.Expired(c.now()) {
		return sess, nil
	}
	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("%w: access token expired without refresh token", session.ErrRejected)
	}
	c.logger.Debug("refreshing expired access token", slog.String("principal", creds.UserID))
	refreshed, err := c.grant(ctx, "refresh_token", map[string]string{"refresh_token": creds.RefreshToken})
	if err != nil {
		return nil, err
	}
	return toSession(refreshed), nil
}

// CurrentUser asks the provider who owns accessToken.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*session.User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var user userPayload
	if err := c.do(req, &user); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(user); err != nil {
		return nil, fmt.Errorf("auth: invalid user payload: %w", err)
	}
	return &session.User{ID: user.ID, Email: user.Email, Metadata: flattenMetadata(user.UserMetadata)}, nil
}

// SignIn exchanges an email and password for a session and persists it.
func (c *Client) SignIn(ctx context.Context, email, password string) (*session.Session, error) {
	creds, err := c.grant(ctx, "password", map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	return toSession(creds), nil
}

// SignOut revokes the session upstream and always clears the persisted
// credentials, even when the provider cannot be reached.
func (c *Client) SignOut(ctx context.Context) error {
	creds, loadErr := c.store.Load(ctx)
	var remoteErr error
	if loadErr == nil && creds != nil && creds.AccessToken != "" {
		remoteErr = c.logout(ctx, creds.AccessToken)
		if errors.Is(remoteErr, session.ErrRejected) {
			remoteErr = nil
		}
	}
	clearErr := c.store.Clear(ctx)
	return errors.Join(loadErr, remoteErr, clearErr)
}

func (c *Client) logout(ctx context.Context, accessToken string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/v1/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return c.do(req, nil)
}

func (c *Client) grant(ctx context.Context, grantType string, body map[string]string) (*Credentials, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/v1/token?grant_type="+grantType, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var tok tokenPayload
	if err := c.do(req, &tok); err != nil {
		// A refused grant is an explicit rejection of the credentials.
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %w", session.ErrRejected, err)
		}
		return nil, err
	}
	if err := c.validate.Struct(tok); err != nil {
		return nil, fmt.Errorf("auth: invalid token payload: %w", err)
	}

	now := c.now()
	creds := &Credentials{
		UserID:       tok.User.ID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IssuedAt:     now,
		ExpiresAt:    expiry(now, tok),
		Metadata:     flattenMetadata(tok.User.UserMetadata),
	}
	if err := c.store.Save(ctx, creds); err != nil {
		return nil, err
	}
	return creds, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("auth: build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out. 401 and 403 answers
// are explicit rejections; everything else is a transport-level failure.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %w", session.ErrRejected, apiErr)
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("auth: decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var payload errorPayload
	if json.Unmarshal(raw, &payload) == nil {
		for _, msg := range []string{payload.ErrorDescription, payload.Message, payload.Error} {
			if msg != "" {
				return msg
			}
		}
	}
	return strings.TrimSpace(string(raw))
}

func expiry(now time.Time, tok tokenPayload) time.Time {
	if tok.ExpiresAt > 0 {
		return time.Unix(tok.ExpiresAt, 0).UTC()
	}
	if tok.ExpiresIn > 0 {
		return now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return time.Time{}
}

func toSession(creds *Credentials) *session.Session {
	sess := &session.Session{
		PrincipalID:  creds.UserID,
		IssuedAt:     creds.IssuedAt,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ExpiresAt:    creds.ExpiresAt,
		Metadata:     make(map[string]string, len(creds.Metadata)),
	}
	for k, v := range creds.Metadata {
		sess.Metadata[k] = v
	}
	return sess
}

// flattenMetadata keeps scalar metadata values as strings. Member numbers
// arrive as either JSON strings or numbers depending on how they were set.
func flattenMetadata(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out
}

var _ session.Provider = (*Client)(nil)

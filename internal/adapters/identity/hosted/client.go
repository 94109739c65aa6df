// Package hosted talks to the hosted auth/database service over its REST API.
package hosted

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

	"wcsc/internal/adapters/storage/kv"
	"wcsc/internal/application/auth"
	"wcsc/internal/domain/account"
)

// SessionNamespace holds each UI context's tokens in the key-value store.
const SessionNamespace = "wcsc_hosted_session"

// ProfileTable is the table holding profile rows.
const ProfileTable = "users"

// DefaultTimeout bounds every request to the service.
const DefaultTimeout = 10 * time.Second

// refreshMargin is how long before expiry a token is refreshed.
const refreshMargin = time.Minute

// Config holds connection settings for the hosted service.
type Config struct {
	BaseURL string
	AnonKey string
	Timeout time.Duration
}

// Client is shared by every UI context. It is safe for concurrent use.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	store      kv.Store
	now        func() time.Time
}

// NewClient creates a Client. Tokens for each UI context are kept in store.
// PRE: cfg.BaseURL is an absolute URL
// POST: Returns a client; no request is made
func NewClient(cfg Config, store kv.Store) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		anonKey:    cfg.AnonKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		store:      store,
		now:        time.Now,
	}
}

// ForContext returns a Provider bound to one UI context.
func (c *Client) ForContext(contextID string) *Provider {
	return &Provider{
		client:    c,
		contextID: contextID,
		listeners: map[int]auth.SessionChangeFunc{},
	}
}

// Health reports whether the auth service answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/auth/v1/health", "", nil, nil)
}

// apiError is the error body returned by the service. Different endpoints
// fill different fields.
type apiError struct {
	Status      int    `json:"-"`
	Code        string `json:"error_code"`
	Err         string `json:"error"`
	Description string `json:"error_description"`
	Msg         string `json:"msg"`
	Message     string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("hosted service: status %d: %s", e.Status, e.text())
}

func (e *apiError) text() string {
	for _, s := range []string{e.Description, e.Msg, e.Message, e.Err} {
		if s != "" {
			return s
		}
	}
	return http.StatusText(e.Status)
}

// mapError converts service errors into domain errors, keeping the original in the chain.
func mapError(err error) error {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", auth.ErrProviderUnavailable, err)
	}
	text := strings.ToLower(apiErr.text() + " " + apiErr.Code)
	switch {
	case strings.Contains(text, "invalid login credentials") || strings.Contains(text, "invalid_credentials") || strings.Contains(text, "invalid_grant"):
		return fmt.Errorf("%w (%v)", auth.ErrInvalidCredentials, err)
	case strings.Contains(text, "email not confirmed") || strings.Contains(text, "email_not_confirmed"):
		return fmt.Errorf("%w (%v)", auth.ErrEmailNotConfirmed, err)
	case strings.Contains(text, "already registered") || strings.Contains(text, "user_already_exists") || strings.Contains(text, "email_exists"):
		return fmt.Errorf("%w (%v)", account.ErrDuplicateUser, err)
	case strings.Contains(text, "weak_password") || strings.Contains(text, "password should be"):
		return fmt.Errorf("%w (%v)", account.ErrWeakPassword, err)
	case strings.Contains(text, "email_address_invalid") || strings.Contains(text, "validate email") || strings.Contains(text, "invalid format"):
		return fmt.Errorf("%w (%v)", account.ErrInvalidEmail, err)
	case apiErr.Status >= 500:
		return fmt.Errorf("%w (%v)", auth.ErrProviderUnavailable, err)
	}
	return err
}

// do sends a JSON request. bearer defaults to the anon key. out may be nil.
func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// isUnauthorized reports whether err is a rejected token.
func isUnauthorized(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden)
}

// userResponse is the service's user object.
type userResponse struct {
	ID           string           `json:"id"`
	Email        string           `json:"email"`
	UserMetadata account.Metadata `json:"user_metadata"`
}

// tokenResponse is returned by the token and signup endpoints.
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	User         userResponse `json:"user"`
}

// profileRow is one row of the users table.
type profileRow struct {
	ID        string    `json:"id"`
	AuthID    string    `json:"auth_id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Username  string    `json:"username"`
	Phone     string    `json:"phone"`
	Chapter   string    `json:"chapter"`
	Bio       string    `json:"bio"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (r profileRow) profile() account.Profile {
	role, err := account.ParseRole(r.Role)
	if err != nil {
		role = ""
	}
	return account.Profile{
		ID:        r.ID,
		AuthID:    r.AuthID,
		Email:     r.Email,
		FullName:  r.FullName,
		Username:  r.Username,
		Phone:     r.Phone,
		Chapter:   r.Chapter,
		Bio:       r.Bio,
		Role:      role,
		CreatedAt: r.CreatedAt,
	}
}

// selectRows queries table with equality filters using the anon key or bearer.
func (c *Client) selectRows(ctx context.Context, bearer, table, columns string, filters map[string]string, out any) error {
	q := url.Values{}
	q.Set("select", columns)
	for k, v := range filters {
		q.Set(k, "eq."+v)
	}
	q.Set("limit", "1")
	return c.do(ctx, http.MethodGet, "/rest/v1/"+table+"?"+q.Encode(), bearer, nil, out)
}

// Package voltalis implements an authenticated client for the Voltalis cloud API.
//
// All API calls go through Client.SendRequest, which rejects calls without a
// token, drops tokens older than the configured lifetime, attaches the bearer
// token and scopes URLs to the account's default site.
package voltalis

import (
	"context"
	"fmt"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/voltalisd/internal/httpclient"
)

const (
	// DefaultBaseURL is the Voltalis API root.
	DefaultBaseURL = "https://api.myvoltalis.com"

	// LoginRoute is the only route that can be called without a token.
	LoginRoute = "/auth/login"

	meRoute     = "/api/account/me"
	logoutRoute = "/auth/logout"

	// SitePlaceholder is replaced by the account's default site id in request URLs.
	SitePlaceholder = "{site_id}"

	// DefaultTokenLifetimeDays is the token lifetime used until configured otherwise.
	DefaultTokenLifetimeDays = 7
)

// Transport performs one HTTP exchange.
type Transport interface {
	Send(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// SessionInfo is a read-only view of the session state.
type SessionInfo struct {
	Authenticated  bool
	TokenCreatedAt time.Time
	SiteID         string
	TokenLifetime  *int // days, nil = never expires
}

// session is the in-memory authentication state. token and createdAt are
// always set and cleared together.
type session struct {
	token     string
	createdAt time.Time
	siteID    string
}

// Client is an authenticated Voltalis API client.
type Client struct {
	transport Transport
	now       func() time.Time

	mu                sync.Mutex
	session           session
	tokenLifetimeDays *int
}

// Option configures a Client.
type Option func(*Client)

// WithClock overrides the time source used for token age checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithTokenLifetime sets the initial token lifetime in days. nil disables expiry.
func WithTokenLifetime(days *int) Option {
	return func(c *Client) {
		c.tokenLifetimeDays = copyInt(days)
	}
}

// NewClient creates a client with an empty session.
func NewClient(transport Transport, opts ...Option) *Client {
	lifetime := DefaultTokenLifetimeDays
	c := &Client{
		transport:         transport,
		now:               func() time.Time { return time.Now().UTC() },
		tokenLifetimeDays: &lifetime,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login authenticates with the given credentials and resolves the default site.
// A 401 from the login route is reported as *AuthError wrapping ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, username, password string) error {
	log.Info().Msg("Voltalis login in progress")

	token, err := c.accessToken(ctx, username, password)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.session = session{token: token, createdAt: c.now()}
	c.mu.Unlock()

	siteID, err := c.defaultSiteID(ctx)
	if err != nil {
		c.clear(true)
		return fmt.Errorf("failed to resolve default site: %w", err)
	}

	c.mu.Lock()
	c.session.siteID = siteID
	c.mu.Unlock()

	log.Info().Str("site_id", siteID).Msg("Voltalis login successful")
	return nil
}

func (c *Client) accessToken(ctx context.Context, username, password string) (string, error) {
	resp, err := c.SendRequest(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    LoginRoute,
		Body: struct {
			Login    string `json:"login"`
			Password string `json:"password"`
		}{username, password},
		CanRetry: false,
	})
	if err != nil {
		log.Error().Err(err).Msg("Error while getting access token")
		if httpclient.StatusOf(err) == http.StatusUnauthorized {
			return "", &AuthError{Err: ErrInvalidCredentials}
		}
		return "", err
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := resp.Decode(&body); err != nil {
		return "", fmt.Errorf("%w: login: %v", ErrMalformedResponse, err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("%w: login: empty token", ErrMalformedResponse)
	}
	return body.Token, nil
}

// defaultSiteID runs as part of the login transaction: the token was issued a
// moment ago, so the lifetime check is skipped.
func (c *Client) defaultSiteID(ctx context.Context) (string, error) {
	resp, err := c.dispatch(ctx, httpclient.Request{Method: http.MethodGet, URL: meRoute, CanRetry: true})
	if err != nil {
		return "", err
	}

	var me struct {
		DefaultSite *struct {
			ID jsonID `json:"id"`
		} `json:"defaultSite"`
	}
	if err := resp.Decode(&me); err != nil {
		return "", fmt.Errorf("%w: account: %v", ErrMalformedResponse, err)
	}
	if me.DefaultSite == nil || me.DefaultSite.ID == "" {
		return "", fmt.Errorf("%w: account has no default site", ErrMalformedResponse)
	}
	return string(me.DefaultSite.ID), nil
}

// Logout calls the vendor logout route once and clears the session whatever
// the outcome. It is a no-op without a token.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	hasToken := c.session.token != ""
	c.mu.Unlock()
	if !hasToken {
		return nil
	}

	log.Info().Msg("Voltalis logout in progress")
	_, err := c.dispatch(ctx, httpclient.Request{Method: http.MethodDelete, URL: logoutRoute})
	c.clear(true)

	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	log.Info().Msg("Logout successful")
	return nil
}

// Revoke drops the token locally without contacting the API.
func (c *Client) Revoke() {
	c.clear(false)
	log.Info().Msg("Voltalis token revoked")
}

// SetTokenLifetime changes the maximum token age used by the next requests.
// nil disables expiry. A token that is currently valid is not revoked.
func (c *Client) SetTokenLifetime(days *int) error {
	if days != nil && *days < 0 {
		return fmt.Errorf("token lifetime must not be negative, got %d", *days)
	}
	c.mu.Lock()
	c.tokenLifetimeDays = copyInt(days)
	c.mu.Unlock()
	return nil
}

// TokenLifetime returns the lifetime in days, or nil when tokens never expire.
func (c *Client) TokenLifetime() *int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyInt(c.tokenLifetimeDays)
}

// IsExpired reports whether the current token must no longer be used.
func (c *Client) IsExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isExpiredLocked()
}

func (c *Client) isExpiredLocked() bool {
	if c.session.token == "" {
		return false
	}
	if c.session.createdAt.IsZero() {
		return true
	}
	if c.tokenLifetimeDays == nil {
		return false
	}

	age := c.now().Sub(c.session.createdAt)
	maxAge := time.Duration(*c.tokenLifetimeDays) * 24 * time.Hour
	if age > maxAge {
		log.Debug().
			Dur("token_age", age).
			Int("max_age_days", *c.tokenLifetimeDays).
			Msg("Token expired")
		return true
	}
	return false
}

// Session returns a snapshot of the session state.
func (c *Client) Session() SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SessionInfo{
		Authenticated:  c.session.token != "",
		TokenCreatedAt: c.session.createdAt,
		SiteID:         c.session.siteID,
		TokenLifetime:  copyInt(c.tokenLifetimeDays),
	}
}

// SendRequest is the guarded entry point for every API call. Except for the
// login route, it fails with *AuthError when no valid token is held.
func (c *Client) SendRequest(ctx context.Context, req httpclient.Request) (*httpclient.Response, error) {
	if req.URL != LoginRoute {
		c.mu.Lock()
		if c.session.token != "" && c.isExpiredLocked() {
			log.Warn().
				Interface("max_age_days", c.tokenLifetimeDays).
				Msg("Token expired, forcing re-authentication")
			c.session.token = ""
			c.session.createdAt = time.Time{}
		}
		hasToken := c.session.token != ""
		c.mu.Unlock()

		if !hasToken {
			return nil, &AuthError{Err: ErrNoToken}
		}
	}

	return c.dispatch(ctx, req)
}

// dispatch attaches headers and the site id, then hands the request to the transport.
func (c *Client) dispatch(ctx context.Context, req httpclient.Request) (*httpclient.Response, error) {
	c.mu.Lock()
	token := c.session.token
	siteID := c.session.siteID
	c.mu.Unlock()

	// Keys are canonical so a caller header replaces the default of the same name.
	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "*/*",
	}
	for k, v := range req.Headers {
		headers[textproto.CanonicalMIMEHeaderKey(k)] = v
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	req.Headers = headers

	if siteID != "" {
		req.URL = strings.ReplaceAll(req.URL, SitePlaceholder, siteID)
	}

	return c.transport.Send(ctx, req)
}

// clear drops the token; withSite also forgets the resolved site id.
func (c *Client) clear(withSite bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.token = ""
	c.session.createdAt = time.Time{}
	if withSite {
		c.session.siteID = ""
	}
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// RefreshAge is how long a token is reused before a new one is requested.
	RefreshAge = 18 * time.Hour
	// Timeout bounds a single token request.
	Timeout = 5 * time.Second

	grantType = "client_credentials"
)

// Config identifies the token endpoint and the client credentials.
type Config struct {
	URL          string
	ClientID     string
	ClientSecret string
	Audience     string
}

// TokenFetchError is returned when a token could not be obtained.
type TokenFetchError struct {
	StatusCode int
	Err        error
}

func (e *TokenFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token request failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("token request failed: %v", e.Err)
}

func (e *TokenFetchError) Unwrap() error {
	return e.Err
}

// Option configures a Cache.
type Option func(*Cache)

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		c.client = client
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithRefreshAge overrides RefreshAge.
func WithRefreshAge(age time.Duration) Option {
	return func(c *Cache) {
		c.refreshAge = age
	}
}

// Cache holds the current bearer token.
type Cache struct {
	config     Config
	client     *http.Client
	now        func() time.Time
	refreshAge time.Duration

	mu      sync.Mutex
	token   *oauth2.Token
	created time.Time

	group singleflight.Group
}

// NewCache creates an empty cache for the given credentials.
func NewCache(config Config, opts ...Option) *Cache {
	c := &Cache{
		config:     config,
		now:        time.Now,
		refreshAge: RefreshAge,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return c
}

// Config returns the credentials the cache was created with.
func (c *Cache) Config() Config {
	return c.config
}

// Token returns a cached token while it is younger than the refresh age,
// otherwise it requests a new one.
func (c *Cache) Token(ctx context.Context) (*oauth2.Token, error) {
	if tok := c.cached(); tok != nil {
		return tok, nil
	}

	// Refreshes are detached from the caller that starts them.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("token", func() (interface{}, error) {
		// Another caller may have refreshed while we waited for the group
		if tok := c.cached(); tok != nil {
			return tok, nil
		}

		tok, err := c.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.token = tok
		c.created = c.now()
		c.mu.Unlock()
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	case <-ctx.Done():
		return nil, &TokenFetchError{Err: ctx.Err()}
	}
}

func (c *Cache) cached() *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil || c.now().Sub(c.created) >= c.refreshAge {
		return nil
	}
	return c.token
}

// Invalidate drops the cached token.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.created = time.Time{}
	c.mu.Unlock()
}

type tokenRequest struct {
	Audience     string `json:"audience"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Cache) fetch(ctx context.Context) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	body, err := json.Marshal(tokenRequest{
		Audience:     c.config.Audience,
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		GrantType:    grantType,
	})
	if err != nil {
		return nil, &TokenFetchError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &TokenFetchError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TokenFetchError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TokenFetchError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TokenFetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", truncate(data))}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &TokenFetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse token response: %w", err)}
	}
	if parsed.AccessToken == "" {
		return nil, &TokenFetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("response has no access_token")}
	}

	tok := &oauth2.Token{
		AccessToken: parsed.AccessToken,
		TokenType:   parsed.TokenType,
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if parsed.ExpiresIn > 0 {
		tok.Expiry = c.now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	}
	return tok, nil
}

func truncate(data []byte) string {
	const max = 200
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

// TokenSource adapts the cache to oauth2.TokenSource, bound to ctx.
func (c *Cache) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, cache: c}
}

type tokenSource struct {
	ctx   context.Context
	cache *Cache
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	return s.cache.Token(s.ctx)
}

package client

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

const maxBodySize = 4 << 20

// TokenProvider supplies the bearer token for each request.
type TokenProvider interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Option configures a client.
type Option func(*base)

// WithHTTPClient sets the underlying HTTP client. Per-call timeouts are
// applied through the request context, so the client's own Timeout may be
// left unset.
func WithHTTPClient(client *http.Client) Option {
	return func(b *base) {
		b.http = client
	}
}

type base struct {
	http   *http.Client
	tokens TokenProvider
}

func newBase(tokens TokenProvider, opts []Option) base {
	b := base{tokens: tokens}
	for _, opt := range opts {
		opt(&b)
	}
	if b.http == nil {
		b.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return b
}

// do authorizes and sends req, returning the status code and body.
func (b *base) do(req *http.Request) (int, []byte, error) {
	tok, err := b.tokens.Token(req.Context())
	if err != nil {
		return 0, nil, err
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

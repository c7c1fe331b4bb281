package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FetchTimeout bounds a profile lookup.
const FetchTimeout = 5 * time.Second

// FetchError reports a failed profile lookup.
type FetchError struct {
	SubjectID  string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to fetch profile for %s (status %d): %v", e.SubjectID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("failed to fetch profile for %s: %v", e.SubjectID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// PersonClient queries the person API.
type PersonClient struct {
	base
	baseURL string
}

// NewPersonClient creates a client for the person API at baseURL, which
// includes the scheme.
func NewPersonClient(baseURL string, tokens TokenProvider, opts ...Option) *PersonClient {
	return &PersonClient{
		base:    newBase(tokens, opts),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// URL returns the lookup URL for subjectID.
func (c *PersonClient) URL(subjectID string) string {
	return c.baseURL + "/v2/user/user_id/" + url.PathEscape(subjectID) + "?active=any"
}

// Fetch looks up the profile of subjectID. It returns nil when the store
// has no profile for the subject.
func (c *PersonClient) Fetch(ctx context.Context, subjectID string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(subjectID), nil)
	if err != nil {
		return nil, &FetchError{SubjectID: subjectID, Err: err}
	}

	status, body, err := c.do(req)
	if err != nil {
		return nil, &FetchError{SubjectID: subjectID, StatusCode: status, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &FetchError{SubjectID: subjectID, StatusCode: status, Err: fmt.Errorf("unexpected response: %s", snippet(body))}
	}

	var profile map[string]json.RawMessage
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, &FetchError{SubjectID: subjectID, StatusCode: status, Err: fmt.Errorf("response is not a JSON object: %w", err)}
	}
	if len(profile) == 0 {
		return nil, nil
	}
	return json.RawMessage(bytes.TrimSpace(body)), nil
}

// Exists reports whether the store holds a profile for subjectID.
func (c *PersonClient) Exists(ctx context.Context, subjectID string) (bool, error) {
	profile, err := c.Fetch(ctx, subjectID)
	if err != nil {
		return false, err
	}
	return profile != nil, nil
}

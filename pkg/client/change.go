package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// SubmitTimeout bounds a profile submission.
const SubmitTimeout = 14 * time.Second

// SubmissionError reports a rejected or failed profile submission.
type SubmissionError struct {
	SubjectID  string
	StatusCode int
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to submit profile for %s (status %d): %v", e.SubjectID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("failed to submit profile for %s: %v", e.SubjectID, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// SubmissionResult is the change API's answer to an accepted submission.
type SubmissionResult struct {
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// ChangeClient submits profiles to the change API.
type ChangeClient struct {
	base
	host   string
	scheme string
}

// NewChangeClient creates a client for the change API. host is a bare
// host name; requests always go over https.
func NewChangeClient(host string, tokens TokenProvider, opts ...Option) *ChangeClient {
	return &ChangeClient{
		base:   newBase(tokens, opts),
		host:   host,
		scheme: "https",
	}
}

// URL returns the submission URL for subjectID.
func (c *ChangeClient) URL(subjectID string) string {
	u := url.URL{
		Scheme:   c.scheme,
		Host:     c.host,
		Path:     "/v2/user",
		RawQuery: "user_id=" + url.QueryEscape(subjectID),
	}
	return u.String()
}

// Submit posts a signed profile for subjectID. The submission is accepted
// only if the response body carries status_code 200.
func (c *ChangeClient) Submit(ctx context.Context, subjectID string, profile json.Marshaler) (*SubmissionResult, error) {
	payload, err := profile.MarshalJSON()
	if err != nil {
		return nil, &SubmissionError{SubjectID: subjectID, Err: fmt.Errorf("failed to encode profile: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, SubmitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(subjectID), bytes.NewReader(payload))
	if err != nil {
		return nil, &SubmissionError{SubjectID: subjectID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.do(req)
	if err != nil {
		return nil, &SubmissionError{SubjectID: subjectID, StatusCode: status, Err: err}
	}

	var result SubmissionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &SubmissionError{SubjectID: subjectID, StatusCode: status, Err: fmt.Errorf("malformed response: %s", snippet(body))}
	}
	result.Raw = body
	if result.StatusCode != http.StatusOK {
		return &result, &SubmissionError{SubjectID: subjectID, StatusCode: status, Err: fmt.Errorf("change rejected with status_code %d: %s", result.StatusCode, snippet(body))}
	}
	return &result, nil
}

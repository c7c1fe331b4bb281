package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ExistsRemotelyKey is the metadata key recording that the subject's
// profile is known to exist in the remote profile store.
const ExistsRemotelyKey = "existsRemotely"

// StrategyOAuth2 is the strategy (and provider) generic OAuth2 connections
// report. Those connections are identified by their connection name instead.
const StrategyOAuth2 = "oauth2"

// Connections whose logins are provisioned.
const (
	ConnectionEmail           = "email"
	ConnectionGitHub          = "github"
	ConnectionGoogle          = "google-oauth2"
	ConnectionFirefoxAccounts = "firefoxaccounts"
)

// Whitelist is the fixed set of provisioned connections.
var Whitelist = []string{
	ConnectionEmail,
	ConnectionGitHub,
	ConnectionGoogle,
	ConnectionFirefoxAccounts,
}

// Whitelisted reports whether logins through connection are provisioned.
func Whitelisted(connection string) bool {
	for _, c := range Whitelist {
		if c == connection {
			return true
		}
	}
	return false
}

// LinkedIdentity is one federated account attached to a User.
type LinkedIdentity struct {
	Connection string `json:"connection"`
	Provider   string `json:"provider"`
	UserID     string `json:"user_id"`
	IsSocial   bool   `json:"isSocial,omitempty"`

	// ProfileData is the provider's own profile for the account. Absent for
	// the primary identity of a user.
	ProfileData map[string]any `json:"profileData,omitempty"`
}

// UnmarshalJSON accepts numeric provider ids (GitHub sends them as numbers)
// and stores them as strings.
func (l *LinkedIdentity) UnmarshalJSON(data []byte) error {
	type alias LinkedIdentity
	var raw struct {
		alias
		UserID json.RawMessage `json:"user_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = LinkedIdentity(raw.alias)

	id, err := stringID(raw.UserID)
	if err != nil {
		return fmt.Errorf("identity %s: %w", l.Connection, err)
	}
	l.UserID = id
	return nil
}

func stringID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("user_id must be a string or number: %w", err)
	}
	return n.String(), nil
}

// User is the authenticated user record supplied by the host.
type User struct {
	UserID        string           `json:"user_id"`
	Email         string           `json:"email"`
	EmailVerified bool             `json:"email_verified"`
	Name          string           `json:"name"`
	GivenName     string           `json:"given_name"`
	FamilyName    string           `json:"family_name"`
	Nickname      string           `json:"nickname"`
	Identities    []LinkedIdentity `json:"identities"`
	AppMetadata   map[string]any   `json:"app_metadata"`
}

// Context describes the login that produced the event.
type Context struct {
	Connection         string `json:"connection"`
	ConnectionStrategy string `json:"connectionStrategy"`

	// PrimaryUser is set when this login is linked to another account.
	PrimaryUser         string         `json:"primaryUser,omitempty"`
	PrimaryUserMetadata map[string]any `json:"primaryUserMetadata,omitempty"`
}

// LoginEvent is the payload the host posts for every login.
type LoginEvent struct {
	User    User    `json:"user"`
	Context Context `json:"context"`
}

// Strategy returns the strategy used for eligibility decisions. Generic
// OAuth2 connections (Firefox Accounts) are reported by connection name.
func (c Context) Strategy() string {
	if c.ConnectionStrategy == StrategyOAuth2 && c.Connection != "" {
		return c.Connection
	}
	return c.ConnectionStrategy
}

// Linked reports whether the login belongs to a linked primary account.
func (c Context) Linked() bool {
	return c.PrimaryUser != ""
}

// SubjectID returns the id the remote profile is keyed by.
func (c Context) SubjectID(u User) string {
	if c.Linked() {
		return c.PrimaryUser
	}
	return u.UserID
}

// Metadata returns the metadata mapping that carries the provisioning flag
// for this login's subject.
func (c Context) Metadata(u User) map[string]any {
	if c.Linked() {
		return c.PrimaryUserMetadata
	}
	return u.AppMetadata
}

// ExistsRemotely reads the provisioning flag. Only a literal true counts.
func (c Context) ExistsRemotely(u User) bool {
	flag, _ := c.Metadata(u)[ExistsRemotelyKey].(bool)
	return flag
}

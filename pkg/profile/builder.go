package profile

import (
	"time"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/identity"
)

// GitHubUsernameSlot is the usernames entry a GitHub nickname is stored
// under.
const GitHubUsernameSlot = "HACK#GITHUB"

// BuildOptions controls how attributes are stamped.
type BuildOptions struct {
	// Publisher is written into the signature of every attribute Build sets
	Publisher string
	// Now is the modification time recorded on every attribute Build sets
	Now time.Time
}

// Build maps a user onto a copy of template. The template is not modified.
// subjectID is the id the remote profile is keyed by, which differs from
// user.UserID for linked accounts.
func Build(template *Container, user identity.User, subjectID string, opts BuildOptions) (*Container, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	b := &builder{
		profile:   template.Clone(),
		publisher: opts.Publisher,
		now:       opts.Now,
	}

	b.set(true, "active")
	b.set(opts.Now.UTC().Format(TimeFormat), "last_modified")

	b.set(firstName(user), "first_name")
	b.set(orSpace(user.FamilyName), "last_name")

	if email := b.set(user.Email, "primary_email"); email != nil {
		email.Metadata.Verified = user.EmailVerified
	}
	b.set(subjectID, "user_id")

	loginMethodSet := false
	for _, linked := range user.Identities {
		if !identity.Whitelisted(linked.Connection) {
			continue
		}
		// The first provisioned connection wins
		if !loginMethodSet {
			b.set(linked.Connection, "login_method")
			loginMethodSet = true
		}
		b.mapIdentity(user, linked)
	}

	if b.err != nil {
		return nil, b.err
	}
	return b.profile, nil
}

// builder accumulates the first error so mapping code stays linear.
type builder struct {
	profile   *Container
	publisher string
	now       time.Time
	err       error
}

func (b *builder) leaf(path ...string) *Leaf {
	if b.err != nil {
		return nil
	}
	leaf, err := b.profile.Leaf(path...)
	if err != nil {
		b.err = &SkeletonError{Err: err}
		return nil
	}
	return leaf
}

func (b *builder) set(value any, path ...string) *Leaf {
	leaf := b.leaf(path...)
	if leaf != nil {
		leaf.Set(value, b.publisher, b.now)
	}
	return leaf
}

func (b *builder) mapIdentity(user identity.User, linked identity.LinkedIdentity) {
	switch linked.Connection {
	case identity.ConnectionGitHub:
		b.set(linked.UserID, "identities", "github_id_v3")

		// NOTE: node_id and the provider email are only present when the
		// host fetched the full GitHub profile. The mapping of node_id onto
		// github_id_v4 has not been confirmed against the store.
		if linked.ProfileData != nil {
			if nodeID, ok := linked.ProfileData["node_id"]; ok && nodeID != nil {
				b.set(nodeID, "identities", "github_id_v4")
			}
			if email, ok := linked.ProfileData["email"]; ok && email != nil {
				if leaf := b.set(email, "identities", "github_primary_email"); leaf != nil {
					verified, _ := linked.ProfileData["email_verified"].(bool)
					leaf.Metadata.Verified = verified
				}
			}
		}

		if user.Nickname != "" {
			if leaf := b.leaf("usernames"); leaf != nil {
				leaf.SetEntry(GitHubUsernameSlot, user.Nickname, b.publisher, b.now)
			}
		}

	case identity.ConnectionGoogle:
		b.set(linked.UserID, "identities", "google_oauth2_id")
		b.set(user.Email, "identities", "google_primary_email")

	case identity.ConnectionFirefoxAccounts:
		if linked.Provider != identity.StrategyOAuth2 {
			return
		}
		b.set(linked.UserID, "identities", "firefox_accounts_id")
		b.set(user.Email, "identities", "firefox_accounts_primary_email")
	}
}

func firstName(u identity.User) string {
	for _, candidate := range []string{u.GivenName, u.Name, u.FamilyName, u.Nickname} {
		if candidate != "" {
			return candidate
		}
	}
	return " "
}

func orSpace(s string) string {
	if s == "" {
		return " "
	}
	return s
}

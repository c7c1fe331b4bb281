package provisioner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/audit"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/client"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/config"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/identity"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/metadata"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/profile"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/profile/profiletest"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/signing"
)

var (
	keyOnce sync.Once
	testKey *signing.Key
)

func signingKey(t *testing.T) *signing.Key {
	t.Helper()
	keyOnce.Do(func() {
		k, err := signing.GenerateKey()
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

func validConfig(t *testing.T) *config.Config {
	return &config.Config{
		SigningKey:        signingKey(t).Encoded(),
		NullProfile:       profiletest.EncodedSkeleton(),
		ChangeAPIURL:      "change.example.com",
		PersonAPIURL:      "https://person.example.com",
		OAuthURL:          "https://auth.example.com/oauth/token",
		OAuthClientID:     "client",
		OAuthClientSecret: "secret",
		OAuthAudience:     "api.example.com",
		Publisher:         config.DefaultPublisher,
	}
}

type fakeTokens struct {
	calls int
	err   error
}

func (f *fakeTokens) Token(context.Context) (*oauth2.Token, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "abc", TokenType: "Bearer"}, nil
}

type fakePerson struct {
	calls   int
	profile json.RawMessage
	err     error
}

func (f *fakePerson) Fetch(context.Context, string) (json.RawMessage, error) {
	f.calls++
	return f.profile, f.err
}

type fakeChange struct {
	calls     int
	subjectID string
	body      []byte
	err       error
}

func (f *fakeChange) Submit(_ context.Context, subjectID string, p json.Marshaler) (*client.SubmissionResult, error) {
	f.calls++
	f.subjectID = subjectID
	f.body, _ = p.MarshalJSON()
	if f.err != nil {
		return nil, f.err
	}
	return &client.SubmissionResult{StatusCode: 200}, nil
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (map[string]any, error) {
	return nil, errors.New("metadata unavailable")
}

func (failingStore) Update(context.Context, string, map[string]any) error {
	return errors.New("metadata unavailable")
}

type harness struct {
	tokens  *fakeTokens
	person  *fakePerson
	change  *fakeChange
	store   *metadata.MemoryStore
	tracker *metadata.Tracker
	events  []audit.Event
	hook    *logtest.Hook
	metrics *Metrics
	now     time.Time
}

func newHarness() *harness {
	store := metadata.NewMemoryStore()
	return &harness{
		tokens:  &fakeTokens{},
		person:  &fakePerson{profile: nil},
		change:  &fakeChange{},
		store:   store,
		tracker: metadata.NewTracker(store),
		metrics: NewMetrics(prometheus.NewRegistry()),
		now:     time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC),
	}
}

func (h *harness) networkCalls() int {
	return h.tokens.calls + h.person.calls + h.change.calls
}

func (h *harness) provisioner(cfg *config.Config, extra ...Option) *Provisioner {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	h.hook = hook
	opts := []Option{
		WithTokenProvider(h.tokens),
		WithProfileFetcher(h.person),
		WithChangeSubmitter(h.change),
		WithTracker(h.tracker),
		WithLogger(logger),
		WithAuditor(audit.AuditorFunc(func(e audit.Event) { h.events = append(h.events, e) })),
		WithMetrics(h.metrics),
		WithClock(func() time.Time { return h.now }),
	}
	return New(cfg, append(opts, extra...)...)
}

func githubUser() identity.User {
	return identity.User{
		UserID:        "github|1234",
		Email:         "jdoe@example.com",
		EmailVerified: true,
		Name:          "Jane Doe",
		GivenName:     "Jane",
		FamilyName:    "Doe",
		Nickname:      "jdoe",
		Identities: []identity.LinkedIdentity{
			{
				Connection: "github",
				Provider:   "github",
				UserID:     "1234",
				IsSocial:   true,
				ProfileData: map[string]any{
					"node_id":        "MDQ6VXNlcjEyMzQ=",
					"email":          "jdoe@example.com",
					"email_verified": true,
				},
			},
		},
	}
}

func githubLogin() identity.Context {
	return identity.Context{Connection: "github", ConnectionStrategy: "github"}
}

func TestProvision_MissingConfigMakesNoCalls(t *testing.T) {
	for _, name := range config.RequiredAttributes {
		t.Run(name, func(t *testing.T) {
			h := newHarness()
			cfg := validConfig(t)
			raw, _ := json.Marshal(cfg)
			var m map[string]any
			require.NoError(t, json.Unmarshal(raw, &m))
			m[name] = ""
			raw, _ = json.Marshal(m)
			var broken config.Config
			require.NoError(t, json.Unmarshal(raw, &broken))

			p := h.provisioner(&broken)
			outcome, err := p.Provision(context.Background(), githubUser(), githubLogin())

			assert.Equal(t, OutcomeDisabled, outcome)
			assert.Equal(t, StepConfig, FailedStep(err))
			var cfgErr *config.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
			assert.Zero(t, h.networkCalls())

			assert.NotPanics(t, func() { p.Run(context.Background(), githubUser(), githubLogin()) })
			assert.Zero(t, h.networkCalls())
		})
	}
}

func TestProvision_MisconfiguredChangeURL(t *testing.T) {
	for _, url := range []string{"https://change.example.com", "change.example.com/v2"} {
		h := newHarness()
		cfg := validConfig(t)
		cfg.ChangeAPIURL = url

		outcome, err := h.provisioner(cfg).Provision(context.Background(), githubUser(), githubLogin())
		assert.Equal(t, OutcomeDisabled, outcome, url)
		assert.Error(t, err)
		assert.Zero(t, h.networkCalls())
	}
}

func TestProvision_IneligibleMakesNoCalls(t *testing.T) {
	tests := []struct {
		name  string
		user  identity.User
		login identity.Context
	}{
		{
			name:  "ldap",
			user:  identity.User{UserID: "ad|Mozilla-LDAP|jdoe"},
			login: identity.Context{Connection: "Mozilla-LDAP", ConnectionStrategy: "ad"},
		},
		{
			name:  "other oauth2 connection",
			user:  identity.User{UserID: "oauth2|other|1"},
			login: identity.Context{Connection: "other", ConnectionStrategy: "oauth2"},
		},
		{
			name: "already flagged",
			user: identity.User{
				UserID:      "github|1234",
				AppMetadata: map[string]any{identity.ExistsRemotelyKey: true},
			},
			login: githubLogin(),
		},
		{
			name: "linked primary already flagged",
			user: identity.User{UserID: "github|1234"},
			login: identity.Context{
				Connection:          "github",
				ConnectionStrategy:  "github",
				PrimaryUser:         "email|abc",
				PrimaryUserMetadata: map[string]any{identity.ExistsRemotelyKey: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			outcome, err := h.provisioner(validConfig(t)).Provision(context.Background(), tt.user, tt.login)

			require.NoError(t, err)
			assert.Equal(t, OutcomeIneligible, outcome)
			assert.Zero(t, h.networkCalls())
		})
	}
}

func TestEligible(t *testing.T) {
	assert.True(t, Eligible("github", false))
	assert.True(t, Eligible("email", false))
	assert.True(t, Eligible("google-oauth2", false))
	assert.True(t, Eligible("firefoxaccounts", false))
	assert.False(t, Eligible("github", true))
	assert.False(t, Eligible("ad", false))
	assert.False(t, Eligible("", false))
}

func TestProvision_ExistingProfileIsMarkedNotSubmitted(t *testing.T) {
	h := newHarness()
	h.person.profile = json.RawMessage(`{"user_id":{"value":"github|1234"}}`)

	outcome, err := h.provisioner(validConfig(t)).Provision(context.Background(), githubUser(), githubLogin())

	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProvisioned, outcome)
	assert.Zero(t, h.change.calls)

	provisioned, err := h.tracker.Provisioned(context.Background(), "github|1234")
	require.NoError(t, err)
	assert.True(t, provisioned)

	require.NotEmpty(t, h.hook.AllEntries())
	assert.Equal(t, ErrAlreadyProvisioned.Error(), h.hook.AllEntries()[0].Message)
}

func TestProvision_LinkedAccountUsesPrimarySubject(t *testing.T) {
	h := newHarness()
	login := githubLogin()
	login.PrimaryUser = "email|primary"
	login.PrimaryUserMetadata = map[string]any{}

	outcome, err := h.provisioner(validConfig(t)).Provision(context.Background(), githubUser(), login)

	require.NoError(t, err)
	assert.Equal(t, OutcomeProvisioned, outcome)
	assert.Equal(t, "email|primary", h.change.subjectID)

	provisioned, err := h.tracker.Provisioned(context.Background(), "email|primary")
	require.NoError(t, err)
	assert.True(t, provisioned)
}

func TestProvision_SubmitsSignedProfile(t *testing.T) {
	h := newHarness()
	cfg := validConfig(t)

	outcome, err := h.provisioner(cfg).Provision(context.Background(), githubUser(), githubLogin())
	require.NoError(t, err)
	assert.Equal(t, OutcomeProvisioned, outcome)
	assert.Equal(t, 1, h.tokens.calls)
	assert.Equal(t, 1, h.person.calls)
	assert.Equal(t, 1, h.change.calls)

	submitted, err := profile.Parse(h.change.body)
	require.NoError(t, err)

	signer := signing.NewSigner(signingKey(t), config.DefaultPublisher)
	for _, path := range [][]string{
		{"active"},
		{"user_id"},
		{"login_method"},
		{"identities", "github_id_v3"},
		{"identities", "github_id_v4"},
	} {
		leaf, err := submitted.Leaf(path...)
		require.NoError(t, err)
		assert.NoError(t, signer.Verify(leaf), strings.Join(path, "."))
		assert.Equal(t, "2026-04-01T09:30:00.000Z", leaf.Metadata.LastModified)
	}

	userID, err := submitted.Leaf("user_id")
	require.NoError(t, err)
	assert.Equal(t, "github|1234", userID.Value)

	// Attributes owned by other publishers are left unsigned
	staff, err := submitted.Leaf("staff_information", "staff")
	require.NoError(t, err)
	assert.Empty(t, staff.Signature.Publisher.Value)

	provisioned, err := h.tracker.Provisioned(context.Background(), "github|1234")
	require.NoError(t, err)
	assert.True(t, provisioned)
}

func TestProvision_StepFailures(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h *harness, cfg *config.Config)
		wantStep   Step
		wantCalls  [3]int // tokens, person, change
		wantErrAs  any
		wantMarked bool
	}{
		{
			name:      "token",
			setup:     func(h *harness, _ *config.Config) { h.tokens.err = errors.New("denied") },
			wantStep:  StepToken,
			wantCalls: [3]int{1, 0, 0},
		},
		{
			name:      "fetch",
			setup:     func(h *harness, _ *config.Config) { h.person.err = &client.FetchError{SubjectID: "github|1234", Err: errors.New("timeout")} },
			wantStep:  StepFetch,
			wantCalls: [3]int{1, 1, 0},
			wantErrAs: new(*client.FetchError),
		},
		{
			name: "malformed skeleton",
			setup: func(_ *harness, cfg *config.Config) {
				cfg.NullProfile = "bm90IGpzb24="
			},
			wantStep:  StepBuild,
			wantCalls: [3]int{1, 1, 0},
			wantErrAs: new(*profile.SkeletonError),
		},
		{
			name:      "bad signing key",
			setup:     func(_ *harness, cfg *config.Config) { cfg.SigningKey = "bm90IGEga2V5" },
			wantStep:  StepSign,
			wantCalls: [3]int{1, 1, 0},
		},
		{
			name: "submission",
			setup: func(h *harness, _ *config.Config) {
				h.change.err = &client.SubmissionError{SubjectID: "github|1234", Err: errors.New("status_code 400")}
			},
			wantStep:  StepSubmit,
			wantCalls: [3]int{1, 1, 1},
			wantErrAs: new(*client.SubmissionError),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			cfg := validConfig(t)
			tt.setup(h, cfg)

			outcome, err := h.provisioner(cfg).Provision(context.Background(), githubUser(), githubLogin())

			assert.Equal(t, OutcomeFailed, outcome)
			assert.Equal(t, tt.wantStep, FailedStep(err))
			if tt.wantErrAs != nil {
				assert.ErrorAs(t, err, tt.wantErrAs)
			}
			assert.Equal(t, tt.wantCalls, [3]int{h.tokens.calls, h.person.calls, h.change.calls})

			provisioned, err := h.tracker.Provisioned(context.Background(), "github|1234")
			require.NoError(t, err)
			assert.False(t, provisioned)
		})
	}
}

func TestProvision_MarkFailureKeepsOutcome(t *testing.T) {
	h := newHarness()
	p := h.provisioner(validConfig(t), WithTracker(metadata.NewTracker(failingStore{})))

	outcome, err := p.Provision(context.Background(), githubUser(), githubLogin())

	assert.Equal(t, OutcomeProvisioned, outcome)
	assert.Equal(t, StepMark, FailedStep(err))
	assert.Equal(t, 1, h.change.calls)
}

func TestProvision_MarkedSubjectIsSkipped(t *testing.T) {
	h := newHarness()
	p := h.provisioner(validConfig(t))

	outcome, err := p.Provision(context.Background(), githubUser(), githubLogin())
	require.NoError(t, err)
	require.Equal(t, OutcomeProvisioned, outcome)
	calls := h.networkCalls()

	// The host still reports the identity as unflagged
	outcome, err = p.Provision(context.Background(), githubUser(), githubLogin())
	require.NoError(t, err)
	assert.Equal(t, OutcomeIneligible, outcome)
	assert.Equal(t, calls, h.networkCalls())
	assert.Equal(t, 1, h.change.calls)
}

func TestProvision_UnreadableFlagFallsBackToEvent(t *testing.T) {
	tests := []struct {
		name        string
		user        identity.User
		wantOutcome Outcome
		wantCalls   int
	}{
		{name: "unflagged", user: githubUser(), wantOutcome: OutcomeProvisioned, wantCalls: 3},
		{
			name: "flagged",
			user: identity.User{
				UserID:      "github|1234",
				AppMetadata: map[string]any{identity.ExistsRemotelyKey: true},
			},
			wantOutcome: OutcomeIneligible,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			p := h.provisioner(validConfig(t), WithTracker(metadata.NewTracker(failingStore{})))

			outcome, _ := p.Provision(context.Background(), tt.user, githubLogin())

			assert.Equal(t, tt.wantOutcome, outcome)
			assert.Equal(t, tt.wantCalls, h.networkCalls())
		})
	}
}

func TestProvision_LogsUnreadableFlag(t *testing.T) {
	h := newHarness()
	p := h.provisioner(validConfig(t), WithTracker(metadata.NewTracker(failingStore{})))

	_, _ = p.Provision(context.Background(), githubUser(), githubLogin())

	var found bool
	for _, e := range h.hook.AllEntries() {
		if e.Message == "could not read provisioned flag" {
			found = true
			assert.Equal(t, logrus.WarnLevel, e.Level)
		}
	}
	assert.True(t, found)
}

func TestProvision_LogsSignedAttributeCount(t *testing.T) {
	h := newHarness()
	_, err := h.provisioner(validConfig(t)).Provision(context.Background(), githubUser(), githubLogin())
	require.NoError(t, err)

	for _, e := range h.hook.AllEntries() {
		if e.Message == "signed profile" {
			count, ok := e.Data["signed_attributes"].(int)
			require.True(t, ok)
			assert.Positive(t, count)
			return
		}
	}
	t.Fatal("no signed profile entry")
}

func TestRun_ReportsOutcome(t *testing.T) {
	h := newHarness()
	h.change.err = &client.SubmissionError{SubjectID: "github|1234", Err: errors.New("rejected")}
	p := h.provisioner(validConfig(t))

	p.Run(context.Background(), githubUser(), githubLogin())

	require.Len(t, h.events, 1)
	event, ok := h.events[0].(audit.ProvisionEvent)
	require.True(t, ok)
	assert.Equal(t, "github|1234", event.SubjectID)
	assert.Equal(t, "submit", event.Step)
	assert.Equal(t, "failed", event.Outcome)
	assert.False(t, event.Success)

	last := h.hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.ErrorLevel, last.Level)
	assert.Equal(t, "provisioning failed", last.Message)
	assert.Equal(t, StepSubmit, last.Data["step"])

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AttemptsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StepFailuresTotal.WithLabelValues("submit")))
}

func TestRun_IneligibleIsNotAudited(t *testing.T) {
	h := newHarness()
	p := h.provisioner(validConfig(t))

	p.Run(context.Background(), identity.User{UserID: "ad|x"}, identity.Context{ConnectionStrategy: "ad"})

	assert.Empty(t, h.events)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AttemptsTotal.WithLabelValues("ineligible")))
}

type panickingFetcher struct{}

func (panickingFetcher) Fetch(context.Context, string) (json.RawMessage, error) {
	panic("unexpected")
}

func TestRun_RecoversPanics(t *testing.T) {
	h := newHarness()
	p := h.provisioner(validConfig(t), WithProfileFetcher(panickingFetcher{}))

	assert.NotPanics(t, func() { p.Run(context.Background(), githubUser(), githubLogin()) })
	require.Len(t, h.events, 1)
	assert.False(t, h.events[0].(audit.ProvisionEvent).Success)
}

// End to end over HTTP: a rejected submission is logged and not marked.
func TestProvision_HTTPRejectedSubmission(t *testing.T) {
	var tokenRequests, submissions int
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests++
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"Bearer","expires_in":86400}`))
	}))
	defer tokenSrv.Close()

	personSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer personSrv.Close()

	changeSrv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		submissions++
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{"status_code":400,"message":"invalid profile"}`))
	}))
	defer changeSrv.Close()

	cfg := validConfig(t)
	cfg.OAuthURL = tokenSrv.URL
	cfg.PersonAPIURL = personSrv.URL
	cfg.ChangeAPIURL = strings.TrimPrefix(changeSrv.URL, "https://")

	store := metadata.NewMemoryStore()
	logger, hook := logtest.NewNullLogger()
	p := New(cfg,
		WithHTTPClient(changeSrv.Client()),
		WithTracker(metadata.NewTracker(store)),
		WithLogger(logger),
		WithAuditor(audit.AuditorFunc(func(audit.Event) {})),
	)

	outcome, err := p.Provision(context.Background(), githubUser(), githubLogin())
	assert.Equal(t, OutcomeFailed, outcome)
	var subErr *client.SubmissionError
	assert.ErrorAs(t, err, &subErr)
	assert.Equal(t, 1, tokenRequests)
	assert.Equal(t, 1, submissions)

	md, err := store.Get(context.Background(), "github|1234")
	require.NoError(t, err)
	assert.NotContains(t, md, identity.ExistsRemotelyKey)

	p.Run(context.Background(), githubUser(), githubLogin())
	assert.Equal(t, "provisioning failed", hook.LastEntry().Message)
	// The cached token is reused
	assert.Equal(t, 1, tokenRequests)
}

package endpoints

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/audit"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/client"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/config"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/metadata"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/profile/profiletest"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/provisioner"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/server"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/signing"
)

var (
	keyOnce sync.Once
	testKey *signing.Key
)

func signingKey() *signing.Key {
	keyOnce.Do(func() {
		k, err := signing.GenerateKey()
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

func validConfig() *config.Config {
	return &config.Config{
		SigningKey:        signingKey().Encoded(),
		NullProfile:       profiletest.EncodedSkeleton(),
		ChangeAPIURL:      "change.example.com",
		PersonAPIURL:      "https://person.example.com",
		OAuthURL:          "https://auth.example.com/oauth/token",
		OAuthClientID:     "client",
		OAuthClientSecret: "secret",
		OAuthAudience:     "api.example.com",
	}
}

type fakeTokens struct{}

func (fakeTokens) Token(context.Context) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "abc", TokenType: "Bearer"}, nil
}

type fakePerson struct{ calls int }

func (f *fakePerson) Fetch(context.Context, string) (json.RawMessage, error) {
	f.calls++
	return nil, nil
}

type fakeChange struct {
	mu        sync.Mutex
	calls     int
	subjectID string
}

func (f *fakeChange) Submit(_ context.Context, subjectID string, _ json.Marshaler) (*client.SubmissionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.subjectID = subjectID
	return &client.SubmissionResult{StatusCode: 200}, nil
}

type fixture struct {
	server  *server.Server
	person  *fakePerson
	change  *fakeChange
	tracker *metadata.Tracker
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	registry := prometheus.NewRegistry()

	f := &fixture{
		person:  &fakePerson{},
		change:  &fakeChange{},
		tracker: metadata.NewTracker(metadata.NewMemoryStore()),
	}
	p := provisioner.New(cfg,
		provisioner.WithTokenProvider(fakeTokens{}),
		provisioner.WithProfileFetcher(f.person),
		provisioner.WithChangeSubmitter(f.change),
		provisioner.WithTracker(f.tracker),
		provisioner.WithLogger(log),
		provisioner.WithAuditor(audit.AuditorFunc(func(audit.Event) {})),
		provisioner.WithMetrics(provisioner.NewMetrics(registry)),
	)
	f.server = server.NewServer(p, registry, log, "127.0.0.1", "0")
	RegisterAll(f.server)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.server.Router.ServeHTTP(w, req)
	return w
}

const eligibleEvent = `{
	"user": {"user_id": "github|123", "email": "jdoe@example.com", "app_metadata": {}},
	"context": {"connection": "github", "connectionStrategy": "github"}
}`

func TestLoginHook(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantCode    int
		wantSubmits int
	}{
		{name: "eligible login", body: eligibleEvent, wantCode: http.StatusOK, wantSubmits: 1},
		{
			name:     "ineligible strategy",
			body:     `{"user": {"user_id": "ad|Mozilla-LDAP|jdoe"}, "context": {"connection": "Mozilla-LDAP", "connectionStrategy": "ad"}}`,
			wantCode: http.StatusOK,
		},
		{
			name:     "already provisioned",
			body:     `{"user": {"user_id": "github|123", "app_metadata": {"existsRemotely": true}}, "context": {"connectionStrategy": "github"}}`,
			wantCode: http.StatusOK,
		},
		{name: "malformed body", body: `{"user":`, wantCode: http.StatusBadRequest},
		{name: "missing user id", body: `{"user": {}, "context": {"connectionStrategy": "github"}}`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, validConfig())
			req := httptest.NewRequest(http.MethodPost, "/hooks/login", strings.NewReader(tt.body))
			w := f.do(req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantSubmits, f.change.calls)
			if tt.wantCode == http.StatusOK {
				assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
			}
		})
	}
}

func TestLoginHook_MarksSubject(t *testing.T) {
	f := newFixture(t, validConfig())
	w := f.do(httptest.NewRequest(http.MethodPost, "/hooks/login", strings.NewReader(eligibleEvent)))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "github|123", f.change.subjectID)
	provisioned, err := f.tracker.Provisioned(context.Background(), "github|123")
	require.NoError(t, err)
	assert.True(t, provisioned)
}

func TestLoginHook_DisabledStillAcknowledges(t *testing.T) {
	f := newFixture(t, &config.Config{})
	w := f.do(httptest.NewRequest(http.MethodPost, "/hooks/login", strings.NewReader(eligibleEvent)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, f.person.calls)
	assert.Equal(t, 0, f.change.calls)
}

func TestLoginHook_RequiresSignatureWhenSecretSet(t *testing.T) {
	cfg := validConfig()
	cfg.HookSecret = "hook-secret"
	f := newFixture(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/hooks/login", strings.NewReader(eligibleEvent))
	w := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, f.change.calls)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": "idp"}).SignedString([]byte("hook-secret"))
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/hooks/login", strings.NewReader(eligibleEvent))
	req.Header.Set("Authorization", "Bearer "+token)
	w = f.do(req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.change.calls)
}

func TestLoginHook_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, validConfig())
	w := f.do(httptest.NewRequest(http.MethodGet, "/hooks/login", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStatus(t *testing.T) {
	t.Run("valid configuration", func(t *testing.T) {
		f := newFixture(t, validConfig())
		w := f.do(httptest.NewRequest(http.MethodGet, "/status", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp StatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.ConfigValid)
		assert.Equal(t, server.Version, resp.Version)
		assert.Equal(t, config.DefaultPublisher, resp.Publisher)
		assert.Equal(t, signingKey().Fingerprint(), resp.KeyFingerprint)
		assert.Empty(t, resp.ConfigError)
	})

	t.Run("missing configuration", func(t *testing.T) {
		f := newFixture(t, &config.Config{Publisher: "custom"})
		w := f.do(httptest.NewRequest(http.MethodGet, "/status", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp StatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.ConfigValid)
		assert.Equal(t, "custom", resp.Publisher)
		assert.Contains(t, resp.ConfigError, "signing_key")
		assert.Empty(t, resp.KeyFingerprint)
	})

	t.Run("undecodable key", func(t *testing.T) {
		cfg := validConfig()
		cfg.SigningKey = "bm90IGEga2V5"
		f := newFixture(t, cfg)
		w := f.do(httptest.NewRequest(http.MethodGet, "/status", nil))

		var resp StatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.ConfigValid)
		assert.Contains(t, resp.ConfigError, "invalid signing_key")
	})
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, validConfig())
	f.do(httptest.NewRequest(http.MethodPost, "/hooks/login", strings.NewReader(eligibleEvent)))

	w := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "provisioner_attempts_total")
}

func TestSetProvisionerSwapsConfig(t *testing.T) {
	f := newFixture(t, &config.Config{})
	w := f.do(httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Contains(t, w.Body.String(), `"config_valid":false`)

	log, _ := logtest.NewNullLogger()
	log.SetLevel(logrus.PanicLevel)
	f.server.SetProvisioner(provisioner.New(validConfig(), provisioner.WithLogger(log)))
	w = f.do(httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Contains(t, w.Body.String(), `"config_valid":true`)
}

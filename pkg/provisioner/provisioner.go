package provisioner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/audit"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/client"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/config"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/identity"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/metadata"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/profile"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/signing"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/token"
)

// ProfileFetcher looks up existing profiles.
type ProfileFetcher interface {
	Fetch(ctx context.Context, subjectID string) (json.RawMessage, error)
}

// ChangeSubmitter submits new profiles.
type ChangeSubmitter interface {
	Submit(ctx context.Context, subjectID string, profile json.Marshaler) (*client.SubmissionResult, error)
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithTokenProvider replaces the bearer token cache.
func WithTokenProvider(tokens client.TokenProvider) Option {
	return func(p *Provisioner) { p.tokens = tokens }
}

// WithProfileFetcher replaces the person API client.
func WithProfileFetcher(f ProfileFetcher) Option {
	return func(p *Provisioner) { p.person = f }
}

// WithChangeSubmitter replaces the change API client.
func WithChangeSubmitter(s ChangeSubmitter) Option {
	return func(p *Provisioner) { p.change = s }
}

// WithHTTPClient sets the HTTP client of the default token cache and API
// clients.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provisioner) { p.httpClient = c }
}

// WithTracker sets where the provisioned flag is recorded.
func WithTracker(t *metadata.Tracker) Option {
	return func(p *Provisioner) { p.tracker = t }
}

// WithSkeletonCache shares a parsed skeleton cache between provisioners.
func WithSkeletonCache(c *profile.SkeletonCache) Option {
	return func(p *Provisioner) { p.skeletons = c }
}

// WithLogger sets the operational logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Provisioner) { p.log = log }
}

// WithAuditor sets where audit events go.
func WithAuditor(a audit.Auditor) Option {
	return func(p *Provisioner) { p.auditor = a }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Provisioner) { p.metrics = m }
}

// WithClock replaces time.Now for attribute timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Provisioner) { p.now = now }
}

// Provisioner runs the provisioning pipeline for one configuration.
type Provisioner struct {
	cfg *config.Config

	httpClient *http.Client
	tokens     client.TokenProvider
	person     ProfileFetcher
	change     ChangeSubmitter
	tracker    *metadata.Tracker
	skeletons  *profile.SkeletonCache

	log     logrus.FieldLogger
	auditor audit.Auditor
	metrics *Metrics
	now     func() time.Time

	signerOnce sync.Once
	signer     *signing.Signer
	signerErr  error
}

// New creates a Provisioner for cfg. No I/O happens and cfg is not
// validated until Provision runs.
func New(cfg *config.Config, opts ...Option) *Provisioner {
	p := &Provisioner{
		cfg:     cfg,
		log:     logrus.StandardLogger(),
		auditor: audit.Default,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.tokens == nil {
		var tokenOpts []token.Option
		if p.httpClient != nil {
			tokenOpts = append(tokenOpts, token.WithHTTPClient(p.httpClient))
		}
		p.tokens = token.NewCache(token.Config{
			URL:          cfg.OAuthURL,
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			Audience:     cfg.OAuthAudience,
		}, tokenOpts...)
	}
	var clientOpts []client.Option
	if p.httpClient != nil {
		clientOpts = append(clientOpts, client.WithHTTPClient(p.httpClient))
	}
	if p.person == nil {
		p.person = client.NewPersonClient(cfg.PersonAPIURL, p.tokens, clientOpts...)
	}
	if p.change == nil {
		p.change = client.NewChangeClient(cfg.ChangeAPIURL, p.tokens, clientOpts...)
	}
	if p.tracker == nil {
		p.tracker = metadata.NewTracker(metadata.NewMemoryStore())
	}
	if p.skeletons == nil {
		// DefaultCacheSize is positive, so this cannot fail
		p.skeletons, _ = profile.NewSkeletonCache(profile.DefaultCacheSize)
	}
	return p
}

// Config returns the configuration the provisioner was built with.
func (p *Provisioner) Config() *config.Config {
	return p.cfg
}

// Publisher returns the name attributes are signed as.
func (p *Provisioner) Publisher() string {
	if p.cfg.Publisher == "" {
		return config.DefaultPublisher
	}
	return p.cfg.Publisher
}

// Signer decodes the configured signing key on first use.
func (p *Provisioner) Signer() (*signing.Signer, error) {
	p.signerOnce.Do(func() {
		key, err := signing.DecodeKey(p.cfg.SigningKey)
		if err != nil {
			p.signerErr = fmt.Errorf("invalid signing_key: %w", err)
			return
		}
		p.signer = signing.NewSigner(key, p.Publisher())
	})
	return p.signer, p.signerErr
}

// Provision runs the pipeline for one login and reports how it ended.
// Steps run in order and the first failure stops the attempt. A non-nil
// error with OutcomeAlreadyProvisioned or OutcomeProvisioned means only the
// final flag update failed.
func (p *Provisioner) Provision(ctx context.Context, user identity.User, login identity.Context) (Outcome, error) {
	subjectID := login.SubjectID(user)
	fail := func(step Step, err error) (Outcome, error) {
		return OutcomeFailed, &StepError{Step: step, SubjectID: subjectID, Err: err}
	}

	if err := p.cfg.Validate(); err != nil {
		return OutcomeDisabled, &StepError{Step: StepConfig, SubjectID: subjectID, Err: err}
	}

	strategy := login.Strategy()
	if !Eligible(strategy, login.ExistsRemotely(user)) {
		return OutcomeIneligible, nil
	}
	// The event may predate the flag we recorded on an earlier login.
	marked, err := p.tracker.Provisioned(ctx, subjectID)
	if err != nil {
		p.log.WithFields(logrus.Fields{"user_id": subjectID, "step": StepMark}).WithError(err).Warn("could not read provisioned flag")
	}
	if !Eligible(strategy, marked) {
		return OutcomeIneligible, nil
	}

	start := time.Now()
	_, err = p.tokens.Token(ctx)
	p.metrics.ObserveStep(StepToken, start)
	if err != nil {
		return fail(StepToken, err)
	}

	start = time.Now()
	existing, err := p.person.Fetch(ctx, subjectID)
	p.metrics.ObserveStep(StepFetch, start)
	if err != nil {
		return fail(StepFetch, err)
	}
	if existing != nil {
		p.log.WithFields(logrus.Fields{"user_id": subjectID, "step": StepFetch}).Info(ErrAlreadyProvisioned)
		if err := p.mark(ctx, subjectID); err != nil {
			return OutcomeAlreadyProvisioned, err
		}
		return OutcomeAlreadyProvisioned, nil
	}

	template, err := p.skeletons.Get(p.cfg.NullProfile)
	if err != nil {
		return fail(StepBuild, err)
	}
	built, err := profile.Build(template, user, subjectID, profile.BuildOptions{
		Publisher: p.Publisher(),
		Now:       p.now(),
	})
	if err != nil {
		return fail(StepBuild, err)
	}

	signer, err := p.Signer()
	if err != nil {
		return fail(StepSign, err)
	}
	count, err := signer.SignAll(built)
	if err != nil {
		return fail(StepSign, err)
	}
	p.log.WithFields(logrus.Fields{"user_id": subjectID, "signed_attributes": count}).Debug("signed profile")

	start = time.Now()
	_, err = p.change.Submit(ctx, subjectID, built)
	p.metrics.ObserveStep(StepSubmit, start)
	if err != nil {
		return fail(StepSubmit, err)
	}

	if err := p.mark(ctx, subjectID); err != nil {
		return OutcomeProvisioned, err
	}
	return OutcomeProvisioned, nil
}

func (p *Provisioner) mark(ctx context.Context, subjectID string) error {
	start := time.Now()
	err := p.tracker.MarkProvisioned(ctx, subjectID)
	p.metrics.ObserveStep(StepMark, start)
	if err != nil {
		return &StepError{Step: StepMark, SubjectID: subjectID, Err: err}
	}
	return nil
}

// Run provisions and discards the result. This is the only place pipeline
// errors stop: they are logged, audited and counted, never returned, so a
// login is never failed by provisioning.
func (p *Provisioner) Run(ctx context.Context, user identity.User, login identity.Context) {
	subjectID := login.SubjectID(user)
	defer func() {
		if r := recover(); r != nil {
			p.report(subjectID, login, OutcomeFailed, fmt.Errorf("panic: %v", r))
		}
	}()

	outcome, err := p.Provision(ctx, user, login)
	p.report(subjectID, login, outcome, err)
}

func (p *Provisioner) report(subjectID string, login identity.Context, outcome Outcome, err error) {
	step := FailedStep(err)
	p.metrics.RecordOutcome(outcome, step)

	entry := p.log.WithFields(logrus.Fields{
		"user_id":  subjectID,
		"strategy": login.Strategy(),
		"outcome":  outcome,
	})
	if step != "" {
		entry = entry.WithField("step", step)
	}

	switch {
	case outcome == OutcomeIneligible:
		entry.Debug("login not eligible for provisioning")
		return
	case outcome == OutcomeDisabled:
		entry.WithError(err).Warn("provisioning disabled")
	case err != nil && outcome == OutcomeFailed:
		entry.WithError(err).Error("provisioning failed")
	case err != nil:
		// Remote profile exists but the flag was not recorded; the next login
		// finds the profile and retries the flag.
		entry.WithError(err).Warn("profile exists but could not be marked")
	default:
		entry.Info("provisioning complete")
	}

	event := audit.ProvisionEvent{
		SubjectID: subjectID,
		Strategy:  login.Strategy(),
		Outcome:   string(outcome),
		Step:      string(step),
		Success:   err == nil,
	}
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	p.auditor.Log(event)
}

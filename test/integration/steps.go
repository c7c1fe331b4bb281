package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cucumber/godog"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/config"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/identity"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/profile"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/server/endpoints"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/signing"
)

// StepsContext holds state shared between step definitions
type StepsContext struct {
	tc           *TestContext
	response     *http.Response
	responseBody []byte
}

// NewStepsContext creates a new steps context
func NewStepsContext(tc *TestContext) *StepsContext {
	return &StepsContext{tc: tc}
}

// RegisterSteps registers all step definitions
func (s *StepsContext) RegisterSteps(sc *godog.ScenarioContext) {
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		s.tc.Remote.Reset()
		return ctx, s.tc.DB.Exec(`TRUNCATE user_metadata`).Error
	})

	// Background steps
	sc.Step(`^the provisioner is running$`, s.theProvisionerIsRunning)

	// Remote service steps
	sc.Step(`^the profile store has a profile for "([^"]*)"$`, s.theProfileStoreHasAProfileFor)
	sc.Step(`^the profile store rejects changes$`, s.theProfileStoreRejectsChanges)

	// Login steps
	sc.Step(`^"([^"]*)" logs in through "([^"]*)"$`, s.logsInThrough)
	sc.Step(`^"([^"]*)" logs in through "([^"]*)" linked to "([^"]*)"$`, s.logsInThroughLinkedTo)

	// Response steps
	sc.Step(`^the response status should be (\d+)$`, s.theResponseStatusShouldBe)
	sc.Step(`^(\d+) profiles? should have been submitted$`, s.profilesShouldHaveBeenSubmitted)
	sc.Step(`^the profile submitted for "([^"]*)" should be signed by the provisioner$`, s.theProfileShouldBeSigned)
	sc.Step(`^"([^"]*)" should be marked as provisioned$`, s.shouldBeMarkedAsProvisioned)
	sc.Step(`^"([^"]*)" should not be marked as provisioned$`, s.shouldNotBeMarkedAsProvisioned)
}

func (s *StepsContext) theProvisionerIsRunning() error {
	resp, err := s.tc.HTTPClient.Get(s.tc.Server.URL + "/status")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var status endpoints.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return err
	}
	if !status.ConfigValid {
		return fmt.Errorf("provisioner is disabled: %s", status.ConfigError)
	}
	if status.KeyFingerprint != s.tc.Key.Fingerprint() {
		return fmt.Errorf("unexpected key fingerprint %s", status.KeyFingerprint)
	}
	return nil
}

func (s *StepsContext) theProfileStoreHasAProfileFor(subjectID string) error {
	s.tc.Remote.AddProfile(subjectID)
	return nil
}

func (s *StepsContext) theProfileStoreRejectsChanges() error {
	s.tc.Remote.RejectChanges()
	return nil
}

func (s *StepsContext) logsInThrough(userID, connection string) error {
	return s.postLogin(loginEvent(userID, connection, ""))
}

func (s *StepsContext) logsInThroughLinkedTo(userID, connection, primary string) error {
	return s.postLogin(loginEvent(userID, connection, primary))
}

// loginEvent builds the event a host sends for a login through connection.
func loginEvent(userID, connection, primary string) identity.LoginEvent {
	strategy := connection
	if connection == identity.ConnectionFirefoxAccounts {
		strategy = identity.StrategyOAuth2
	}

	event := identity.LoginEvent{
		User: identity.User{
			UserID:        userID,
			Email:         "jdoe@example.com",
			EmailVerified: true,
			GivenName:     "Jane",
			FamilyName:    "Doe",
			Nickname:      "jdoe",
			Identities: []identity.LinkedIdentity{
				{Connection: connection, Provider: strategy, UserID: userID},
			},
			AppMetadata: map[string]any{},
		},
		Context: identity.Context{
			Connection:         connection,
			ConnectionStrategy: strategy,
		},
	}
	if primary != "" {
		event.Context.PrimaryUser = primary
		event.Context.PrimaryUserMetadata = map[string]any{}
	}
	return event
}

func (s *StepsContext) postLogin(event identity.LoginEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	resp, err := s.tc.HTTPClient.Post(s.tc.Server.URL+"/hooks/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	s.response = resp
	s.responseBody, err = io.ReadAll(resp.Body)
	return err
}

func (s *StepsContext) theResponseStatusShouldBe(status int) error {
	if s.response == nil {
		return fmt.Errorf("no response received")
	}
	if s.response.StatusCode != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, s.response.StatusCode, string(s.responseBody))
	}
	return nil
}

func (s *StepsContext) profilesShouldHaveBeenSubmitted(count int) error {
	if got := len(s.tc.Remote.Submissions()); got != count {
		return fmt.Errorf("expected %d submission(s), got %d", count, got)
	}
	return nil
}

func (s *StepsContext) theProfileShouldBeSigned(subjectID string) error {
	body, ok := s.tc.Remote.Submissions()[subjectID]
	if !ok {
		return fmt.Errorf("no profile submitted for %s", subjectID)
	}

	p, err := profile.Parse(body)
	if err != nil {
		return err
	}
	leaf, err := p.Leaf("user_id")
	if err != nil {
		return err
	}
	if leaf.Value != subjectID {
		return fmt.Errorf("profile user_id is %v, want %s", leaf.Value, subjectID)
	}

	checked, err := signing.NewSigner(s.tc.Key, config.DefaultPublisher).VerifyAll(p)
	if err != nil {
		return err
	}
	if checked == 0 {
		return fmt.Errorf("no signed attributes in the profile for %s", subjectID)
	}
	return nil
}

func (s *StepsContext) shouldBeMarkedAsProvisioned(subjectID string) error {
	provisioned, err := s.tc.Tracker.Provisioned(context.Background(), subjectID)
	if err != nil {
		return err
	}
	if !provisioned {
		return fmt.Errorf("%s is not marked as provisioned", subjectID)
	}
	return nil
}

func (s *StepsContext) shouldNotBeMarkedAsProvisioned(subjectID string) error {
	provisioned, err := s.tc.Tracker.Provisioned(context.Background(), subjectID)
	if err != nil {
		return err
	}
	if provisioned {
		return fmt.Errorf("%s is marked as provisioned", subjectID)
	}
	return nil
}

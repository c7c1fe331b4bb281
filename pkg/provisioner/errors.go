package provisioner

import (
	"errors"
	"fmt"
)

// Step names a stage of the pipeline.
type Step string

const (
	StepConfig      Step = "config"
	StepEligibility Step = "eligibility"
	StepToken       Step = "token"
	StepFetch       Step = "fetch"
	StepBuild       Step = "build"
	StepSign        Step = "sign"
	StepSubmit      Step = "submit"
	StepMark        Step = "mark"
)

// Outcome is how a provisioning attempt ended.
type Outcome string

const (
	// OutcomeDisabled means the configuration gate turned provisioning off.
	OutcomeDisabled Outcome = "disabled"
	// OutcomeIneligible means the login was skipped without any I/O.
	OutcomeIneligible Outcome = "ineligible"
	// OutcomeAlreadyProvisioned means the store already had a profile.
	OutcomeAlreadyProvisioned Outcome = "already_provisioned"
	// OutcomeProvisioned means a new profile was accepted.
	OutcomeProvisioned Outcome = "provisioned"
	// OutcomeFailed means a step failed before anything was accepted.
	OutcomeFailed Outcome = "failed"
)

// ErrAlreadyProvisioned is logged when the existence check finds a profile
// for an identity that was not flagged yet. It is informational.
var ErrAlreadyProvisioned = errors.New("profile already exists in the profile store")

// StepError is a failure at one step of the pipeline.
type StepError struct {
	Step      Step
	SubjectID string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provisioning %s failed at %s: %v", e.SubjectID, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedStep returns the step err happened at, or "" if err is not a
// StepError.
func FailedStep(err error) Step {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return ""
}

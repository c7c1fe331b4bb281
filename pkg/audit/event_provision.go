package audit

import "fmt"

// ProvisionEvent records the outcome of one provisioning attempt.
type ProvisionEvent struct {
	SubjectID string
	Strategy  string
	Outcome   string
	// Step is the pipeline step that ended the attempt.
	Step         string
	Success      bool
	ErrorMessage string
}

func (e ProvisionEvent) MessageID() string {
	return "provision"
}

func (e ProvisionEvent) Message() string {
	switch {
	case e.Success:
		return fmt.Sprintf("%s %s", e.SubjectID, e.Outcome)
	case e.ErrorMessage != "":
		return fmt.Sprintf("%s failed to provision at %s: %s", e.SubjectID, e.Step, e.ErrorMessage)
	default:
		return fmt.Sprintf("%s failed to provision at %s", e.SubjectID, e.Step)
	}
}

func (e ProvisionEvent) Severity() Severity {
	if e.Success {
		return SeverityInfo
	}
	return SeverityWarning
}

func (e ProvisionEvent) Facility() int {
	return FacilityAuth
}

func (e ProvisionEvent) StructuredData() map[string]map[string]string {
	result := "success"
	if !e.Success {
		result = "failure"
	}
	sd := map[string]map[string]string{
		SDIDSubject: {
			"user": e.SubjectID,
		},
		SDIDAction: {
			"operation": "provision",
			"outcome":   e.Outcome,
			"step":      e.Step,
			"result":    result,
		},
	}
	if e.Strategy != "" {
		sd[SDIDIdentity] = map[string]string{"strategy": e.Strategy}
	}
	return sd
}

// KeyEvent records a signing key being generated or loaded.
type KeyEvent struct {
	Fingerprint string
	Operation   string // "generate", "load"
}

func (e KeyEvent) MessageID() string {
	return "signing-key"
}

func (e KeyEvent) Message() string {
	return fmt.Sprintf("signing key %s: %s", e.Operation, e.Fingerprint)
}

func (e KeyEvent) Severity() Severity {
	return SeverityNotice
}

func (e KeyEvent) Facility() int {
	return FacilityAuthPriv
}

func (e KeyEvent) StructuredData() map[string]map[string]string {
	return map[string]map[string]string{
		SDIDSubject: {
			"key": e.Fingerprint,
		},
		SDIDAction: {
			"operation": e.Operation,
		},
	}
}

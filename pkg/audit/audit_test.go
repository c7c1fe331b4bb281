package audit

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetWriter(&buf)
	logger.hostname = "host-1"
	logger.pid = 42
	logger.now = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }

	logger.Log(ProvisionEvent{
		SubjectID: "github|1234",
		Strategy:  "github",
		Outcome:   "provisioned",
		Step:      "mark",
		Success:   true,
	})

	want := `<38>1 2026-05-01T10:00:00.000Z host-1 profile-provisioner 42 provision ` +
		`[action@32473 operation="provision" outcome="provisioned" result="success" step="mark"]` +
		`[identity@32473 strategy="github"]` +
		`[subject@32473 user="github|1234"] github|1234 provisioned` + "\n"
	if got := buf.String(); got != want {
		t.Errorf("Log() =\n%q\nwant\n%q", got, want)
	}
}

func TestLoggerEmptyHostname(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetWriter(&buf)
	logger.hostname = ""

	logger.Log(KeyEvent{Fingerprint: "abc", Operation: "generate"})

	if !strings.Contains(buf.String(), " - "+AppName+" ") {
		t.Errorf("expected '-' hostname, got %q", buf.String())
	}
}

func TestProvisionEvent(t *testing.T) {
	tests := []struct {
		name    string
		event   ProvisionEvent
		wantMsg string
		wantSev Severity
		result  string
	}{
		{
			name: "provisioned",
			event: ProvisionEvent{
				SubjectID: "email|1",
				Outcome:   "provisioned",
				Step:      "mark",
				Success:   true,
			},
			wantMsg: "email|1 provisioned",
			wantSev: SeverityInfo,
			result:  "success",
		},
		{
			name: "failed with reason",
			event: ProvisionEvent{
				SubjectID:    "email|1",
				Outcome:      "failed",
				Step:         "submit",
				ErrorMessage: "status_code 400",
			},
			wantMsg: "email|1 failed to provision at submit: status_code 400",
			wantSev: SeverityWarning,
			result:  "failure",
		},
		{
			name: "failed without reason",
			event: ProvisionEvent{
				SubjectID: "email|1",
				Outcome:   "failed",
				Step:      "token",
			},
			wantMsg: "email|1 failed to provision at token",
			wantSev: SeverityWarning,
			result:  "failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Message(); got != tt.wantMsg {
				t.Errorf("Message() = %q, want %q", got, tt.wantMsg)
			}
			if tt.event.Severity() != tt.wantSev {
				t.Errorf("Severity() = %v, want %v", tt.event.Severity(), tt.wantSev)
			}
			if tt.event.MessageID() != "provision" {
				t.Errorf("MessageID() = %v, want 'provision'", tt.event.MessageID())
			}
			sd := tt.event.StructuredData()
			if sd[SDIDAction]["result"] != tt.result {
				t.Errorf("result = %q, want %q", sd[SDIDAction]["result"], tt.result)
			}
			if _, ok := sd[SDIDIdentity]; ok {
				t.Error("identity element should be omitted without a strategy")
			}
		})
	}
}

func TestEscapeSDValue(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"simple", `"simple"`},
		{`with"quote`, `"with\"quote"`},
		{`with\backslash`, `"with\\backslash"`},
		{`with]bracket`, `"with\]bracket"`},
	}

	for _, tt := range tests {
		if got := escapeSDValue(tt.input); got != tt.want {
			t.Errorf("escapeSDValue(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAuditorFunc(t *testing.T) {
	var got []Event
	var a Auditor = AuditorFunc(func(e Event) { got = append(got, e) })

	a.Log(KeyEvent{Fingerprint: "abc", Operation: "load"})

	if len(got) != 1 || got[0].MessageID() != "signing-key" {
		t.Errorf("unexpected events: %v", got)
	}
}

func TestSetEnabled(t *testing.T) {
	var buf bytes.Buffer
	previous := DefaultLogger
	DefaultLogger = NewLogger()
	DefaultLogger.SetWriter(&buf)
	defer func() {
		DefaultLogger = previous
		SetEnabled(true)
	}()

	SetEnabled(false)
	Log(KeyEvent{Fingerprint: "abc", Operation: "load"})
	if buf.Len() != 0 {
		t.Errorf("expected no output when disabled, got %q", buf.String())
	}
}

func TestSeverityString(t *testing.T) {
	tests := []struct {
		input   string
		want    Severity
		wantErr bool
	}{
		{input: "notice", want: SeverityNotice},
		{input: "WARNING", want: SeverityWarning},
		{input: "debug", want: SeverityDebug},
		{input: "loud", wantErr: true},
	}

	for _, tt := range tests {
		got, err := SeverityString(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("SeverityString(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("SeverityString(%q) = %v, %v; want %v", tt.input, got, err, tt.want)
		}
	}

	if SeverityInfo.String() != "info" {
		t.Errorf("SeverityInfo.String() = %q", SeverityInfo.String())
	}
}

func TestLoggerMinSeverity(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetWriter(&buf)
	logger.SetMinSeverity(SeverityNotice)

	// Successful provisioning is info, below the threshold
	logger.Log(ProvisionEvent{SubjectID: "github|1", Outcome: "provisioned", Success: true})
	if buf.Len() != 0 {
		t.Errorf("expected info event to be dropped, got %q", buf.String())
	}

	logger.Log(ProvisionEvent{SubjectID: "github|1", Outcome: "failed", Step: "submit"})
	if !strings.Contains(buf.String(), "github|1") {
		t.Errorf("expected warning event to be written, got %q", buf.String())
	}
}

func TestSeverityFromEnv(t *testing.T) {
	t.Setenv("PROVISIONER_AUDIT_SEVERITY", "error")
	if got := severityFromEnv(); got != SeverityError {
		t.Errorf("severityFromEnv() = %v, want error", got)
	}

	t.Setenv("PROVISIONER_AUDIT_SEVERITY", "nonsense")
	if got := severityFromEnv(); got != SeverityDebug {
		t.Errorf("severityFromEnv() = %v, want debug", got)
	}
}

// Package audit records provisioning activity as RFC5424 syslog lines and,
// when AUDIT_DATABASE_URL is set, as rows of the messages table.
//
//	audit.Log(audit.ProvisionEvent{
//	    SubjectID: "github|1234",
//	    Outcome:   "provisioned",
//	    Step:      "mark",
//	    Success:   true,
//	})
//
// Set PROVISIONER_AUDIT_ENABLED=false to turn audit logging off.
package audit

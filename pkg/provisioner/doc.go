// Package provisioner creates a profile in the remote profile store the
// first time an identity logs in.
//
// Provision runs the pipeline for one login event:
//
//	config -> eligibility -> token -> fetch -> build -> sign -> submit -> mark
//
// If the store already has a profile the pipeline marks the identity and
// stops after fetch. Every step is a blocking call; any failure ends the
// attempt without running later steps.
//
// Run wraps Provision for hosts that must never see a provisioning failure.
// It logs, audits and counts the result and returns nothing.
package provisioner

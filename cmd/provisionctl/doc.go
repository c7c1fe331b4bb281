// Command provisionctl runs and administers the profile provisioner.
//
// The provisioner creates a signed profile in the remote profile store the
// first time an identity logs in through one of the provisioned connections,
// then records that the profile exists so later logins skip the work.
//
// # Quick Start
//
//	# Generate a signing key
//	export PROVISIONER_SIGNING_KEY="$(provisionctl key generate)"
//
//	# Check the configuration
//	provisionctl configuration show
//
//	# Run database migrations (postgres metadata backend only)
//	provisionctl db migrate
//
//	# Start the hook server, reloading when provisioner.yml changes
//	provisionctl server --watch
//
// # Environment Variables
//
// Every configuration attribute can be set with PROVISIONER_<NAME>, for
// example PROVISIONER_CHANGE_API_URL. Other variables:
//
//   - PROVISIONER_CONFIG_PATH: directory holding provisioner.yml (default /etc/provisioner)
//   - DATABASE_URL: PostgreSQL connection string when database_url is unset
//   - PROVISIONER_AUDIT_ENABLED: set to false to silence the audit trail
//   - PORT / BIND_ADDRESS: server listen address (default 0.0.0.0:8000)
package main

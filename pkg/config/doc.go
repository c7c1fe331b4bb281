// Package config provides configuration management for the provisioner.
//
// This package handles loading and validating provisioner settings from
// a YAML file and environment variables.
//
// # Configuration Sources
//
// Configuration is loaded from, in increasing precedence:
//
//   - Built-in defaults
//   - Configuration file (PROVISIONER_CONFIG_PATH/provisioner.yml)
//   - Environment variables (PROVISIONER_*)
//
// # Key Configuration Options
//
//   - PROVISIONER_SIGNING_KEY: base64-encoded PEM RSA key used to sign attributes
//   - PROVISIONER_NULL_PROFILE: base64-encoded JSON profile skeleton
//   - PROVISIONER_CHANGE_API_URL: bare host of the change submission service
//   - PROVISIONER_PERSON_API_URL: base URL of the profile store
//   - PROVISIONER_OAUTH_*: client-credentials settings for both services
//   - PROVISIONER_METADATA_BACKEND: memory, postgres or redis
//
// # Validation
//
// Validate is the configuration gate run before every provisioning
// attempt. A failing gate disables provisioning for that login only; it is
// never reported to the host as an error.
package config

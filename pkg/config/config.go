package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "/etc/provisioner"
	ConfigFileName    = "provisioner.yml"

	// DefaultPublisher is the publisher name this system signs attributes as.
	DefaultPublisher = "access_provider"
)

// Metadata backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all provisioner settings
type Config struct {
	// SigningKey is the base64-encoded PEM RSA private key used for attribute signatures
	SigningKey string `yaml:"signing_key" json:"signing_key"`

	// NullProfile is the base64-encoded JSON skeleton every profile is built from
	NullProfile string `yaml:"null_profile" json:"null_profile"`

	// ChangeAPIURL is the bare host of the change submission service
	ChangeAPIURL string `yaml:"change_api_url" json:"change_api_url"`

	// PersonAPIURL is the base URL of the profile store
	PersonAPIURL string `yaml:"person_api_url" json:"person_api_url"`

	OAuthURL          string `yaml:"oauth_url" json:"oauth_url"`
	OAuthClientID     string `yaml:"oauth_client_id" json:"oauth_client_id"`
	OAuthClientSecret string `yaml:"oauth_client_secret" json:"oauth_client_secret"`
	OAuthAudience     string `yaml:"oauth_audience" json:"oauth_audience"`

	// Publisher is the publisher name written into signatures
	Publisher string `yaml:"publisher" json:"publisher"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level" json:"log_level"`

	// MetadataBackend selects where the provisioned flag is persisted
	MetadataBackend string `yaml:"metadata_backend" json:"metadata_backend"`

	// DatabaseURL is used by the postgres metadata backend
	DatabaseURL string `yaml:"database_url" json:"database_url"`

	// RedisAddr is used by the redis metadata backend
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`

	// HookSecret, when set, is the HS256 key login hooks must be signed with
	HookSecret string `yaml:"hook_secret" json:"hook_secret"`

	// sources tracks where each value came from
	sources map[string]string

	// configFilePath is the path to the config file
	configFilePath string
}

// Attribute represents a configuration attribute with its value and source
type Attribute struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

// Global singleton config
var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	configMu.RLock()
	if globalConfig != nil {
		configMu.RUnlock()
		return globalConfig
	}
	configMu.RUnlock()

	configMu.Lock()
	defer configMu.Unlock()

	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			// Return defaults on error
			globalConfig = newDefault()
		} else {
			globalConfig = cfg
		}
	}
	return globalConfig
}

// Reload reloads the configuration from file and environment
func Reload() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// newDefault returns a config with default values
func newDefault() *Config {
	return &Config{
		Publisher:       DefaultPublisher,
		LogLevel:        "info",
		MetadataBackend: BackendMemory,
		sources:         make(map[string]string),
	}
}

// fields maps attribute names to the config fields they populate. Order is
// the display order.
func (c *Config) fields() []struct {
	name   string
	value  *string
	secret bool
} {
	return []struct {
		name   string
		value  *string
		secret bool
	}{
		{"signing_key", &c.SigningKey, true},
		{"null_profile", &c.NullProfile, false},
		{"change_api_url", &c.ChangeAPIURL, false},
		{"person_api_url", &c.PersonAPIURL, false},
		{"oauth_url", &c.OAuthURL, false},
		{"oauth_client_id", &c.OAuthClientID, false},
		{"oauth_client_secret", &c.OAuthClientSecret, true},
		{"oauth_audience", &c.OAuthAudience, false},
		{"publisher", &c.Publisher, false},
		{"log_level", &c.LogLevel, false},
		{"metadata_backend", &c.MetadataBackend, false},
		{"database_url", &c.DatabaseURL, true},
		{"redis_addr", &c.RedisAddr, false},
		{"hook_secret", &c.HookSecret, true},
	}
}

// Load loads configuration from file and environment variables.
// The file is found under PROVISIONER_CONFIG_PATH (default /etc/provisioner).
func Load() (*Config, error) {
	configPath := os.Getenv("PROVISIONER_CONFIG_PATH")
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	return LoadFrom(filepath.Join(configPath, ConfigFileName))
}

// LoadFrom loads configuration from the given file, which may be absent,
// and environment variables. Environment variables take precedence.
func LoadFrom(path string) (*Config, error) {
	config := newDefault()
	for _, f := range config.fields() {
		config.sources[f.name] = "default"
	}
	config.configFilePath = path

	if data, err := os.ReadFile(path); err == nil {
		var fileConfig Config
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		config.applyFileConfig(&fileConfig)
	}

	config.applyEnvConfig()

	return config, nil
}

func (c *Config) applyFileConfig(file *Config) {
	fileFields := file.fields()
	for i, f := range c.fields() {
		if v := strings.TrimSpace(*fileFields[i].value); v != "" {
			*f.value = v
			c.sources[f.name] = "file"
		}
	}
}

func (c *Config) applyEnvConfig() {
	for _, f := range c.fields() {
		if val := os.Getenv(EnvName(f.name)); val != "" {
			*f.value = strings.TrimSpace(val)
			c.sources[f.name] = "environment"
		}
	}
	// DATABASE_URL is honored for compatibility with the db tooling
	if c.DatabaseURL == "" {
		if val := os.Getenv("DATABASE_URL"); val != "" {
			c.DatabaseURL = val
			c.sources["database_url"] = "environment"
		}
	}
}

// EnvName returns the environment variable that overrides an attribute.
func EnvName(attribute string) string {
	return "PROVISIONER_" + strings.ToUpper(attribute)
}

// ConfigFilePath returns the path to the config file
func (c *Config) ConfigFilePath() string {
	return c.configFilePath
}

// Source returns the source of a configuration attribute
func (c *Config) Source(name string) string {
	if c.sources == nil {
		return "default"
	}
	if s, ok := c.sources[name]; ok {
		return s
	}
	return "default"
}

// Attributes returns all configuration attributes with their values and
// sources. Secret values are masked.
func (c *Config) Attributes() []Attribute {
	var attrs []Attribute
	for _, f := range c.fields() {
		value := *f.value
		if f.secret && value != "" {
			value = "********"
		}
		attrs = append(attrs, Attribute{Name: f.name, Value: value, Source: c.Source(f.name)})
	}
	return attrs
}

// FormatText returns a text representation of the configuration
func (c *Config) FormatText() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Config file: %s\n\n", c.configFilePath))
	sb.WriteString(fmt.Sprintf("%-24s %-40s %s\n", "NAME", "VALUE", "SOURCE"))
	sb.WriteString(fmt.Sprintf("%-24s %-40s %s\n", "----", "-----", "------"))

	for _, attr := range c.Attributes() {
		value := attr.Value
		if value == "" {
			value = "(not set)"
		}
		if len(value) > 40 {
			value = value[:37] + "..."
		}
		sb.WriteString(fmt.Sprintf("%-24s %-40s %s\n", attr.Name, value, attr.Source))
	}
	return sb.String()
}

// FormatJSON returns a JSON representation of the configuration
func (c *Config) FormatJSON() (string, error) {
	result := map[string]interface{}{
		"config_file": c.configFilePath,
		"attributes":  c.Attributes(),
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RequiredAttributes lists the settings provisioning cannot run without.
var RequiredAttributes = []string{
	"signing_key", "null_profile", "change_api_url", "person_api_url",
	"oauth_url", "oauth_client_id", "oauth_client_secret", "oauth_audience",
}

// ConfigurationError reports a configuration that disables provisioning.
type ConfigurationError struct {
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Missing, ", "))
	}
	return "invalid configuration: " + e.Reason
}

// Validate is the configuration gate. It checks that every required
// attribute is set and that change_api_url is a bare, unversioned host.
func (c *Config) Validate() error {
	values := make(map[string]string)
	for _, f := range c.fields() {
		values[f.name] = *f.value
	}

	var missing []string
	for _, name := range RequiredAttributes {
		if values[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ConfigurationError{Missing: missing}
	}

	// Older deployments configured the full endpoint here. The client adds
	// both the scheme and the API version itself.
	if strings.Contains(c.ChangeAPIURL, "://") {
		return &ConfigurationError{Reason: fmt.Sprintf("change_api_url %q must be a bare host without a scheme", c.ChangeAPIURL)}
	}
	if strings.Contains(c.ChangeAPIURL, "/v2") {
		return &ConfigurationError{Reason: fmt.Sprintf("change_api_url %q must not include an API version", c.ChangeAPIURL)}
	}

	return nil
}

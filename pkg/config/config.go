// Package config loads and validates the orchestrator's configuration from
// a YAML file plus environment overrides. Secrets never live in the YAML;
// they are referenced by environment variable name and resolved at use.
package config

import (
	"fmt"
	"log/slog"
	"time"
)

// Model backends.
const (
	BackendGemini    = "gemini"
	BackendAnthropic = "anthropic"
)

// Config is the umbrella configuration returned by Initialize.
type Config struct {
	Batch         *BatchConfig        `yaml:"batch"`
	Model         *ModelConfig        `yaml:"model"`
	Datastore     *DatastoreConfig    `yaml:"datastore"`
	Database      *DatabaseConfig     `yaml:"database"`
	Notifications *NotificationConfig `yaml:"notifications"`
	Server        *ServerConfig       `yaml:"server"`
}

// BatchConfig tunes chunking and diagnostics.
type BatchConfig struct {
	ChunkSize        int  `yaml:"chunk_size"`
	Verbose          bool `yaml:"verbose"`
	VerboseErrors    bool `yaml:"verbose_errors"`
	MaxVerboseErrors int  `yaml:"max_verbose_errors"`
}

// ModelConfig addresses the generative model.
type ModelConfig struct {
	Backend   string `yaml:"backend"`
	ID        string `yaml:"id"`
	Project   string `yaml:"project"`
	Location  string `yaml:"location"`
	TimeoutMS int    `yaml:"timeout_ms"`

	// Endpoint overrides the backend's default REST endpoint. Used for
	// regional endpoints and tests.
	Endpoint string `yaml:"endpoint"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
}

// Timeout returns the model invocation deadline.
func (m *ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

// DatastoreConfig addresses the records gateway holding the tenant bases
// and the client registry.
type DatastoreConfig struct {
	// GatewayURL overrides the default records gateway endpoint.
	GatewayURL string `yaml:"gateway_url"`

	// TokenEnv names the environment variable holding the gateway token.
	TokenEnv string `yaml:"token_env"`

	// RegistryHandle is the base holding the Clients table.
	RegistryHandle string `yaml:"registry_handle"`
}

// DatabaseConfig addresses the shared tracking store.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN renders the postgres connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// NotificationConfig routes operator alerts.
type NotificationConfig struct {
	// AdminAlertHook is a webhook URL notified on global run failures.
	AdminAlertHook string `yaml:"admin_alert_hook"`

	Slack *SlackConfig `yaml:"slack"`
}

// SlackConfig holds Slack notification settings.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}

// ServerConfig holds the optional HTTP API settings.
type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

// LogStats emits a one-line summary of the effective configuration. Secrets
// are never logged.
func (c *Config) LogStats() {
	slog.Info("Configuration initialized",
		"chunk_size", c.Batch.ChunkSize,
		"model_backend", c.Model.Backend,
		"model_id", c.Model.ID,
		"model_timeout", c.Model.Timeout(),
		"tracking_enabled", c.Database.Enabled,
		"verbose_errors", c.Batch.VerboseErrors)
}

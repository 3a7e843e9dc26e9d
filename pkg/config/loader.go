package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Defaults applied before the YAML file and environment overrides.
const (
	DefaultChunkSize        = 10
	DefaultMaxVerboseErrors = 10
	DefaultModelTimeoutMS   = 120_000
	MinModelTimeoutMS       = 30_000
	DefaultHTTPPort         = 8080
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Batch: &BatchConfig{
			ChunkSize:        DefaultChunkSize,
			MaxVerboseErrors: DefaultMaxVerboseErrors,
		},
		Model: &ModelConfig{
			Backend:   BackendGemini,
			TimeoutMS: DefaultModelTimeoutMS,
			APIKeyEnv: "GOOGLE_API_KEY",
		},
		Datastore: &DatastoreConfig{
			TokenEnv: "DATASTORE_TOKEN",
		},
		Database: &DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			Name:    "postscore",
			User:    "postscore",
			SSLMode: "disable",
		},
		Notifications: &NotificationConfig{
			Slack: &SlackConfig{TokenEnv: "SLACK_BOT_TOKEN"},
		},
		Server: &ServerConfig{HTTPPort: DefaultHTTPPort},
	}
}

// Initialize loads, merges, and validates configuration:
//  1. Start from built-in defaults.
//  2. Overlay the YAML file (optional; a missing file is not an error).
//  3. Overlay enumerated environment variables.
//  4. Validate and return.
func Initialize(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		fileCfg, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		if fileCfg != nil {
			if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("merge configuration: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	return cfg, nil
}

// loadFile reads and parses one YAML file. A missing file returns nil
// without error so deployments can run on defaults plus environment.
func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("Configuration file not found, using defaults", "path", path)
			return nil, nil
		}
		return nil, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	return &cfg, nil
}

// applyEnvOverrides overlays the enumerated environment variables on top of
// file values. Unset variables leave the current value in place.
func applyEnvOverrides(cfg *Config) {
	envInt("CHUNK_SIZE", &cfg.Batch.ChunkSize)
	envBool("VERBOSE", &cfg.Batch.Verbose)
	envBool("VERBOSE_ERRORS", &cfg.Batch.VerboseErrors)
	envInt("MAX_VERBOSE_ERRORS", &cfg.Batch.MaxVerboseErrors)

	envStr("MODEL_BACKEND", &cfg.Model.Backend)
	envStr("MODEL_ID", &cfg.Model.ID)
	envStr("MODEL_PROJECT", &cfg.Model.Project)
	envStr("MODEL_LOCATION", &cfg.Model.Location)
	envInt("MODEL_TIMEOUT_MS", &cfg.Model.TimeoutMS)

	envStr("DATASTORE_GATEWAY_URL", &cfg.Datastore.GatewayURL)
	envStr("DATASTORE_REGISTRY_HANDLE", &cfg.Datastore.RegistryHandle)

	envStr("DB_HOST", &cfg.Database.Host)
	envInt("DB_PORT", &cfg.Database.Port)
	envStr("DB_NAME", &cfg.Database.Name)
	envStr("DB_USER", &cfg.Database.User)
	envStr("DB_PASSWORD", &cfg.Database.Password)
	envStr("DB_SSL_MODE", &cfg.Database.SSLMode)

	envStr("ADMIN_ALERT_HOOK", &cfg.Notifications.AdminAlertHook)
	envInt("HTTP_PORT", &cfg.Server.HTTPPort)
}

func envStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-integer environment override", "key", key, "value", v)
		return
	}
	*dst = n
}

func envBool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Ignoring non-boolean environment override", "key", key, "value", v)
		return
	}
	*dst = b
}

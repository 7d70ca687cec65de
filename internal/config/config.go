// Package config loads the orchestrator's configuration from a YAML file,
// then lets a fixed set of environment variables override it — the
// layering every kubernaut service (gateway, contextapi, datastorage)
// uses, so a Helm chart can ship one file and still vary secrets per
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the orchestrator's own HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig is the Postgres connection backing C3.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// CacheConfig is the Redis instance backing the dedupe fast path.
type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// WebhookConfig is the inbound GitHub delivery surface.
type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

// OrchestratorConfig tunes C5/C8 behaviour.
type OrchestratorConfig struct {
	MaxAttemptsPerTask    int `yaml:"max_attempts_per_task"`
	StaleEventRetentionDays int `yaml:"stale_event_retention_days"`
}

// ProvidersConfig holds the two language-model adapters and the hosting
// provider's credentials.
type ProvidersConfig struct {
	AnthropicAPIKey   string `yaml:"anthropic_api_key"`
	AnthropicModel    string `yaml:"anthropic_model"`
	BedrockRegion     string `yaml:"bedrock_region"`
	BedrockModelID    string `yaml:"bedrock_model_id"`
	GitHubAppToken    string `yaml:"github_app_token"`
}

// TelemetryConfig is the OpenTelemetry exporter target.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Config is the orchestrator's complete runtime configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Cache        CacheConfig        `yaml:"cache"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// LoadFromEnv overrides fields with environment variables when set,
// leaving the YAML-sourced value alone otherwise.
func (c *Config) LoadFromEnv() {
	overrideString(&c.Database.Host, "DB_HOST")
	overrideInt(&c.Database.Port, "DB_PORT")
	overrideString(&c.Database.Name, "DB_NAME")
	overrideString(&c.Database.User, "DB_USER")
	overrideString(&c.Database.Password, "DB_PASSWORD")
	overrideString(&c.Database.SSLMode, "DB_SSL_MODE")

	overrideString(&c.Cache.RedisAddr, "REDIS_ADDR")
	overrideString(&c.Cache.RedisPassword, "REDIS_PASSWORD")
	overrideInt(&c.Cache.RedisDB, "REDIS_DB")

	overrideString(&c.Webhook.Secret, "WEBHOOK_SECRET")

	overrideString(&c.Providers.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	overrideString(&c.Providers.BedrockRegion, "AWS_REGION")
	overrideString(&c.Providers.GitHubAppToken, "GITHUB_APP_TOKEN")

	overrideString(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func overrideString(dst *string, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, envVar string) {
	v := os.Getenv(envVar)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

// Validate checks the fields every deployment must set. Provider
// credentials are deliberately not validated here: a dry-run or
// replay-only invocation of the orchestrator has no need for them, and
// the providers package fails fast on first use instead.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database port required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name required")
	}
	if c.Server.Port == 0 {
		return fmt.Errorf("server port required")
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret required")
	}
	if c.Orchestrator.MaxAttemptsPerTask <= 0 {
		return fmt.Errorf("orchestrator max_attempts_per_task required")
	}
	return nil
}

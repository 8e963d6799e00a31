// Package config loads and validates IntelliRouter's YAML configuration,
// seeding the model registry from a flat list of model entries instead of
// the teacher's per-provider blocks (spec §3: the registry is model-
// centric, not provider-centric).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/intellirouter/intellirouter/internal/middleware"
	"github.com/intellirouter/intellirouter/internal/security"
	"github.com/intellirouter/intellirouter/internal/types"
)

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Router   RouterConfig   `yaml:"router"`
	Models   []ModelConfig  `yaml:"models"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// RouterConfig holds routing engine configuration.
type RouterConfig struct {
	DefaultStrategy     string        `yaml:"default_strategy"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	HealthCheckTimeout  time.Duration `yaml:"health_check_timeout"`
	BaseRetryDelay      time.Duration `yaml:"base_retry_delay"`
	MaxRetryDelay       time.Duration `yaml:"max_retry_delay"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
}

// ModelConfig describes one registry entry and the connector that backs
// it; BuildRegistry turns a list of these into registered types.ModelMetadata
// plus live connector.Connector instances (see registry.go in this
// package).
type ModelConfig struct {
	ID              string             `yaml:"id"`
	Provider        string             `yaml:"provider"`
	Type            types.ModelType    `yaml:"type"`
	ContextWindow   uint               `yaml:"context_window"`
	Capabilities    types.Capabilities `yaml:"capabilities"`
	CostPer1KInput  float32            `yaml:"cost_per_1k_input"`
	CostPer1KOutput float32            `yaml:"cost_per_1k_output"`
	MaxTokensPerReq int                `yaml:"max_tokens_per_request"`
	MaxRPM          int                `yaml:"max_rpm"`
	Tags            map[string]bool    `yaml:"tags"`
	Connector       ConnectorSettings  `yaml:"connector"`
}

// ConnectorSettings configures the wire-level client for one model
// (spec §3 ConnectorConfig, generalized across backend types).
type ConnectorSettings struct {
	Type      string            `yaml:"type"` // "openai", "anthropic", "ollama", "mock"
	BaseURL   string            `yaml:"base_url"`
	APIKeyEnv string            `yaml:"api_key_env"` // env var holding the secret; never stored in YAML
	OrgID     string            `yaml:"org_id"`
	Timeout   time.Duration     `yaml:"timeout"`
	Params    map[string]string `yaml:"params"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	APIKeys           []string          `yaml:"api_keys"`
	RateLimiting      RateLimitConfig   `yaml:"rate_limiting"`
	CORS              CORSConfig        `yaml:"cors"`
	RequestValidation ValidationConfig  `yaml:"request_validation"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled        bool          `yaml:"enabled"`
	RequestsPerMin int           `yaml:"requests_per_minute"`
	BurstSize      int           `yaml:"burst_size"`
	WindowDuration time.Duration `yaml:"window_duration"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// ValidationConfig holds request validation configuration.
type ValidationConfig struct {
	MaxRequestSize   int64  `yaml:"max_request_size"`
	MaxMessageLength int    `yaml:"max_message_length"`
	MaxMessages      int    `yaml:"max_messages"`
	OpenAPISpecPath  string `yaml:"openapi_spec_path"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	config.setDefaults()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	config.loadFromEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values.
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	c.Router = RouterConfig{
		DefaultStrategy:     "cost_optimized",
		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  5 * time.Second,
		BaseRetryDelay:      200 * time.Millisecond,
		MaxRetryDelay:       5 * time.Second,
		RequestTimeout:      120 * time.Second,
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Security = SecurityConfig{
		APIKeys: []string{},
		RateLimiting: RateLimitConfig{
			Enabled:        false,
			RequestsPerMin: 60,
			BurstSize:      10,
			WindowDuration: time.Minute,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
		},
		RequestValidation: ValidationConfig{
			MaxRequestSize:   10 << 20, // 10MB
			MaxMessageLength: 100000,
			MaxMessages:      50,
			OpenAPISpecPath:  "docs/openapi.yaml",
		},
	}

	c.Models = []ModelConfig{
		{
			ID: "gpt-4o", Provider: "openai", Type: types.ModelTypeChat,
			ContextWindow: 128000, CostPer1KInput: 0.005, CostPer1KOutput: 0.015,
			MaxTokensPerReq: 4096,
			Capabilities:    types.Capabilities{Streaming: true, FunctionCalling: true, Vision: true, JSONMode: true, Tools: true},
			Connector:       ConnectorSettings{Type: "openai", APIKeyEnv: "OPENAI_API_KEY", Timeout: 120 * time.Second},
		},
		{
			ID: "gpt-4o-mini", Provider: "openai", Type: types.ModelTypeChat,
			ContextWindow: 128000, CostPer1KInput: 0.00015, CostPer1KOutput: 0.0006,
			MaxTokensPerReq: 16384,
			Capabilities:    types.Capabilities{Streaming: true, FunctionCalling: true, JSONMode: true, Tools: true},
			Connector:       ConnectorSettings{Type: "openai", APIKeyEnv: "OPENAI_API_KEY", Timeout: 120 * time.Second},
		},
		{
			ID: "claude-3-5-sonnet-20241022", Provider: "anthropic", Type: types.ModelTypeChat,
			ContextWindow: 200000, CostPer1KInput: 0.003, CostPer1KOutput: 0.015,
			MaxTokensPerReq: 8192,
			Capabilities:    types.Capabilities{Streaming: true, FunctionCalling: true, Vision: true, Tools: true},
			Connector:       ConnectorSettings{Type: "anthropic", APIKeyEnv: "ANTHROPIC_API_KEY", Timeout: 120 * time.Second},
		},
		{
			ID: "claude-3-haiku-20240307", Provider: "anthropic", Type: types.ModelTypeChat,
			ContextWindow: 200000, CostPer1KInput: 0.00025, CostPer1KOutput: 0.00125,
			MaxTokensPerReq: 4096,
			Capabilities:    types.Capabilities{Streaming: true, Tools: true},
			Connector:       ConnectorSettings{Type: "anthropic", APIKeyEnv: "ANTHROPIC_API_KEY", Timeout: 120 * time.Second},
		},
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration overrides from environment variables.
// Per-model API keys are resolved later, at registry-build time, from
// each model's Connector.APIKeyEnv.
func (c *Config) loadFromEnv() {
	if port := os.Getenv("INTELLIROUTER_PORT"); port != "" {
		c.Server.Port = port
	}

	if level := os.Getenv("INTELLIROUTER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := os.Getenv("INTELLIROUTER_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if strategy := os.Getenv("INTELLIROUTER_DEFAULT_STRATEGY"); strategy != "" {
		c.Router.DefaultStrategy = strategy
	}
}

// validate validates the configuration.
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	validStrategies := map[string]bool{
		"cost_optimized":     true,
		"latency_optimized":  true,
		"load_balanced":      true,
		"content_based":      true,
		"round_robin":        true,
	}

	if !validStrategies[c.Router.DefaultStrategy] {
		return fmt.Errorf("invalid default strategy: %s", c.Router.DefaultStrategy)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}

	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("model entry missing id")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id: %s", m.ID)
		}
		seen[m.ID] = true
		if m.Connector.Type == "" {
			return fmt.Errorf("model %s missing connector type", m.ID)
		}
		if m.Connector.Type != "mock" && m.Connector.APIKeyEnv != "" && os.Getenv(m.Connector.APIKeyEnv) == "" {
			return fmt.Errorf("model %s: environment variable %s is not set", m.ID, m.Connector.APIKeyEnv)
		}
	}

	return nil
}

// ToSecurityMiddlewareConfig converts to middleware.SecurityMiddlewareConfig.
func (c *Config) ToSecurityMiddlewareConfig() *middleware.SecurityMiddlewareConfig {
	return &middleware.SecurityMiddlewareConfig{
		Auth: &security.Config{
			APIKeys:        c.Security.APIKeys,
			RequireAuth:    len(c.Security.APIKeys) > 0,
			AllowedOrigins: c.Security.CORS.AllowedOrigins,
		},
		RateLimit: &security.RateLimitConfig{
			Enabled:           c.Security.RateLimiting.Enabled,
			RequestsPerMinute: c.Security.RateLimiting.RequestsPerMin,
			BurstSize:         c.Security.RateLimiting.BurstSize,
			WindowDuration:    c.Security.RateLimiting.WindowDuration,
			CleanupInterval:   5 * time.Minute,
		},
		Validation: &security.ValidationConfig{
			MaxRequestSize: c.Security.RequestValidation.MaxRequestSize,
			AllowedMethods: c.Security.CORS.AllowedMethods,
			ContentTypes:   []string{"application/json", "text/plain"},
			MaxJSONDepth:   20,
			MaxFieldLength: 1024,
		},
		Audit: &security.AuditConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 10 * time.Second,
		},
	}
}

// SaveToFile saves the current configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// EnabledProviders returns the distinct set of provider names configured
// across all models.
func (c *Config) EnabledProviders() []string {
	seen := make(map[string]bool)
	var providers []string
	for _, m := range c.Models {
		if !seen[m.Provider] {
			seen[m.Provider] = true
			providers = append(providers, m.Provider)
		}
	}
	return providers
}

package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	os.Setenv("OPENAI_API_KEY", "test-openai-key")
	os.Setenv("ANTHROPIC_API_KEY", "test-anthropic-key")
	defer func() {
		os.Unsetenv("OPENAI_API_KEY")
		os.Unsetenv("ANTHROPIC_API_KEY")
	}()

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "cost_optimized", cfg.Router.DefaultStrategy)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.NotEmpty(t, cfg.Models)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	os.Setenv("INTELLIROUTER_PORT", "9090")
	os.Setenv("OPENAI_API_KEY", "test-openai-key")
	os.Setenv("ANTHROPIC_API_KEY", "test-anthropic-key")
	os.Setenv("INTELLIROUTER_LOG_LEVEL", "debug")
	os.Setenv("INTELLIROUTER_LOG_FORMAT", "text")
	os.Setenv("INTELLIROUTER_DEFAULT_STRATEGY", "latency_optimized")

	defer func() {
		os.Unsetenv("INTELLIROUTER_PORT")
		os.Unsetenv("OPENAI_API_KEY")
		os.Unsetenv("ANTHROPIC_API_KEY")
		os.Unsetenv("INTELLIROUTER_LOG_LEVEL")
		os.Unsetenv("INTELLIROUTER_LOG_FORMAT")
		os.Unsetenv("INTELLIROUTER_DEFAULT_STRATEGY")
	}()

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "latency_optimized", cfg.Router.DefaultStrategy)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		setup   func()
		cleanup func()
		errMsg  string
	}{
		{
			name: "Missing API keys",
			setup: func() {
				os.Unsetenv("OPENAI_API_KEY")
				os.Unsetenv("ANTHROPIC_API_KEY")
			},
			cleanup: func() {},
			errMsg:  "environment variable",
		},
		{
			name: "Invalid log level",
			setup: func() {
				os.Setenv("OPENAI_API_KEY", "test-key")
				os.Setenv("ANTHROPIC_API_KEY", "test-key")
				os.Setenv("INTELLIROUTER_LOG_LEVEL", "invalid")
			},
			cleanup: func() {
				os.Unsetenv("OPENAI_API_KEY")
				os.Unsetenv("ANTHROPIC_API_KEY")
				os.Unsetenv("INTELLIROUTER_LOG_LEVEL")
			},
			errMsg: "invalid log level",
		},
		{
			name: "Invalid strategy",
			setup: func() {
				os.Setenv("OPENAI_API_KEY", "test-key")
				os.Setenv("ANTHROPIC_API_KEY", "test-key")
				os.Setenv("INTELLIROUTER_DEFAULT_STRATEGY", "invalid_strategy")
			},
			cleanup: func() {
				os.Unsetenv("OPENAI_API_KEY")
				os.Unsetenv("ANTHROPIC_API_KEY")
				os.Unsetenv("INTELLIROUTER_DEFAULT_STRATEGY")
			},
			errMsg: "invalid default strategy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer tt.cleanup()

			_, err := LoadConfig("")
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.errMsg), "expected error containing %q, got %q", tt.errMsg, err.Error())
		})
	}
}

func TestLoadConfig_FileLoading(t *testing.T) {
	configContent := `
server:
  port: "3000"
  read_timeout: 60s

router:
  default_strategy: "round_robin"

logging:
  level: "warn"
  format: "text"

models:
  - id: local-llama
    provider: ollama
    type: chat
    context_window: 8192
    connector:
      type: mock
`

	tmpFile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(configContent)
	require.NoError(t, err)
	tmpFile.Close()

	cfg, err := LoadConfig(tmpFile.Name())
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "round_robin", cfg.Router.DefaultStrategy)
	assert.Equal(t, "warn", cfg.Logging.Level)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "local-llama", cfg.Models[0].ID)
	assert.Equal(t, "mock", cfg.Models[0].Connector.Type)
}

func TestConfig_EnabledProviders(t *testing.T) {
	cfg := &Config{}
	cfg.setDefaults()

	providers := cfg.EnabledProviders()
	assert.Contains(t, providers, "openai")
	assert.Contains(t, providers, "anthropic")
}

func TestConfig_ToSecurityMiddlewareConfig(t *testing.T) {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.Security.APIKeys = []string{"test-key"}

	secCfg := cfg.ToSecurityMiddlewareConfig()
	require.NotNil(t, secCfg.Auth)
	assert.True(t, secCfg.Auth.RequireAuth)
	assert.Equal(t, []string{"test-key"}, secCfg.Auth.APIKeys)
}

func TestConfig_SaveToFile(t *testing.T) {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.Server.Port = "4000"

	tmpFile, err := os.CreateTemp("", "test_save_*.yaml")
	require.NoError(t, err)
	tmpFile.Close()
	defer os.Remove(tmpFile.Name())

	require.NoError(t, cfg.SaveToFile(tmpFile.Name()))

	data, err := os.ReadFile(tmpFile.Name())
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, `port: "4000"`)
	assert.Contains(t, content, "default_strategy: cost_optimized")
}

func TestBuildRegistry_MockConnectors(t *testing.T) {
	cfg := &Config{
		Models: []ModelConfig{
			{ID: "m1", Provider: "mock", Type: "chat", ContextWindow: 4096, Connector: ConnectorSettings{Type: "mock"}},
			{ID: "m2", Provider: "mock", Type: "chat", ContextWindow: 4096, Connector: ConnectorSettings{Type: "mock"}},
		},
	}

	reg, err := BuildRegistry(cfg, logrus.New())
	require.NoError(t, err)

	entries := reg.List()
	assert.Len(t, entries, 2)
}

func TestBuildRegistry_UnknownConnectorType(t *testing.T) {
	cfg := &Config{
		Models: []ModelConfig{
			{ID: "m1", Provider: "weird", Type: "chat", ContextWindow: 4096, Connector: ConnectorSettings{Type: "bogus"}},
		},
	}

	_, err := BuildRegistry(cfg, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown connector type")
}

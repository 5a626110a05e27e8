package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("ASKDB_EXEC_MAX_ROWS", "7")

	cfg := DefaultConfig()

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 0, cfg.LLM.RetryAttempts)
	assert.InDelta(t, 0.0, cfg.LLM.ValidationTemperature, 1e-9)
	assert.Equal(t, "dir", cfg.Schema.Source)
	assert.True(t, cfg.Retrieval.Enabled)
	assert.Equal(t, 10, cfg.Retrieval.Threshold)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 1000, cfg.Executor.MaxRows, "defaults ignore the process environment")
	assert.Equal(t, "30s", cfg.Executor.Timeout)
	assert.Equal(t, 10, cfg.Dialog.HistorySize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.False(t, cfg.Debug.Enabled)
	require.NoError(t, validateConfig(cfg))
}

func TestLoadConfigFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")

	testConfig := map[string]interface{}{
		"llm": map[string]interface{}{
			"provider": "ollama",
			"model":    "llama3",
		},
		"executor": map[string]interface{}{
			"driver":   "sqlite",
			"max_rows": 50,
			"timeout":  "5s",
		},
		"logging": map[string]interface{}{
			"level":  "debug",
			"format": "json",
		},
		"debug": map[string]interface{}{
			"enabled": true,
		},
	}

	data, err := json.MarshalIndent(testConfig, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0600))

	config := DefaultConfig()
	require.NoError(t, loadConfigFromFile(config, configPath))

	assert.Equal(t, "ollama", config.LLM.Provider)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, "sqlite", config.Executor.Driver)
	assert.Equal(t, 50, config.Executor.MaxRows)
	assert.Equal(t, "5s", config.Executor.Timeout)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.True(t, config.Debug.Enabled)
	// untouched sections keep their defaults
	assert.Equal(t, 10, config.Dialog.HistorySize)
}

func TestLoadConfigFromFileInvalidJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0600))

	err := loadConfigFromFile(DefaultConfig(), configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	envVars := map[string]string{
		"ASKDB_LLM_PROVIDER":        "anthropic",
		"ASKDB_LLM_API_KEY":         "sk-test",
		"ASKDB_RETRIEVAL_THRESHOLD": "3",
		"ASKDB_EXEC_DRIVER":         "postgres",
		"ASKDB_EXEC_DSN_TEMPLATE":   "postgres://reader@localhost/{database}",
		"ASKDB_EXEC_TIMEOUT":        "45s",
		"ASKDB_LOG_LEVEL":           "warn",
		"ASKDB_S3_USE_SSL":          "false",
		"ASKDB_DEBUG":               "true",
	}

	for key, value := range envVars {
		t.Setenv(key, value)
	}

	config := DefaultConfig()
	config.LLM.Model = "from-file"

	require.NoError(t, applyEnvironmentOverrides(config))

	assert.Equal(t, "anthropic", config.LLM.Provider)
	assert.Equal(t, "sk-test", config.LLM.APIKey)
	assert.Equal(t, "from-file", config.LLM.Model, "values the environment leaves alone survive")
	assert.Equal(t, 3, config.Retrieval.Threshold)
	assert.Equal(t, "postgres", config.Executor.Driver)
	assert.Equal(t, "postgres://reader@localhost/{database}", config.Executor.DSNTemplate)
	assert.Equal(t, "45s", config.Executor.Timeout)
	assert.Equal(t, "warn", config.Logging.Level)
	assert.False(t, config.S3.UseSSL)
	assert.True(t, config.Debug.Enabled)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := DefaultConfig()

	overrides := map[string]interface{}{
		"schema-dir":   "/flag/schemas",
		"provider":     "gemini",
		"model":        "gemini-2.0-flash",
		"driver":       "sqlite",
		"max-rows":     25,
		"no-retrieval": true,
		"log-level":    "error",
		"verbose":      true,
	}

	require.NoError(t, applyFlagOverrides(config, overrides))

	assert.Equal(t, "/flag/schemas", config.Schema.Directory)
	assert.Equal(t, "gemini", config.LLM.Provider)
	assert.Equal(t, "gemini-2.0-flash", config.LLM.Model)
	assert.Equal(t, "sqlite", config.Executor.Driver)
	assert.Equal(t, 25, config.Executor.MaxRows)
	assert.False(t, config.Retrieval.Enabled)
	assert.Equal(t, "error", config.Logging.Level)
	assert.True(t, config.Debug.Verbose)

	err := applyFlagOverrides(config, map[string]interface{}{"bogus": 1})
	require.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name          string
		modifyConfig  func(*Config)
		expectError   bool
		errorContains string
	}{
		{
			name:         "valid config",
			modifyConfig: func(_ *Config) {},
		},
		{
			name:          "invalid log level",
			modifyConfig:  func(c *Config) { c.Logging.Level = "invalid" },
			expectError:   true,
			errorContains: "invalid log level",
		},
		{
			name:          "invalid log output",
			modifyConfig:  func(c *Config) { c.Logging.Output = "syslog" },
			expectError:   true,
			errorContains: "invalid log output",
		},
		{
			name:          "invalid provider",
			modifyConfig:  func(c *Config) { c.LLM.Provider = "mystery" },
			expectError:   true,
			errorContains: "invalid llm provider",
		},
		{
			name:          "invalid fallback provider",
			modifyConfig:  func(c *Config) { c.LLM.FallbackProvider = "mystery" },
			expectError:   true,
			errorContains: "invalid llm fallback provider",
		},
		{
			name:          "invalid driver",
			modifyConfig:  func(c *Config) { c.Executor.Driver = "mysql" },
			expectError:   true,
			errorContains: "invalid executor driver",
		},
		{
			name:          "invalid executor timeout",
			modifyConfig:  func(c *Config) { c.Executor.Timeout = "soon" },
			expectError:   true,
			errorContains: "invalid executor timeout",
		},
		{
			name:          "zero row cap",
			modifyConfig:  func(c *Config) { c.Executor.MaxRows = 0 },
			expectError:   true,
			errorContains: "max rows must be positive",
		},
		{
			name:          "negative retries",
			modifyConfig:  func(c *Config) { c.LLM.RetryAttempts = -1 },
			expectError:   true,
			errorContains: "retry attempts",
		},
		{
			name:          "invalid schema cache ttl",
			modifyConfig:  func(c *Config) { c.Schema.CacheTTL = "a while" },
			expectError:   true,
			errorContains: "invalid schema cache ttl",
		},
		{
			name:          "invalid schema source",
			modifyConfig:  func(c *Config) { c.Schema.Source = "http" },
			expectError:   true,
			errorContains: "invalid schema source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modifyConfig(config)

			err := validateConfig(config)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigWithOverridesUsesConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "askdb.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"llm":{"provider":"ollama"}}`), 0600))

	t.Setenv("ASKDB_CONFIG", configPath)
	t.Setenv("ASKDB_LLM_MODEL", "llama3")

	cfg, err := LoadConfigWithOverrides(map[string]interface{}{"max-rows": 10})
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 10, cfg.Executor.MaxRows)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, home, expandPath("~"))
	assert.Equal(t, filepath.Join(home, "x", "y"), expandPath("~/x/y"))
	assert.Equal(t, "/abs/path", expandPath("/abs/path"))
}

func TestS3ConfigConfigured(t *testing.T) {
	assert.False(t, S3Config{}.Configured())
	assert.False(t, S3Config{Endpoint: "localhost:9000"}.Configured())
	assert.True(t, S3Config{Endpoint: "localhost:9000", Bucket: "askdb"}.Configured())
}

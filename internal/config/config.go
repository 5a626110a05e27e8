package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable read by LoadConfig
const EnvPrefix = "ASKDB_"

// Config represents the application configuration
type Config struct {
	LLM        LLMConfig        `json:"llm"`
	Schema     SchemaConfig     `json:"schema"`
	Retrieval  RetrievalConfig  `json:"retrieval"`
	Executor   ExecutorConfig   `json:"executor"`
	Dialog     DialogConfig     `json:"dialog"`
	Evaluation EvaluationConfig `json:"evaluation"`
	S3         S3Config         `json:"s3"`
	Logging    LoggingConfig    `json:"logging"`
	Debug      DebugConfig      `json:"debug"`
}

// LLMConfig selects the completion providers and decoding settings
type LLMConfig struct {
	Provider              string  `json:"provider"                env:"LLM_PROVIDER"                envDefault:"openai"` // openai, anthropic, ollama, gemini
	Model                 string  `json:"model"                   env:"LLM_MODEL"                   envDefault:"gpt-4o-mini"`
	APIKey                string  `json:"api_key,omitempty"       env:"LLM_API_KEY"`
	BaseURL               string  `json:"base_url,omitempty"      env:"LLM_BASE_URL"`
	FallbackProvider      string  `json:"fallback_provider"       env:"LLM_FALLBACK_PROVIDER"`
	FallbackModel         string  `json:"fallback_model"          env:"LLM_FALLBACK_MODEL"`
	FallbackAPIKey        string  `json:"fallback_api_key,omitempty" env:"LLM_FALLBACK_API_KEY"`
	FallbackBaseURL       string  `json:"fallback_base_url"       env:"LLM_FALLBACK_BASE_URL"`
	Timeout               string  `json:"timeout"                 env:"LLM_TIMEOUT"                 envDefault:"60s"`
	RetryAttempts         int     `json:"retry_attempts"          env:"LLM_RETRY_ATTEMPTS"          envDefault:"0"`
	MaxTokens             int     `json:"max_tokens"              env:"LLM_MAX_TOKENS"              envDefault:"1024"`
	GenerationTemperature float64 `json:"generation_temperature"  env:"LLM_GENERATION_TEMPERATURE"  envDefault:"0.3"`
	ValidationTemperature float64 `json:"validation_temperature"  env:"LLM_VALIDATION_TEMPERATURE"  envDefault:"0.0"`
	RefinementTemperature float64 `json:"refinement_temperature"  env:"LLM_REFINEMENT_TEMPERATURE"  envDefault:"0.2"`
	Dialect               string  `json:"dialect"                 env:"LLM_DIALECT"                 envDefault:"DuckDB (PostgreSQL-compatible)"`
}

// SchemaConfig locates schema documents
type SchemaConfig struct {
	Source    string `json:"source"    env:"SCHEMA_SOURCE"    envDefault:"dir"` // dir, s3
	Directory string `json:"directory" env:"SCHEMA_DIR"       envDefault:"~/.config/askdb/schemas"`
	S3Prefix  string `json:"s3_prefix" env:"SCHEMA_S3_PREFIX" envDefault:"schemas"`
	// CacheDir holds documents fetched from S3; a zero CacheTTL disables the cache
	CacheDir string `json:"cache_dir" env:"SCHEMA_CACHE_DIR" envDefault:"~/.cache/askdb/schemas"`
	CacheTTL string `json:"cache_ttl" env:"SCHEMA_CACHE_TTL" envDefault:"15m"`
}

// RetrievalConfig tunes schema documentation retrieval
type RetrievalConfig struct {
	Enabled   bool    `json:"enabled"   env:"RETRIEVAL_ENABLED"   envDefault:"true"`
	Threshold int     `json:"threshold" env:"RETRIEVAL_THRESHOLD" envDefault:"10"`
	TopK      int     `json:"top_k"     env:"RETRIEVAL_TOP_K"     envDefault:"5"`
	MinScore  float64 `json:"min_score" env:"RETRIEVAL_MIN_SCORE" envDefault:"0.1"`
	K1        float64 `json:"k1"        env:"RETRIEVAL_K1"        envDefault:"1.5"`
	B         float64 `json:"b"         env:"RETRIEVAL_B"         envDefault:"0.75"`
}

// ExecutorConfig describes the read-only target store and its limits
type ExecutorConfig struct {
	Driver       string `json:"driver"         env:"EXEC_DRIVER"         envDefault:"duckdb"` // duckdb, sqlite, postgres
	DataDir      string `json:"data_dir"       env:"EXEC_DATA_DIR"       envDefault:"~/.local/share/askdb/data"`
	DSNTemplate  string `json:"dsn_template"   env:"EXEC_DSN_TEMPLATE"`
	MaxRows      int    `json:"max_rows"       env:"EXEC_MAX_ROWS"       envDefault:"1000"`
	Timeout      string `json:"timeout"        env:"EXEC_TIMEOUT"        envDefault:"30s"`
	MaxOpenConns int    `json:"max_open_conns" env:"EXEC_MAX_OPEN_CONNS" envDefault:"4"`
}

// DialogConfig tunes conversation handling
type DialogConfig struct {
	HistorySize      int `json:"history_size"       env:"DIALOG_HISTORY_SIZE"       envDefault:"10"`
	ShortInputTokens int `json:"short_input_tokens" env:"DIALOG_SHORT_INPUT_TOKENS" envDefault:"5"`
	SampleRows       int `json:"sample_rows"        env:"DIALOG_SAMPLE_ROWS"        envDefault:"5"`
}

// EvaluationConfig tunes the evaluation harness
type EvaluationConfig struct {
	OutputDir   string `json:"output_dir"   env:"EVAL_OUTPUT_DIR"   envDefault:"~/.local/share/askdb/evaluations"`
	Concurrency int    `json:"concurrency"  env:"EVAL_CONCURRENCY"  envDefault:"4"`
	Remote      bool   `json:"remote"       env:"EVAL_REMOTE"       envDefault:"false"`
	S3Prefix    string `json:"s3_prefix"    env:"EVAL_S3_PREFIX"    envDefault:"evaluations"`
	MetricsAddr string `json:"metrics_addr" env:"EVAL_METRICS_ADDR"`
}

// S3Config is shared by the S3 schema store and the remote evaluation sink
type S3Config struct {
	Endpoint        string `json:"endpoint"                    env:"S3_ENDPOINT"`
	Region          string `json:"region"                      env:"S3_REGION"            envDefault:"us-east-1"`
	Bucket          string `json:"bucket"                      env:"S3_BUCKET"`
	AccessKeyID     string `json:"access_key_id,omitempty"     env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `json:"secret_access_key,omitempty" env:"S3_SECRET_ACCESS_KEY"`
	UseSSL          bool   `json:"use_ssl"                     env:"S3_USE_SSL"           envDefault:"true"`
}

// Configured reports whether enough settings are present to reach a bucket
func (c S3Config) Configured() bool {
	return strings.TrimSpace(c.Endpoint) != "" && strings.TrimSpace(c.Bucket) != ""
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `json:"level"      env:"LOG_LEVEL"      envDefault:"info"`   // debug, info, warn, error
	Format    string `json:"format"     env:"LOG_FORMAT"     envDefault:"text"`   // text, json
	Output    string `json:"output"     env:"LOG_OUTPUT"     envDefault:"stderr"` // stdout, stderr, file
	File      string `json:"file"       env:"LOG_FILE"       envDefault:"~/.config/askdb/logs/askdb.log"`
	AddSource bool   `json:"add_source" env:"LOG_ADD_SOURCE" envDefault:"false"`
}

// DebugConfig represents debug configuration
type DebugConfig struct {
	Enabled bool `json:"enabled" env:"DEBUG"   envDefault:"false"`
	Verbose bool `json:"verbose" env:"VERBOSE" envDefault:"false"`
}

// DefaultConfig returns the configuration built from defaults alone
func DefaultConfig() *Config {
	config := &Config{}
	// An empty environment keeps the process environment out of the defaults
	_ = env.ParseWithOptions(config, env.Options{
		Prefix:      EnvPrefix,
		Environment: map[string]string{},
	})

	return config
}

// LoadConfig loads configuration from file, environment variables, and command-line flags
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides loads configuration with optional command-line flag overrides
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	config := DefaultConfig()

	// Load from config file if it exists
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := applyEnvironmentOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if flagOverrides != nil {
		if err := applyFlagOverrides(config, flagOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.ExpandAllPaths()

	return config, nil
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	mergeConfigs(config, &fileConfig)

	return nil
}

// applyEnvironmentOverrides copies every value the environment changes relative to the defaults
func applyEnvironmentOverrides(config *Config) error {
	fromEnv := &Config{}
	if err := env.ParseWithOptions(fromEnv, env.Options{Prefix: EnvPrefix}); err != nil {
		return err
	}

	overlayChanged(
		reflect.ValueOf(config).Elem(),
		reflect.ValueOf(fromEnv).Elem(),
		reflect.ValueOf(DefaultConfig()).Elem(),
	)

	return nil
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]interface{}) error {
	for key, value := range overrides {
		switch key {
		case "schema-dir":
			if str, ok := value.(string); ok && str != "" {
				config.Schema.Directory = str
				config.Schema.Source = "dir"
			}
		case "provider":
			if str, ok := value.(string); ok && str != "" {
				config.LLM.Provider = str
			}
		case "model":
			if str, ok := value.(string); ok && str != "" {
				config.LLM.Model = str
			}
		case "driver":
			if str, ok := value.(string); ok && str != "" {
				config.Executor.Driver = str
			}
		case "data-dir":
			if str, ok := value.(string); ok && str != "" {
				config.Executor.DataDir = str
			}
		case "max-rows":
			if n, ok := value.(int); ok && n > 0 {
				config.Executor.MaxRows = n
			}
		case "concurrency":
			if n, ok := value.(int); ok && n > 0 {
				config.Evaluation.Concurrency = n
			}
		case "metrics-addr":
			if str, ok := value.(string); ok && str != "" {
				config.Evaluation.MetricsAddr = str
			}
		case "no-retrieval":
			if b, ok := value.(bool); ok && b {
				config.Retrieval.Enabled = false
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "verbose":
			if b, ok := value.(bool); ok {
				config.Debug.Verbose = b
			}
		case "debug":
			if b, ok := value.(bool); ok {
				config.Debug.Enabled = b
			}
		default:
			return fmt.Errorf("unknown flag override: %s", key)
		}
	}

	return nil
}

// mergeConfigs merges source configuration into target configuration
func mergeConfigs(target, source *Config) {
	var mergeValues func(t, s reflect.Value)
	mergeValues = func(t, s reflect.Value) {
		if t.Kind() != s.Kind() {
			return
		}

		if t.Kind() == reflect.Struct {
			for i := range s.NumField() {
				mergeValues(t.Field(i), s.Field(i))
			}
		} else if s.Kind() == reflect.Bool {
			t.Set(s)
		} else if !s.IsZero() {
			t.Set(s)
		}
	}

	mergeValues(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem())
}

// overlayChanged sets target fields wherever source differs from base
func overlayChanged(target, source, base reflect.Value) {
	if target.Kind() == reflect.Struct {
		for i := range target.NumField() {
			overlayChanged(target.Field(i), source.Field(i), base.Field(i))
		}

		return
	}

	if !reflect.DeepEqual(source.Interface(), base.Interface()) {
		target.Set(source)
	}
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	validLogOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}
	if !validLogOutputs[strings.ToLower(config.Logging.Output)] {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	validProviders := map[string]bool{
		"openai": true, "anthropic": true, "ollama": true, "gemini": true,
	}
	if !validProviders[config.LLM.Provider] {
		return fmt.Errorf(
			"invalid llm provider: %s (must be openai, anthropic, ollama, or gemini)",
			config.LLM.Provider,
		)
	}

	if config.LLM.FallbackProvider != "" && !validProviders[config.LLM.FallbackProvider] {
		return fmt.Errorf("invalid llm fallback provider: %s", config.LLM.FallbackProvider)
	}

	validDrivers := map[string]bool{
		"duckdb": true, "sqlite": true, "postgres": true,
	}
	if !validDrivers[config.Executor.Driver] {
		return fmt.Errorf(
			"invalid executor driver: %s (must be duckdb, sqlite, or postgres)",
			config.Executor.Driver,
		)
	}

	if config.Schema.Source != "dir" && config.Schema.Source != "s3" {
		return fmt.Errorf("invalid schema source: %s (must be dir or s3)", config.Schema.Source)
	}

	if _, err := time.ParseDuration(config.LLM.Timeout); err != nil {
		return fmt.Errorf("invalid llm timeout: %s", config.LLM.Timeout)
	}

	if _, err := time.ParseDuration(config.Schema.CacheTTL); err != nil {
		return fmt.Errorf("invalid schema cache ttl: %s", config.Schema.CacheTTL)
	}

	if _, err := time.ParseDuration(config.Executor.Timeout); err != nil {
		return fmt.Errorf("invalid executor timeout: %s", config.Executor.Timeout)
	}

	if config.Executor.MaxRows <= 0 {
		return fmt.Errorf("executor max rows must be positive: %d", config.Executor.MaxRows)
	}

	if config.Dialog.HistorySize <= 0 {
		return fmt.Errorf("dialog history size must be positive: %d", config.Dialog.HistorySize)
	}

	if config.Retrieval.Threshold < 1 || config.Retrieval.TopK < 1 {
		return fmt.Errorf(
			"retrieval threshold and top_k must be at least 1: %d, %d",
			config.Retrieval.Threshold,
			config.Retrieval.TopK,
		)
	}

	if config.LLM.RetryAttempts < 0 {
		return fmt.Errorf("llm retry attempts must not be negative: %d", config.LLM.RetryAttempts)
	}

	if config.Evaluation.Concurrency <= 0 {
		return fmt.Errorf("evaluation concurrency must be positive: %d", config.Evaluation.Concurrency)
	}

	return nil
}

// TimeoutDuration returns the parsed LLM timeout
func (c LLMConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 60 * time.Second
	}

	return d
}

// CacheTTLDuration returns the parsed schema cache lifetime
func (c SchemaConfig) CacheTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		return 15 * time.Minute
	}

	return d
}

// TimeoutDuration returns the parsed statement timeout
func (c ExecutorConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}

	return d
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config) error {
	configPath := getConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	if configPath := os.Getenv(EnvPrefix + "CONFIG"); configPath != "" {
		return expandPath(configPath)
	}

	return filepath.Join(GetConfigDir(), "config.json")
}

// expandPath expands ~ to home directory in file paths
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.Schema.Directory = expandPath(c.Schema.Directory)
	c.Schema.CacheDir = expandPath(c.Schema.CacheDir)
	c.Executor.DataDir = expandPath(c.Executor.DataDir)
	c.Evaluation.OutputDir = expandPath(c.Evaluation.OutputDir)
	c.Logging.File = expandPath(c.Logging.File)
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".config/askdb"
	}

	return filepath.Join(homeDir, ".config", "askdb")
}

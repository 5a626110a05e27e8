package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/config"
	apperrors "github.com/kyleking/askdb/internal/errors"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:        "config",
		Usage:       "Display the active configuration",
		Description: `Show the current active configuration including all settings from file, environment variables, and command-line flags.`,
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, _, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}

			return RunConfigWithConfig(cfg)
		},
	}
}

// RunConfigWithConfig prints cfg section by section with secrets masked
func RunConfigWithConfig(cfg *config.Config) error {
	if cfg == nil {
		return apperrors.NewConfigError("failed to load configuration", "")
	}

	out := stdout

	fmt.Fprintln(out, "====================")
	fmt.Fprintln(out, "Active Configuration:")

	fmt.Fprintln(out, "\nLLM:")
	fmt.Fprintf(out, "  Provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(out, "  Model: %s\n", cfg.LLM.Model)
	fmt.Fprintf(out, "  API Key: %s\n", mask(cfg.LLM.APIKey))

	if cfg.LLM.BaseURL != "" {
		fmt.Fprintf(out, "  Base URL: %s\n", cfg.LLM.BaseURL)
	}

	if cfg.LLM.FallbackProvider != "" {
		fmt.Fprintf(out, "  Fallback: %s (%s)\n", cfg.LLM.FallbackProvider, cfg.LLM.FallbackModel)
	}

	fmt.Fprintf(out, "  Timeout: %s\n", cfg.LLM.Timeout)
	fmt.Fprintf(out, "  Max Tokens: %d\n", cfg.LLM.MaxTokens)
	fmt.Fprintf(out, "  Temperatures: generation %.2f, validation %.2f, refinement %.2f\n",
		cfg.LLM.GenerationTemperature, cfg.LLM.ValidationTemperature, cfg.LLM.RefinementTemperature)
	fmt.Fprintf(out, "  Dialect: %s\n", cfg.LLM.Dialect)

	fmt.Fprintln(out, "\nSchema:")
	fmt.Fprintf(out, "  Source: %s\n", cfg.Schema.Source)

	if cfg.Schema.Source == "s3" {
		fmt.Fprintf(out, "  S3 Prefix: %s\n", cfg.Schema.S3Prefix)
		fmt.Fprintf(out, "  Cache: %s (ttl %s)\n", cfg.Schema.CacheDir, cfg.Schema.CacheTTL)
	} else {
		fmt.Fprintf(out, "  Directory: %s\n", cfg.Schema.Directory)
	}

	fmt.Fprintln(out, "\nRetrieval:")
	fmt.Fprintf(out, "  Enabled: %t\n", cfg.Retrieval.Enabled)
	fmt.Fprintf(out, "  Threshold: %d tables\n", cfg.Retrieval.Threshold)
	fmt.Fprintf(out, "  Top K: %d\n", cfg.Retrieval.TopK)
	fmt.Fprintf(out, "  Min Score: %.2f\n", cfg.Retrieval.MinScore)

	fmt.Fprintln(out, "\nExecutor:")
	fmt.Fprintf(out, "  Driver: %s\n", cfg.Executor.Driver)
	fmt.Fprintf(out, "  Data Dir: %s\n", cfg.Executor.DataDir)

	if cfg.Executor.DSNTemplate != "" {
		fmt.Fprintf(out, "  DSN Template: %s\n", cfg.Executor.DSNTemplate)
	}

	fmt.Fprintf(out, "  Max Rows: %d\n", cfg.Executor.MaxRows)
	fmt.Fprintf(out, "  Timeout: %s\n", cfg.Executor.Timeout)

	fmt.Fprintln(out, "\nDialog:")
	fmt.Fprintf(out, "  History Size: %d turns\n", cfg.Dialog.HistorySize)
	fmt.Fprintf(out, "  Short Input: %d tokens\n", cfg.Dialog.ShortInputTokens)

	fmt.Fprintln(out, "\nEvaluation:")
	fmt.Fprintf(out, "  Output Dir: %s\n", cfg.Evaluation.OutputDir)
	fmt.Fprintf(out, "  Concurrency: %d\n", cfg.Evaluation.Concurrency)
	fmt.Fprintf(out, "  Remote: %t\n", cfg.Evaluation.Remote)

	if cfg.Evaluation.MetricsAddr != "" {
		fmt.Fprintf(out, "  Metrics Addr: %s\n", cfg.Evaluation.MetricsAddr)
	}

	fmt.Fprintln(out, "\nS3:")

	if cfg.S3.Configured() {
		fmt.Fprintf(out, "  Endpoint: %s\n", cfg.S3.Endpoint)
		fmt.Fprintf(out, "  Bucket: %s\n", cfg.S3.Bucket)
		fmt.Fprintf(out, "  Region: %s\n", cfg.S3.Region)
		fmt.Fprintf(out, "  Access Key: %s\n", mask(cfg.S3.AccessKeyID))
		fmt.Fprintf(out, "  Secret Key: %s\n", mask(cfg.S3.SecretAccessKey))
		fmt.Fprintf(out, "  Use SSL: %t\n", cfg.S3.UseSSL)
	} else {
		fmt.Fprintln(out, "  (not configured)")
	}

	fmt.Fprintln(out, "\nLogging:")
	fmt.Fprintf(out, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(out, "  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Fprintf(out, "  File: %s\n", cfg.Logging.File)
	}

	fmt.Fprintf(out, "  Add Source: %t\n", cfg.Logging.AddSource)

	fmt.Fprintln(out, "\nDebug:")
	fmt.Fprintf(out, "  Enabled: %t\n", cfg.Debug.Enabled)
	fmt.Fprintf(out, "  Verbose: %t\n", cfg.Debug.Verbose)

	if cfg.Debug.Enabled {
		fmt.Fprintln(out, "\nRaw Configuration (JSON):")
		fmt.Fprintln(out, "==========================")

		masked := *cfg
		masked.LLM.APIKey = mask(cfg.LLM.APIKey)
		masked.LLM.FallbackAPIKey = mask(cfg.LLM.FallbackAPIKey)
		masked.S3.AccessKeyID = mask(cfg.S3.AccessKeyID)
		masked.S3.SecretAccessKey = mask(cfg.S3.SecretAccessKey)

		jsonData, err := json.MarshalIndent(masked, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}

		fmt.Fprintln(out, string(jsonData))
	}

	return nil
}

func mask(secret string) string {
	switch {
	case secret == "":
		return "(unset)"
	case len(secret) <= 4:
		return "****"
	default:
		return "****" + secret[len(secret)-4:]
	}
}

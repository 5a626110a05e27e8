package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/pipeline"
)

var (
	stringOverrides = []string{"schema-dir", "provider", "model", "driver", "data-dir", "log-level"}
	boolOverrides   = []string{"verbose", "debug"}
)

// loadConfig reads file and environment configuration, applies global flags and
// initializes the global logger
func loadConfig(cmd *cli.Command, extra map[string]interface{}) (*config.Config, *logging.Logger, error) {
	overrides := make(map[string]interface{}, len(extra)+len(stringOverrides)+len(boolOverrides)+1)

	for _, name := range stringOverrides {
		if v := cmd.String(name); v != "" {
			overrides[name] = v
		}
	}

	for _, name := range boolOverrides {
		if cmd.Bool(name) {
			overrides[name] = true
		}
	}

	if n := int(cmd.Int("max-rows")); n > 0 {
		overrides["max-rows"] = n
	}

	for k, v := range extra {
		overrides[k] = v
	}

	cfg, err := config.LoadConfigWithOverrides(overrides)
	if err != nil {
		logging.SetupFallbackLogger()
		return nil, logging.GetLogger(), err
	}

	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		logging.SetupFallbackLogger()
		logging.Warnf("failed to initialize logger: %v", err)
	}

	return cfg, logging.GetLogger(), nil
}

// openPipeline loads configuration and assembles every stage
func openPipeline(ctx context.Context, cmd *cli.Command, extra map[string]interface{}) (*config.Config, *pipeline.Built, *logging.Logger, error) {
	cfg, logger, err := loadConfig(cmd, extra)
	if err != nil {
		return nil, nil, logger, err
	}

	built, err := pipeline.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, nil, logger, err
	}

	return cfg, built, logger, nil
}

// withSpinner shows a spinner on stderr while fn runs
func withSpinner(message string, fn func()) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	s.Start()
	defer s.Stop()

	fn()
}

// joinArgs treats every positional argument as one space-separated text
func joinArgs(cmd *cli.Command, what string) (string, error) {
	text := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if text == "" {
		return "", fmt.Errorf("expected a %s argument", what)
	}

	return text, nil
}

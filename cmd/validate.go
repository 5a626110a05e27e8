package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/formatter"
	"github.com/kyleking/askdb/internal/schema"
	"github.com/kyleking/askdb/internal/types"
	"github.com/kyleking/askdb/internal/validator"
)

var errQueryInvalid = errors.New("query failed validation")

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check a hand-written query with the same gate generated queries pass",
		Description: `Run the deterministic safety check and, unless --safety-only is given, the semantic review
against a schema.

Examples:
  askdb validate --safety-only "SELECT * FROM users; DROP TABLE users"
  askdb validate --schema shop "SELECT name FROM customers WHERE country = 'UK'"`,
		ArgsUsage: " <sql>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schema", Aliases: []string{"s"}, Usage: "Schema name (required unless --safety-only)"},
			&cli.BoolFlag{Name: "safety-only", Usage: "Only run the deterministic safety check; no model call"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			query, err := joinArgs(cmd, "query")
			if err != nil {
				return err
			}

			if cmd.Bool("safety-only") {
				return runSafetyCheck(query)
			}

			if cmd.String("schema") == "" {
				return errors.New("--schema is required unless --safety-only is set")
			}

			cfg, built, logger, err := openPipeline(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer built.Close()

			v := validator.New(built.LLM, validator.OptionsFromConfig(cfg), logger)

			return runValidate(ctx, v, built.Loader, cmd.String("schema"), query)
		},
	}
}

// runSafetyCheck runs only the deterministic rules and prints every violation
func runSafetyCheck(query string) error {
	result := validator.New(nil, validator.Options{}, nil).Safety(query)

	if result.SafetyValid {
		fmt.Fprintln(stdout, "Safety: passed")
		return nil
	}

	fmt.Fprintln(stdout, "Safety: rejected")

	for _, violation := range result.Errors {
		fmt.Fprintln(stdout, "  - "+violation)
	}

	return errQueryInvalid
}

func runValidate(ctx context.Context, v *validator.Validator, loader *schema.Loader, schemaName, query string) error {
	loaded := loader.Load(ctx, schemaName)
	if !loaded.Valid() {
		return loaded.Err()
	}

	var result *types.ValidationResult

	withSpinner("validating...", func() {
		result = v.Validate(ctx, query, loaded.Schema)
	})

	fmt.Fprintln(stdout, formatter.NewFormatter().FormatValidation(result))

	if !result.IsValid {
		return errQueryInvalid
	}

	return nil
}

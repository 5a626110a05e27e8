package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/formatter"
	"github.com/kyleking/askdb/internal/pipeline"
	"github.com/kyleking/askdb/internal/schema"
)

func SchemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Inspect schema documents",
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Print a schema's tables, columns and relationships",
				ArgsUsage: " <name>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withSchemaStore(ctx, cmd, func(store schema.Store) error {
						return runSchemaShow(ctx, store, cmd.Args().First())
					})
				},
			},
			{
				Name:      "check",
				Usage:     "Load a schema and report every problem that would reject it",
				ArgsUsage: " <name>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withSchemaStore(ctx, cmd, func(store schema.Store) error {
						return runSchemaCheck(ctx, store, cmd.Args().First())
					})
				},
			},
			{
				Name:  "list",
				Usage: "List the schemas in the configured store",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withSchemaStore(ctx, cmd, func(store schema.Store) error {
						return runSchemaList(ctx, store)
					})
				},
			},
		},
	}
}

func withSchemaStore(_ context.Context, cmd *cli.Command, fn func(schema.Store) error) error {
	cfg, _, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	store, err := pipeline.NewSchemaStore(cfg)
	if err != nil {
		return err
	}

	return fn(store)
}

func runSchemaShow(ctx context.Context, store schema.Store, name string) error {
	loaded := schema.NewLoader(store, nil).Load(ctx, name)
	if !loaded.Valid() {
		return loaded.Err()
	}

	fmt.Fprintln(stdout, formatter.NewFormatter().FormatSchema(loaded.Schema))

	return nil
}

func runSchemaCheck(ctx context.Context, store schema.Store, name string) error {
	loaded := schema.NewLoader(store, nil).Load(ctx, name)
	if loaded.Valid() {
		fmt.Fprintf(stdout, "%s: valid (%d tables, %d relationships, %d documentation chunks)\n",
			name, len(loaded.Schema.Tables), len(loaded.Schema.Relationships), len(loaded.Schema.Chunks))

		return nil
	}

	fmt.Fprintf(stdout, "%s: invalid\n", name)

	for _, problem := range loaded.Errors {
		fmt.Fprintln(stdout, "  - "+problem)
	}

	return loaded.Err()
}

func runSchemaList(ctx context.Context, store schema.Store) error {
	names, err := store.List(ctx)
	if err != nil {
		return err
	}

	if len(names) == 0 {
		fmt.Fprintln(stdout, "No schemas found.")
		return nil
	}

	for _, name := range names {
		fmt.Fprintln(stdout, name)
	}

	return nil
}

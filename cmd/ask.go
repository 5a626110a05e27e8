package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/formatter"
	"github.com/kyleking/askdb/internal/pipeline"
)

func AskCommand() *cli.Command {
	return &cli.Command{
		Name:  "ask",
		Usage: "Answer one question with a validated read-only query",
		Description: `Generate a query for the question, validate it and, with --execute, run it.

Examples:
  askdb ask --schema shop "how many orders were placed last month"
  askdb ask --schema shop --database shop_2024 --execute "top 5 customers by spend"`,
		ArgsUsage: " <question>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schema", Aliases: []string{"s"}, Usage: "Schema name", Required: true},
			&cli.StringFlag{Name: "database", Aliases: []string{"d"}, Usage: "Database name (defaults to the schema name)"},
			&cli.BoolFlag{Name: "no-retrieval", Usage: "Always send the full schema to the model"},
			&cli.BoolFlag{Name: "execute", Aliases: []string{"x"}, Usage: "Run the query once it passes validation"},
			&cli.StringFlag{Name: "format", Usage: "Output format: text or json", Value: "text"},
		},
		Action: runAsk,
	}
}

func runAsk(ctx context.Context, cmd *cli.Command) error {
	question, err := joinArgs(cmd, "question")
	if err != nil {
		return err
	}

	format, err := formatter.ParseOutputFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	_, built, _, err := openPipeline(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer built.Close()

	schemaName := cmd.String("schema")

	loaded := built.Loader.Load(ctx, schemaName)
	if !loaded.Valid() {
		return loaded.Err()
	}

	database := cmd.String("database")
	if database == "" {
		database = schemaName
	}

	req := pipeline.Request{
		Question:      question,
		Schema:        loaded.Schema,
		Database:      database,
		SkipExecution: !cmd.Bool("execute"),
	}

	if cmd.Bool("no-retrieval") {
		off := false
		req.UseRetrieval = &off
	}

	var out *pipeline.Outcome

	withSpinner("thinking...", func() {
		out = built.Run(ctx, req)
	})

	return printOutcome(out, format)
}

// printOutcome writes the outcome and turns a halted request into an error exit
func printOutcome(out *pipeline.Outcome, format formatter.OutputFormat) error {
	fmt.Fprintln(stdout, formatter.NewFormatter().FormatOutcome(out, format))

	if !out.Completed() {
		return fmt.Errorf("request stopped: %s", out.Halt)
	}

	return nil
}

package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

var (
	// stdout and stdin are swapped by tests
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
)

// NewApp builds the askdb command tree
func NewApp() *cli.Command {
	return &cli.Command{
		Name:  "askdb",
		Usage: "Ask questions of a database in plain language, safely",
		Description: `askdb turns natural language questions into read-only SQL. Every query passes a
deterministic safety check and a model-backed semantic review before it runs, and
results are capped in rows and time. Schemas are described by JSON or YAML documents.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schema-dir", Usage: "Directory holding schema documents"},
			&cli.StringFlag{Name: "provider", Usage: "Language model provider (openai, anthropic, ollama, gemini)"},
			&cli.StringFlag{Name: "model", Usage: "Language model name"},
			&cli.StringFlag{Name: "driver", Usage: "Target database driver (duckdb, sqlite, postgres)"},
			&cli.StringFlag{Name: "data-dir", Usage: "Directory holding database files"},
			&cli.IntFlag{Name: "max-rows", Usage: "Maximum rows returned per query"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level (debug, info, warn, error)"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Verbose output"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug mode"},
		},
		Commands: []*cli.Command{
			AskCommand(),
			ChatCommand(),
			ValidateCommand(),
			SchemaCommand(),
			EvalCommand(),
			ConfigCommand(),
		},
	}
}

// Execute runs the CLI until it finishes or the process is interrupted
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewApp().Run(ctx, os.Args)
}

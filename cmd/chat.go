package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/dialog"
	"github.com/kyleking/askdb/internal/formatter"
	"github.com/kyleking/askdb/internal/pipeline"
)

const chatHelp = `Type a question, or a follow-up such as "only the first 10" to refine the last query.
Say "start over" to forget the active query.
Commands: \history  \query  \help  \quit`

func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:        "chat",
		Usage:       "Start an interactive session that refines queries across turns",
		Description: `Open a conversation against one schema. Follow-up inputs are classified as refinements of the active query or as new questions.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schema", Aliases: []string{"s"}, Usage: "Schema name", Required: true},
			&cli.StringFlag{Name: "database", Aliases: []string{"d"}, Usage: "Database name (defaults to the schema name)"},
			&cli.StringFlag{Name: "format", Usage: "Output format: text or json", Value: "text"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			format, err := formatter.ParseOutputFormat(cmd.String("format"))
			if err != nil {
				return err
			}

			_, built, _, err := openPipeline(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer built.Close()

			session, err := built.Open(ctx, cmd.String("schema"), cmd.String("database"))
			if err != nil {
				return err
			}
			defer built.Pipeline.Close(session.ID())

			return runChat(ctx, session, stdin, stdout, format, true)
		},
	}
}

// runChat reads inputs line by line until EOF, \quit or cancellation
func runChat(ctx context.Context, session *pipeline.Session, in io.Reader, out io.Writer, format formatter.OutputFormat, spin bool) error {
	f := formatter.NewFormatter()
	scanner := bufio.NewScanner(in)

	fmt.Fprintf(out, "Connected to %s (schema %s). \\help for help.\n", session.Database(), session.Schema().Name)

	for {
		fmt.Fprint(out, "askdb> ")

		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())

		switch line {
		case `\q`, `\quit`, "exit", "quit":
			return nil
		case `\help`, `\h`:
			fmt.Fprintln(out, chatHelp)
			continue
		case `\history`:
			printHistory(out, session)
			continue
		case `\query`:
			printActiveQuery(out, session)
			continue
		}

		var (
			outcome *pipeline.Outcome
			err     error
		)

		ask := func() { outcome, err = session.Ask(ctx, line) }
		if spin {
			withSpinner("thinking...", ask)
		} else {
			ask()
		}

		switch {
		case errors.Is(err, dialog.ErrEmptyInput):
			continue
		case err != nil:
			return err
		}

		fmt.Fprintln(out, f.FormatOutcome(outcome, format))

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func printHistory(out io.Writer, session *pipeline.Session) {
	state := session.State()
	if len(state.Turns) == 0 {
		fmt.Fprintln(out, "No turns yet.")
		return
	}

	for i, turn := range state.Turns {
		query := "-"
		if turn.Result != nil && turn.Result.Query != "" {
			query = turn.Result.Query
			if turn.Result.Rejected {
				query += " (rejected)"
			}
		}

		fmt.Fprintf(out, "%2d. [%s] %s\n    %s\n", i+1, turn.Intent, turn.UserInput, query)
	}
}

func printActiveQuery(out io.Writer, session *pipeline.Session) {
	state := session.State()
	if state.CurrentQuery == "" {
		fmt.Fprintln(out, "No active query.")
		return
	}

	fmt.Fprintln(out, state.CurrentQuery)
}

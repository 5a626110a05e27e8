package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/askdb/internal/evaluation"
	"github.com/kyleking/askdb/internal/formatter"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/monitor"
)

var errThresholdsMissed = errors.New("evaluation thresholds not met")

func EvalCommand() *cli.Command {
	return &cli.Command{
		Name:  "eval",
		Usage: "Score the pipeline against a suite of test cases",
		Description: `Run every case of a YAML suite through the pipeline, score it, and write one JSON record
of the run locally or to S3. Exits non-zero when a threshold is missed.

Examples:
  askdb eval suites/shop.yaml
  askdb eval --concurrency 8 --metrics-addr :9090 suites/shop.yaml`,
		ArgsUsage: " <suite.yaml>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "concurrency", Aliases: []string{"c"}, Usage: "Cases evaluated at once"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address while running"},
			&cli.StringFlag{Name: "format", Usage: "Output format: text or json", Value: "text"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected exactly 1 argument, got %d", cmd.Args().Len())
			}

			format, err := formatter.ParseOutputFormat(cmd.String("format"))
			if err != nil {
				return err
			}

			suite, err := evaluation.LoadSuite(cmd.Args().First())
			if err != nil {
				return err
			}

			extra := map[string]interface{}{
				"concurrency":  int(cmd.Int("concurrency")),
				"metrics-addr": cmd.String("metrics-addr"),
			}

			cfg, built, logger, err := openPipeline(ctx, cmd, extra)
			if err != nil {
				return err
			}
			defer built.Close()

			if cfg.Evaluation.MetricsAddr != "" {
				stop, err := serveMetrics(cfg.Evaluation.MetricsAddr, logger)
				if err != nil {
					return err
				}
				defer stop()
			}

			runner := evaluation.NewRunner(built.Pipeline, built.Loader, cfg.Evaluation.Concurrency, logger)
			agg := evaluation.NewAggregator(suite.Name, evaluation.NewSinkFromConfig(cfg, logger), logger)

			run, err := runner.Run(ctx, suite, agg)
			if run != nil {
				fmt.Fprintln(stdout, formatter.NewFormatter().FormatSummary(run, format))
			}

			if err != nil {
				return err
			}

			if !run.Summary.ThresholdsMet {
				return errThresholdsMissed
			}

			return nil
		},
	}
}

// serveMetrics exposes /metrics until the returned stop function is called
func serveMetrics(addr string, logger *logging.Logger) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", monitor.Handler())

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorWithErr("metrics server stopped", err)
		}
	}()

	logger.Infof("serving metrics on http://%s/metrics", listener.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = server.Shutdown(ctx)
	}, nil
}

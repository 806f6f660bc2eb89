// Command csvconf configures column types and coordinate roles of tabular
// files and persists them in a ".csvt" sidecar next to the source.
//
// Usage:
//
//	csvconf inspect points.csv
//	csvconf set-type points.csv code Integer
//	csvconf set-role points.csv lat y
//	csvconf clear-type points.csv code
//	csvconf load points.csv --table staging.points
//	csvconf watch points.csv
//
// Columns are named by zero-based index or by header name. Every edit is
// written to the sidecar immediately.
//
// # Configuration
//
// --config points to a YAML file (see internal/config). Without it the
// defaults apply. CSVCONF_DSN overrides the storage DSN. --log-level and
// --json-logs override the logging section when given.
//
// # Exit codes
//
//   - 0: success
//   - 1: any error (message on stderr)
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/spf13/cobra"

	"csvconf/internal/config"
	_ "csvconf/internal/datasource/csvfile"
	_ "csvconf/internal/datasource/htmltable"
	_ "csvconf/internal/datasource/jsonfile"
	_ "csvconf/internal/datasource/parquetfile"
	"csvconf/internal/logging"
	"csvconf/internal/metrics"
	"csvconf/internal/metrics/datadog"
	"csvconf/internal/metrics/prompush"
	"csvconf/internal/numfmt"
	"csvconf/internal/session"
	_ "csvconf/internal/storage/mssql"
	_ "csvconf/internal/storage/postgres"
	_ "csvconf/internal/storage/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "csvconf: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are the persistent flags shared by all subcommands.
type globalFlags struct {
	configPath string
	logLevel   string
	jsonLogs   bool
}

// app is the per-invocation wiring built from config and flags.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	metrics metrics.Backend
	numbers numfmt.Policy
	out     io.Writer

	closeMetrics func() error
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:           "csvconf",
		Short:         "Configure column types and coordinate roles of tabular files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	pf.BoolVar(&g.jsonLogs, "json-logs", false, "log JSON instead of text (overrides config)")

	root.AddCommand(
		newInspectCmd(&g),
		newSetTypeCmd(&g),
		newSetRoleCmd(&g),
		newClearTypeCmd(&g),
		newLoadCmd(&g),
		newWatchCmd(&g),
	)
	return root
}

// runWith builds the app for cmd, runs fn and always closes the metrics
// backend so buffered metrics are flushed even when fn fails.
func runWith(g *globalFlags, fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, g)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.closeMetrics(); cerr != nil {
				a.log.Warn("flush metrics", "err", cerr)
			}
		}()
		return fn(cmd.Context(), a, args)
	}
}

func newApp(cmd *cobra.Command, g *globalFlags) (*app, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = g.logLevel
	}
	if cmd.Flags().Changed("json-logs") {
		cfg.Logging.JSON = g.jsonLogs
	}
	log, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		JSON:   cfg.Logging.JSON,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	numbers, err := cfg.NumberPolicy()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:          cfg,
		log:          log.With("command", cmd.Name()),
		metrics:      metrics.Nop{},
		numbers:      numbers,
		out:          cmd.OutOrStdout(),
		closeMetrics: func() error { return nil },
	}
	if err := a.setupMetrics(cmd.Context()); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) setupMetrics(ctx context.Context) error {
	mc := a.cfg.Metrics
	switch mc.Backend {
	case "datadog":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    mc.Job,
			Tags:       datadog.ParseTagsCSV(mc.Tags),
			FlushEvery: mc.FlushEvery,
		})
		if err != nil {
			return err
		}
		a.metrics, a.closeMetrics = b, b.Close
	case "prompush":
		b, err := prompush.New(prompush.Options{URL: mc.PushURL, Job: mc.Job})
		if err != nil {
			return err
		}
		a.metrics, a.closeMetrics = b, b.Close
	}
	a.log.Debug("metrics backend", "backend", mc.Backend)
	return nil
}

// controller returns a session controller bound to the app's config.
func (a *app) controller() *session.Controller {
	return session.New(session.Options{
		Source:  a.cfg.SourceOptions(a.numbers),
		Logger:  a.log,
		Metrics: a.metrics,
		Numbers: a.numbers,
		MaxRows: a.cfg.Preview.MaxRows,
	})
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func exactArgs(n int, names ...string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%s: want %d argument(s) <%s>, got %d", cmd.Name(), n, strings.Join(names, "> <"), len(args))
		}
		return nil
	}
}

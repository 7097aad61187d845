package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/target/mmk-export-api/config"
	"github.com/target/mmk-export-api/internal/bootstrap"
	"github.com/target/mmk-export-api/internal/core"
	"github.com/target/mmk-export-api/internal/domain/model"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Out    io.Writer

	// Exporter and Publisher replace the search and storage clients when set.
	Exporter  core.ScrollExporter
	Publisher core.ObjectPublisher
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 2 * time.Minute
	defaultSubmitTimeout    = time.Hour
)

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stderr); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmdCtx := &commandContext{
		Ctx:    ctx,
		Logger: logger,
		Config: cfg,
		Out:    os.Stdout,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		stop()
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Apply the ledger schema for the configured driver",
			run:         runMigrations,
		},
		"status": {
			name:        "status",
			description: "Resolve a search job for an owner, refreshing an expired download link",
			run:         runStatus,
		},
		"submit": {
			name:        "submit",
			description: "Submit a query file for an owner and wait for the export to finish",
			run:         runSubmit,
		},
		"stats": {
			name:        "stats",
			description: "Count ledger rows per status",
			run:         runStats,
		},
		"reap": {
			name:        "reap",
			description: "Run one reaper pass: fail abandoned exports and delete old rows",
			run:         runReap,
		},
	}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: export-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	names := make([]string, 0, len(commands()))
	for name := range commands() {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(w, "  %-10s %s\n", name, commands()[name].description); err != nil {
			return err
		}
	}
	return nil
}

type migrateOptions struct {
	Timeout time.Duration
}

type statusOptions struct {
	Owner  string
	Handle string
}

type submitOptions struct {
	Owner     string
	Handle    string
	QueryFile string
	Timeout   time.Duration
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	db, dialect, err := openLedger(cmdCtx)
	if err != nil {
		return err
	}
	defer closeLedger(cmdCtx, db)

	cmdCtx.Logger.Info("running database migrations", "dialect", string(dialect))
	if migrateErr := bootstrap.RunMigrations(ctx, db, dialect, cmdCtx.Logger); migrateErr != nil {
		return migrateErr
	}
	return writeln(cmdCtx.Out, "migrations applied")
}

func runStatus(cmdCtx *commandContext, args []string) error {
	opts, err := parseStatusFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	rt, err := openRuntime(ctx, cmdCtx)
	if err != nil {
		return err
	}
	defer rt.Close(cmdCtx)

	job, err := rt.services.Status.Get(ctx, opts.Owner, opts.Handle)
	if err != nil {
		return fmt.Errorf("resolve search job: %w", err)
	}
	return printJob(cmdCtx.Out, job)
}

func runSubmit(cmdCtx *commandContext, args []string) error {
	opts, err := parseSubmitFlags(args)
	if err != nil {
		return err
	}

	query, err := os.ReadFile(opts.QueryFile)
	if err != nil {
		return fmt.Errorf("read query file: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	rt, err := openRuntime(ctx, cmdCtx)
	if err != nil {
		return err
	}
	defer rt.Close(cmdCtx)

	res, err := rt.services.Submit.Submit(ctx, model.SubmitRequest{
		Query:  query,
		Handle: opts.Handle,
		Owner:  opts.Owner,
	})
	if err != nil {
		return fmt.Errorf("submit search job: %w", err)
	}
	cmdCtx.Logger.Info("search job submitted",
		"job_handle", res.JobHandle,
		"fingerprint", res.Fingerprint,
		"outcome", string(res.Outcome),
	)

	// A fresh export runs in this process; wait for it before reporting.
	if drainErr := rt.services.Pipeline.Drain(ctx); drainErr != nil {
		return drainErr
	}

	job, err := rt.services.Status.Get(ctx, opts.Owner, res.JobHandle)
	if err != nil {
		return fmt.Errorf("resolve search job: %w", err)
	}
	return printJob(cmdCtx.Out, job)
}

func runStats(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, dialect, err := openLedger(cmdCtx)
	if err != nil {
		return err
	}
	defer closeLedger(cmdCtx, db)

	counts, err := newLedger(db, dialect, cmdCtx).CountByStatus(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmdCtx.Out, 0, 4, 2, ' ', 0)
	if err := writef(tw, "STATUS\tCOUNT\n"); err != nil {
		return err
	}
	for _, status := range []model.SearchJobStatus{
		model.SearchJobStatusRunning,
		model.SearchJobStatusComplete,
		model.SearchJobStatusError,
	} {
		if err := writef(tw, "%s\t%d\n", status, counts[status]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runReap(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, dialect, err := openLedger(cmdCtx)
	if err != nil {
		return err
	}
	defer closeLedger(cmdCtx, db)

	reaper, err := newReaper(db, dialect, cmdCtx)
	if err != nil {
		return err
	}
	if err := reaper.RunOnce(ctx); err != nil {
		return err
	}
	return writeln(cmdCtx.Out, "reaper pass complete")
}

func printJob(w io.Writer, job *model.SearchJob) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(job); err != nil {
		return fmt.Errorf("print search job: %w", err)
	}
	return nil
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration to wait for migrations to complete")

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseStatusFlags(args []string) (statusOptions, error) {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts statusOptions
	fs.StringVar(&opts.Owner, "owner", "", "Owner identity the job belongs to (required)")
	fs.StringVar(&opts.Handle, "handle", "", "Job handle to resolve (required)")

	if err := fs.Parse(args); err != nil {
		return statusOptions{}, err
	}
	if opts.Owner == "" || opts.Handle == "" {
		return statusOptions{}, errors.New("--owner and --handle are required")
	}
	return opts, nil
}

func parseSubmitFlags(args []string) (submitOptions, error) {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts submitOptions
	fs.StringVar(&opts.Owner, "owner", "", "Owner identity to submit as (required)")
	fs.StringVar(&opts.Handle, "handle", "", "Requested job handle; a UUID is generated when empty")
	fs.StringVar(&opts.QueryFile, "query", "", "Path to a JSON query file (required)")
	fs.DurationVar(&opts.Timeout, "timeout", defaultSubmitTimeout, "Maximum duration to wait for the export")

	if err := fs.Parse(args); err != nil {
		return submitOptions{}, err
	}
	if opts.Owner == "" || opts.QueryFile == "" {
		return submitOptions{}, errors.New("--owner and --query are required")
	}
	if opts.Timeout <= 0 {
		return submitOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}

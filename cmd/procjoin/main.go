package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/seantiz/procjoin/internal/api"
	"github.com/seantiz/procjoin/internal/backend"
	"github.com/seantiz/procjoin/internal/backend/inproc"
	"github.com/seantiz/procjoin/internal/backend/subprocess"
	"github.com/seantiz/procjoin/internal/config"
	"github.com/seantiz/procjoin/internal/launcher"
	"github.com/seantiz/procjoin/internal/model"
	"github.com/seantiz/procjoin/internal/store"
	"github.com/seantiz/procjoin/internal/work"
)

var version = "dev"

func main() {
	// Child processes spawned by the subprocess backend re-enter here and
	// exit without reaching flag parsing.
	subprocess.RunChildIfRequested()

	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options holds the parsed command line.
type options struct {
	count    int
	backend  string
	plan     string
	serve    bool
	version  bool
	logLevel string
}

func parseFlags(args []string, stderr io.Writer) (options, *flag.FlagSet, error) {
	var opts options

	fs := flag.NewFlagSet("procjoin", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVarP(&opts.count, "count", "n", work.DefaultCount, "Number of execution contexts to spawn")
	fs.StringVarP(&opts.backend, "backend", "b", "", "Backend: inproc, subprocess, auto (overrides PROCJOIN_BACKEND)")
	fs.StringVarP(&opts.plan, "plan", "f", "", "YAML launch plan")
	fs.BoolVar(&opts.serve, "serve", false, "Run the HTTP API instead of a single run")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides PROCJOIN_LOG_LEVEL)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `procjoin - spawn execution contexts, start them, join them

Usage:
  procjoin                 Run two contexts of "sleep 100ms, return 42" and exit
  procjoin --plan FILE     Run the launch plan in FILE
  procjoin --serve         Run the HTTP API

Flags:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return options{}, fs, err
	}
	return opts, fs, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, fs, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "procjoin: %v\n", err)
		fs.Usage()
		return 2
	}

	if opts.version {
		fmt.Fprintf(stdout, "procjoin %s\n", version)
		return 0
	}

	cfg := config.Load()
	if opts.logLevel != "" {
		cfg.LogLevel = config.ParseLogLevel(opts.logLevel)
	}
	logger := config.NewLogger(stderr, cfg.LogLevel)

	// The ledger lives only for the lifetime of this process.
	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		return 1
	}
	defer db.Close()

	reg, err := newRegistry(cfg.Backend, logger)
	if err != nil {
		logger.Error("failed to set up backends", "error", err)
		return 1
	}
	l := launcher.New(db, reg, logger)

	if opts.serve {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("procjoin: starting", "listen_addr", cfg.ListenAddr, "backend", cfg.Backend)
		srv := api.NewServer(cfg.ListenAddr, db, reg, l, logger)
		if err := srv.Run(ctx); err != nil {
			logger.Error("server error", "error", err)
			return 1
		}
		return 0
	}

	spec, err := buildSpec(opts, fs)
	if err != nil {
		logger.Error("invalid launch plan", "error", err)
		return 1
	}

	if _, err := l.Run(context.Background(), spec); err != nil {
		logger.Error("run failed", "error", err)
		return 1
	}
	return 0
}

// newRegistry registers every backend, with defaultName as the target of
// "auto".
func newRegistry(defaultName string, logger *slog.Logger) (*backend.Registry, error) {
	reg := backend.NewRegistry(defaultName)
	reg.Register(model.BackendInproc, inproc.New(logger))

	sp, err := subprocess.New(subprocess.Config{}, logger)
	if err != nil {
		return nil, err
	}
	reg.Register(model.BackendSubprocess, sp)

	return reg, nil
}

// buildSpec starts from the plan file (or the canonical plan) and applies
// explicitly set flags on top.
func buildSpec(opts options, fs *flag.FlagSet) (launcher.RunSpec, error) {
	plan := work.DefaultPlan()
	if opts.plan != "" {
		p, err := work.LoadPlan(opts.plan)
		if err != nil {
			return launcher.RunSpec{}, err
		}
		plan = p
	}

	if fs.Changed("count") {
		plan.Count = opts.count
	}
	if fs.Changed("backend") {
		plan.Backend = opts.backend
	}
	if err := plan.Validate(); err != nil {
		return launcher.RunSpec{}, err
	}

	return launcher.RunSpec{
		Unit:    plan.Unit,
		Count:   plan.Count,
		Backend: plan.Backend,
	}, nil
}

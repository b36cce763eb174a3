// Command workassign allocates dated tasks to workers and reports the
// resulting hours.
//
//	workassign [-config file] serve
//	workassign [-config file] allocate
//	workassign [-config file] report [-format json|csv]
//	workassign [-config file] load (-fixture name | -file path)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"workassign/internal/adapters/httpapi"
	"workassign/internal/adapters/reports"
	"workassign/internal/blob"
	"workassign/internal/config"
	"workassign/internal/core"
	"workassign/internal/fixtures"
	"workassign/internal/logger"
)

var errUsage = errors.New("usage")

func main() {
	os.Exit(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("workassign", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		usage(stderr)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	var run func(context.Context, *app, []string, io.Writer) error
	switch rest[0] {
	case "serve":
		run = serve
	case "allocate":
		run = allocate
	case "report":
		run = printReport
	case "load":
		run = load
	default:
		usage(stderr)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer a.close()

	if err := run(ctx, a, rest[1:], stdout); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			return 2
		}
		a.log.Error("command failed", "command", rest[0], "error", err)
		fmt.Fprintf(stderr, "%s: %v\n", rest[0], err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: workassign [-config file] <serve|allocate|report|load> [flags]")
}

type app struct {
	cfg      config.Config
	log      *logger.Logger
	store    core.PersistentStore
	service  *core.Service
	registry *prometheus.Registry
	trace    io.Closer
}

func openApp(cfg config.Config) (*app, error) {
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	engine := core.NewDefaultRulesEngine(cfg.Allocation.DailyCapacityHours)
	store, err := core.OpenPersistentStore(cfg.Storage, engine)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		_ = core.CloseStore(store)
		return nil, fmt.Errorf("metrics: %w", err)
	}

	opts := []core.Option{
		core.WithLogger(log.With("component", "service")),
		core.WithAuditRecorder(core.LogAuditRecorder{Logger: log.With("component", "audit")}),
		core.WithMetricsRecorder(metrics),
		core.WithDailyCapacity(cfg.Allocation.DailyCapacityHours),
	}
	var trace io.Closer
	if cfg.Log.TracePath != "" {
		f, err := os.OpenFile(cfg.Log.TracePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			_ = core.CloseStore(store)
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		trace = f
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f)))
	}

	svc := core.NewService(store, opts...)
	return &app{cfg: cfg, log: log, store: store, service: svc, registry: registry, trace: trace}, nil
}

func (a *app) close() {
	if err := core.CloseStore(a.store); err != nil {
		a.log.Warn("close store", "error", err)
	}
	if a.trace != nil {
		if err := a.trace.Close(); err != nil {
			a.log.Warn("close trace file", "error", err)
		}
	}
	a.log.Sync()
}

func serve(ctx context.Context, a *app, args []string, _ io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", a.cfg.HTTP.Addr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	artifacts, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	worker := reports.NewWorker(a.service, artifacts,
		reports.WithLogger(a.log.With("component", "exports")),
		reports.WithAuditRecorder(core.LogAuditRecorder{Logger: a.log.With("component", "audit")}),
	)
	worker.Start()

	srv := &http.Server{
		Addr: *addr,
		Handler: httpapi.NewRouter(httpapi.RouterConfig{
			Service:  a.service,
			Exports:  worker,
			Logger:   a.log.With("component", "http"),
			Gatherer: a.registry,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", "addr", *addr, "storage", a.cfg.Storage.Driver, "blob", artifacts.Driver())
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", "error", err)
	}
	if err := worker.Stop(shutdownCtx); err != nil {
		a.log.Warn("export worker shutdown", "error", err)
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

func allocate(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("allocate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	res, err := a.service.Allocate(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Auto-allocation done")
	fmt.Fprintf(stdout, "Placed tasks:     %d\n", res.Placed)
	fmt.Fprintf(stdout, "Unplaced tasks:   %d\n", res.Unplaced)
	fmt.Fprintf(stdout, "Avg daily utilisation: %.2f%%\n", res.AverageUtilization*100)
	fmt.Fprintf(stdout, "Worker-day hours stddev: %.2f\n", res.UtilizationStdDev())
	for _, v := range res.Rules.Warnings() {
		fmt.Fprintf(stdout, "warning [%s]: %s\n", v.Rule, v.Message)
	}
	return nil
}

func printReport(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	format := fs.String("format", "json", "output format: json or csv")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rep, err := a.service.BuildReport(ctx)
	if err != nil {
		return err
	}
	switch strings.ToLower(*format) {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "csv":
		return rep.WriteCSV(stdout)
	default:
		return fmt.Errorf("unknown format %q: %w", *format, errUsage)
	}
}

func load(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	name := fs.String("fixture", "", "embedded dataset: "+strings.Join(fixtures.Names(), ", "))
	path := fs.String("file", "", "YAML or JSON dataset file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		ds  fixtures.Dataset
		err error
	)
	switch {
	case *name != "" && *path == "":
		ds, err = fixtures.Named(*name)
	case *path != "" && *name == "":
		ds, err = fixtures.LoadFile(*path)
	default:
		return fmt.Errorf("exactly one of -fixture or -file is required: %w", errUsage)
	}
	if err != nil {
		return err
	}
	summary, res, err := a.service.LoadDataset(ctx, ds)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Data successfully loaded: %d positions, %d workers, %d tasks, %d assignments\n",
		summary.Positions, summary.Workers, summary.Tasks, summary.Assignments)
	for _, v := range res.Warnings() {
		fmt.Fprintf(stdout, "warning [%s]: %s\n", v.Rule, v.Message)
	}
	return nil
}

// Command ingest reads a CSV of users and prints one JSON result per row,
// dispatches the valid rows to PostgreSQL, or serves both over HTTP.
//
//	ingest [flags] <file>
//	ingest -dispatch [flags] <file>
//	ingest -serve
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/ingest/internal/config"
	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/JonMunkholm/ingest/internal/csv"
	"github.com/JonMunkholm/ingest/internal/logging"
	"github.com/JonMunkholm/ingest/internal/sink"
	"github.com/JonMunkholm/ingest/internal/web"
	"github.com/joho/godotenv"
)

const (
	exitOK    = 0
	exitFault = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type flags struct {
	dispatch  bool
	serve     bool
	failedOut string
	envFile   string
}

// run is main without the process exit. Only configuration and open
// faults return exitFault; rejected rows and callback failures are data.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fset := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fset.SetOutput(stderr)

	var f flags
	fset.BoolVar(&f.dispatch, "dispatch", false, "run each valid record through the sink in concurrent batches and print the report")
	fset.BoolVar(&f.serve, "serve", false, "serve the HTTP API instead of reading a file")
	fset.StringVar(&f.failedOut, "failed-out", "", "directory for a \"<name> - failed.csv\" report of rejected rows")
	fset.StringVar(&f.envFile, "env", ".env", "dotenv file loaded over the environment (ignored if missing)")
	fset.Usage = func() {
		fmt.Fprintln(stderr, "usage: ingest [-dispatch] [-failed-out dir] [-env file] <file>")
		fmt.Fprintln(stderr, "       ingest -serve [-env file]")
		fset.PrintDefaults()
	}
	if err := fset.Parse(args); err != nil {
		return exitUsage
	}
	if !f.serve && fset.NArg() != 1 {
		fset.Usage()
		return exitUsage
	}

	if f.envFile != "" {
		if err := godotenv.Overload(f.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(stderr, "load %s: %v\n", f.envFile, err)
			return exitFault
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFault
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, stderr)
	logger.Debug("configuration loaded", "config", cfg.String())

	pipeline, err := core.New(core.UserSchema, pipelineOptions(cfg.Ingest), logger)
	if err != nil {
		logger.Error("invalid pipeline options", "error", err)
		return exitFault
	}

	if f.serve {
		return serve(ctx, cfg, pipeline, logger)
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Ingest.Timeout)
	defer cancel()

	path := fset.Arg(0)
	if f.failedOut != "" {
		report, err := csv.CreateFailedRowWriter(csv.FailedRowsPath(f.failedOut, path), pipeline.Columns())
		if err != nil {
			logger.Error("create failed-row report", "error", err)
			return exitFault
		}
		defer closeReport(report, logger)
		pipeline.OnReject(func(info *core.ErrorInfo) {
			if err := report.Write(info.Error(), csv.ParseLine(info.Raw)); err != nil {
				logger.Warn("write failed row", "line", info.Line, "error", err)
			}
		})
	}

	if f.dispatch {
		handler, closeSink, err := openSink(runCtx, cfg.Database, logger)
		if err != nil {
			logger.Error("open sink", "error", err, "hint", core.FormatUserError(err))
			return exitFault
		}
		defer closeSink()
		return dispatchFile(runCtx, pipeline, path, handler, stdout, logger)
	}
	return processFile(runCtx, pipeline, path, stdout, logger)
}

func pipelineOptions(c config.IngestConfig) core.Options {
	return core.Options{
		SkipHeader:   c.SkipHeader,
		BatchSize:    c.BatchSize,
		MaxLineBytes: c.MaxLineBytes,
		MaxInFlight:  c.MaxInFlight,
		Validate:     c.Validate,
	}
}

// processFile writes one NDJSON result per body line to stdout.
func processFile(ctx context.Context, p *core.Pipeline[core.User], path string, stdout io.Writer, logger *slog.Logger) int {
	results, err := p.Process(ctx, path)
	if err != nil {
		logger.Error("open failed", "path", path, "error", err, "hint", core.FormatUserError(err))
		return exitFault
	}

	out := bufio.NewWriter(stdout)
	enc := json.NewEncoder(out)

	var ok, failed int
	for res := range results {
		if err := enc.Encode(res); err != nil {
			logger.Error("write result", "error", err)
			break
		}
		if res.OK() {
			ok++
		} else {
			failed++
		}
	}
	if err := out.Flush(); err != nil {
		logger.Error("flush results", "error", err)
	}

	logger.Info("ingest finished", "path", path, "ok", ok, "failed", failed)
	return exitOK
}

// dispatchFile runs handler for every valid record and prints the report.
func dispatchFile(ctx context.Context, p *core.Pipeline[core.User], path string, handler core.Handler[core.User], stdout io.Writer, logger *slog.Logger) int {
	report, err := p.Dispatch(ctx, path, handler)
	if err != nil {
		logger.Error("open failed", "path", path, "error", err, "hint", core.FormatUserError(err))
		return exitFault
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Error("write report", "error", err)
	}
	return exitOK
}

// openSink returns the PostgreSQL insert handler when a database is
// configured and a logging handler otherwise.
func openSink(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (core.Handler[core.User], func(), error) {
	if !cfg.Enabled() {
		logger.Info("no DATABASE_URL set, dispatched records are only logged")
		return func(_ context.Context, u core.User) error {
			logger.Debug("record dispatched", "id", u.ID, "email", u.Email)
			return nil
		}, func() {}, nil
	}

	pool, err := sink.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := sink.NewUserStore(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := store.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	logger.Info("connected to database", "table", store.Table())
	return store.Insert, pool.Close, nil
}

func serve(ctx context.Context, cfg *config.Config, p *core.Pipeline[core.User], logger *slog.Logger) int {
	handler, closeSink, err := openSink(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("open sink", "error", err)
		return exitFault
	}
	defer closeSink()

	limiter := core.NewRunLimiter(cfg.Ingest.MaxConcurrent, cfg.Ingest.MaxWaitTime)
	server := web.NewServer(p, handler, limiter, cfg.Server, cfg.Ingest.Timeout)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if active := limiter.ActiveCount(); active > 0 {
			logger.Info("waiting for runs to complete", "active", active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				logger.Warn("runs did not complete in time", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		return exitFault
	}
	logger.Info("server stopped")
	return exitOK
}

func closeReport(report *csv.FailedRowWriter, logger *slog.Logger) {
	rows := report.Rows()
	if err := report.Close(); err != nil {
		logger.Error("close failed-row report", "error", err)
		return
	}
	if rows > 0 {
		logger.Info("failed rows written", "path", report.Path(), "rows", rows)
	}
}

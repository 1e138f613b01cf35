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
	"syscall"

	"github.com/wilhg/changeverify/internal/backend"
	"github.com/wilhg/changeverify/internal/config"
	"github.com/wilhg/changeverify/pkg/otel"
	"github.com/wilhg/changeverify/pkg/verify"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one verification pass. It returns 1 only when the source
// cannot be prepared; scenario failures are reported, not fatal.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 2
	}
	if cfg.ShowVersion {
		fmt.Fprintf(stdout, "changeverify %s (commit=%s, date=%s)\n", version, commit, date)
		return 0
	}

	logger := newLogger(cfg.LogFormat, stderr)
	slog.SetDefault(logger)

	shutdown, err := otel.Init(ctx, otel.Config{ServiceVersion: version, UseStdout: cfg.TraceStdout, Writer: stderr})
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		return 1
	}
	defer func() { _ = shutdown(context.Background()) }()

	src, err := backend.Open(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to event source", "target", backend.Redact(cfg.Target), "error", err)
		return 1
	}
	defer src.Close()

	runner := verify.NewRunner(src,
		verify.WithIterations(cfg.Iterations),
		verify.WithDisconnectDuration(cfg.DisconnectDuration()),
		verify.WithEventTimeout(cfg.EventTimeout),
		verify.WithLogger(logger),
	)
	res, err := runner.RunAll(ctx)
	if err != nil {
		logger.Error("Setup failed", "error", err)
		return 1
	}

	logger.Info("Test results", verify.ScenarioResumeToken, res.ResumeTokenTest)
	logger.Info("Test results", verify.ScenarioDurability, res.DurabilityTest)
	logger.Info("All tests complete", "passed", res.Passed())

	if cfg.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			logger.Error("write report", "error", err)
			return 1
		}
	}
	return 0
}

func newLogger(format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if format == config.LogFormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

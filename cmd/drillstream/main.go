// Package main runs drillstream: it subscribes to drilling sensor telemetry
// on a message bus, stores every reading, raises incidents when a reading
// breaks its threshold limit and streams both to websocket clients.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	_ "time/tzdata" // ingest.timezone must resolve in minimal containers

	"github.com/Kent0008/breakers-nurik/config"
	"github.com/Kent0008/breakers-nurik/service"
)

// Build information
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "drillstream"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		stop()
		os.Exit(1)
	}
}

// run blocks until ctx is cancelled or start-up fails.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cli.ShowHelp {
		return nil
	}

	cfg, err := config.NewLoader().LoadFile(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}

	logger := setupLogger(stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid", "config_path", cli.ConfigPath)
		_, _ = fmt.Fprintln(stdout, cfg.String())
		return nil
	}

	logger.Info("Starting drillstream",
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"bus", cfg.Bus.Kind,
		"database", cfg.Database.Driver)

	rt, err := service.New(ctx, cfg, service.Dependencies{}, logger)
	if err != nil {
		return fmt.Errorf("assemble runtime: %w", err)
	}
	if err := rt.Run(ctx, cli.ShutdownTimeout); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	logger.Info("Drillstream shutdown complete")
	return nil
}

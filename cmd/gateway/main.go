// Package main is the entry point for the chat connection gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/chattygw/internal/config"
	"github.com/vyrodovalexey/chattygw/internal/observability"
	"github.com/vyrodovalexey/chattygw/internal/routes"
	"github.com/vyrodovalexey/chattygw/internal/server"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		fmt.Fprintf(os.Stderr, "chattygw: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses command line flags.
func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("chattygw", flag.ContinueOnError)
	configPath := fs.String("config", getEnvOrDefault("CHATTYGW_CONFIG_PATH", ""),
		"Path to configuration file (defaults and environment only when empty)")
	logLevel := fs.String("log-level", getEnvOrDefault("CHATTYGW_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides the configuration")
	logFormat := fs.String("log-format", getEnvOrDefault("CHATTYGW_LOG_FORMAT", ""),
		"Log format (json, console); overrides the configuration")
	showVersion := fs.Bool("version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "chattygw version %s\n", version)
	fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// initLogger creates the process logger; flags win over configuration.
func initLogger(flags cliFlags, cfg *config.Config) (observability.Logger, error) {
	logCfg := observability.DefaultLogConfig()
	logCfg.Level = firstNonEmpty(flags.logLevel, cfg.Observability.LogLevel, logCfg.Level)
	logCfg.Format = firstNonEmpty(flags.logFormat, cfg.Observability.LogFormat, logCfg.Format)

	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// run loads the configuration and serves until ctx is done. A bridge
// connect failure returns an error so the supervisor sees a non-zero exit.
func run(ctx context.Context, flags cliFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	logger, err := initLogger(flags, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting chattygw",
		observability.String("version", version),
		observability.String("environment", cfg.Environment),
		observability.String("config", flags.configPath),
	)

	srv, err := server.New(cfg,
		server.WithLogger(logger),
		server.WithRoutes(routes.Install),
		server.WithBuildInfo(version, gitCommit, buildTime),
	)
	if err != nil {
		return err
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped with error", observability.Error(err))
		return err
	}

	logger.Info("chattygw stopped")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

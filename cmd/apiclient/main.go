// Package main is the entry point for the API client CLI.
//
// It runs in one of three modes:
//
//	apiclient -config c.yaml -service users GET /users
//	apiclient -config c.yaml -service news -stream sse /feed
//	apiclient -config c.yaml -serve
//
// The first issues one REST call through the configured plugin chain and
// prints the response, the second prints stream messages until the stream
// ends, and the third runs the admin API until a signal arrives.
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

	"github.com/vyrodovalexey/avapiclient/internal/config"
	"github.com/vyrodovalexey/avapiclient/internal/mock"
	"github.com/vyrodovalexey/avapiclient/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// errUsage is returned when the command line cannot be run.
var errUsage = errors.New("usage error")

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
	serve       bool
	mock        bool
	service     string
	stream      string
	send        string
	args        []string
}

func main() {
	flags, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	logger, err := initLogger(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags, logger, os.Stdout); err != nil {
		logger.Error("apiclient failed", observability.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// flagEnv names the environment variable that provides each flag's default.
var flagEnv = map[string]string{
	"config":     "APICLIENT_CONFIG_PATH",
	"log-level":  "APICLIENT_LOG_LEVEL",
	"log-format": "APICLIENT_LOG_FORMAT",
	"mock":       "APICLIENT_MOCK",
}

// parseFlags parses command line flags. Variables in flagEnv provide the
// defaults and command line flags override them.
func parseFlags(arguments []string, output io.Writer) (cliFlags, error) {
	fs := flag.NewFlagSet("apiclient", flag.ContinueOnError)
	fs.SetOutput(output)

	var f cliFlags
	fs.StringVar(&f.configPath, "config", "configs/apiclient.yaml", "Path to configuration file")
	fs.StringVar(&f.logLevel, "log-level", "",
		"Log level (debug, info, warn, error); overrides the configuration")
	fs.StringVar(&f.logFormat, "log-format", "",
		"Log format (json, console); overrides the configuration")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")
	fs.BoolVar(&f.serve, "serve", false, "Run the admin API until interrupted")
	fs.BoolVar(&f.mock, "mock", false, "Enable mock mode before the call")
	fs.StringVar(&f.service, "service", "", "Service to call")
	fs.StringVar(&f.stream, "stream", "", "Open a stream instead of a REST call (sse, websocket)")
	fs.StringVar(&f.send, "send", "", "Message to send after a websocket stream opens")

	for name, key := range flagEnv {
		value := os.Getenv(key)
		if value == "" {
			continue
		}
		if err := fs.Set(name, value); err != nil {
			return cliFlags{}, fmt.Errorf("%w: %s: %w", errUsage, key, err)
		}
	}

	if err := fs.Parse(arguments); err != nil {
		return cliFlags{}, err
	}
	f.args = fs.Args()
	return f, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "apiclient version %s\n", version)
	fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// initLogger initializes the bootstrap logger from flags. run replaces it
// once the configuration is loaded.
func initLogger(flags cliFlags) (observability.Logger, error) {
	level, format := flags.logLevel, flags.logFormat
	if level == "" {
		level = config.DefaultLogLevel
	}
	if format == "" {
		format = config.DefaultLogFormat
	}
	logger, err := observability.NewLogger(observability.LogConfig{Level: level, Format: format})
	if err != nil {
		return nil, err
	}
	observability.SetGlobalLogger(logger)
	return logger, nil
}

// run loads the configuration, builds the application and dispatches to
// the selected mode.
func run(ctx context.Context, flags cliFlags, logger observability.Logger, stdout io.Writer) error {
	configPath, err := config.ResolveConfigPath(flags.configPath)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	if configured, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}); err == nil {
		logger = configured
		observability.SetGlobalLogger(logger)
	}

	logger.Info("starting apiclient",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("shutdown completed with errors", observability.Error(err))
		}
	}()

	if flags.mock && !app.mockSync.Enabled() {
		if err := mock.Emit(ctx, app.bus, true); err != nil {
			return fmt.Errorf("failed to enable mock mode: %w", err)
		}
	}

	switch {
	case flags.serve:
		return serve(ctx, app, configPath)
	case flags.stream != "":
		return runStream(ctx, app, flags, stdout)
	default:
		return runCall(ctx, app, flags, stdout)
	}
}

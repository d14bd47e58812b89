// Package main implements the planmentor binary: the admin API and
// background maintenance over the plan cache statistics of each scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arkilian/planmentor/internal/app"
	"github.com/arkilian/planmentor/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		envFile     string
		dataDir     string
		httpAddr    string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&envFile, "env-file", "", "Optional .env file loaded before reading PLANMENTOR_* variables")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for local files")
	flag.StringVar(&httpAddr, "http-addr", "", "Admin API listen address")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "planmentor - adaptive plan cache mode advisor\n\n")
		fmt.Fprintf(os.Stderr, "Usage: planmentor [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  PLANMENTOR_SCOPES                 Comma separated scopes attached at startup\n")
		fmt.Fprintf(os.Stderr, "  PLANMENTOR_HTTP_ADDR              Admin API listen address\n")
		fmt.Fprintf(os.Stderr, "  PLANMENTOR_TELEMETRY_SQLITE_PATH  External statistics database\n")
		fmt.Fprintf(os.Stderr, "  PLANMENTOR_STORAGE_TYPE           Snapshot storage (local, s3)\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("planmentor version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
			os.Exit(1)
		}
	}

	cfg, err := loadConfig(configFile, dataDir, httpAddr, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting planmentor",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("data_dir", cfg.DataDir))

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create application", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		logger.Fatal("failed to start application", zap.Error(err))
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		logger.Warn("shutdown signal handling", zap.Error(err))
	}
	if err := application.Stop(context.Background()); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line
// flags, in increasing priority.
func loadConfig(configFile, dataDir, httpAddr, logLevel string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

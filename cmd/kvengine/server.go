package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GH41318103/kvengine/internal/adminhttp"
	"github.com/GH41318103/kvengine/internal/config"
	"github.com/GH41318103/kvengine/internal/engine"
	"github.com/GH41318103/kvengine/internal/logging"
	"github.com/GH41318103/kvengine/internal/metrics"
	"github.com/GH41318103/kvengine/internal/server"
)

func newServerCommand() *cobra.Command {
	var (
		configPath  string
		logLevel    string
		logFormat   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "server <port> <data_dir>",
		Short: "Open the engine and listen for RESP connections",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, dataDir := args[0], args[1]
			return runServer(port, dataDir, configPath, logLevel, logFormat, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a JSON config file (default: <data_dir>/kvengine.json)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level, used when the config file doesn't set one (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "log format, used when the config file doesn't set one (text, json)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics and /healthz on, used when the config file doesn't set one")
	return cmd
}

// runServer loads the JSON config (by default <data_dir>/kvengine.json,
// created with defaults on first run) and sources its settings, falling
// back to the server's flags for whatever the config leaves empty.
func runServer(port, dataDir, configPath, flagLogLevel, flagLogFormat, flagMetricsAddr string) error {
	if configPath == "" {
		configPath = filepath.Join(dataDir, "kvengine.json")
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("server: load config: %w", err)
	}

	logLevel := cfg.LogLevel
	if logLevel == "" {
		logLevel = flagLogLevel
	}
	logFormat := cfg.LogFormat
	if logFormat == "" {
		logFormat = flagLogFormat
	}
	metricsAddr := cfg.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = flagMetricsAddr
	}

	logger, err := logging.New(logLevel, logFormat)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	e, err := engine.Open(dataDir, engine.Options{
		Logger:             logger,
		AutoFlushThreshold: cfg.AutoFlushThreshold,
	})
	if err != nil {
		return fmt.Errorf("server: open engine: %w", err)
	}
	defer e.Close()

	if metricsAddr != "" {
		admin := adminhttp.New(metricsAddr, e, metrics.NewMetrics())
		go func() {
			if err := admin.ListenAndServe(); err != nil {
				logger.WithError(err).Warn("server: admin http exited")
			}
		}()
	}

	srv := server.New(":"+port, e, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return srv.Start(ctx)
}

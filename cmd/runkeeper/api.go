package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/runkeeper/pkg/api"
	"github.com/ethpandaops/runkeeper/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the run tracking HTTP API",
	Long: `Serve the runkeeper HTTP API. Testers create runs from the catalog,
record results and move runs through PLANNED, IN_PROGRESS, COMPLETED and
CANCELLED; CI uploads JUnit or JSON reports which are reconciled against the
catalog. Engine counters are exposed on /metrics.`,
	RunE: runAPI,
}

var (
	apiListen        string
	apiAnonymousRead bool
)

func init() {
	rootCmd.AddCommand(apiCmd)
	apiCmd.Flags().StringVar(&apiListen, "listen", "",
		"Listen address, overrides api.server.listen")
	apiCmd.Flags().BoolVar(&apiAnonymousRead, "anonymous-read", false,
		"Serve runs and results to unauthenticated readers, overrides api.auth.anonymous_read")
}

func runAPI(cmd *cobra.Command, _ []string) error {
	if len(cfgFiles) == 0 {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := applyConfigLogLevel(cmd, cfg); err != nil {
		return err
	}

	if apiListen != "" {
		cfg.API.Server.Listen = apiListen
	}

	if cmd.Flags().Changed("anonymous-read") {
		cfg.API.Auth.AnonymousRead = apiAnonymousRead
	}

	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("validating api config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"database":         cfg.API.Database.Driver,
		"basic_auth":       cfg.API.Auth.Basic.Enabled,
		"users":            len(cfg.API.Auth.Basic.Users),
		"anonymous_read":   cfg.API.Auth.AnonymousRead,
		"bulk_concurrency": cfg.API.Engine.BulkConcurrency,
		"s3_archive":       cfg.API.Notifications.S3 != nil && cfg.API.Notifications.S3.Enabled,
	}).Info("Starting runkeeper")

	srv := api.NewServer(log, &cfg.API)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	<-ctx.Done()
	log.Info("Shutting down API server")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}

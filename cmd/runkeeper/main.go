package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethpandaops/runkeeper/pkg/config"
	"github.com/ethpandaops/runkeeper/pkg/report"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFiles []string
	logLevel string
	log      *logrus.Logger
)

func main() {
	log = logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("Failed to execute command")
	}
}

var rootCmd = &cobra.Command{
	Use:   "runkeeper",
	Short: "Test run execution and results aggregation engine",
	Long: `Runkeeper tracks test runs over a catalog of test cases: it records
manual results, reconciles automated JUnit/JSON reports against the catalog
and derives progress and pass-rate statistics for every run.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}

		log.SetLevel(level)

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("runkeeper %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
		fmt.Printf("  reports: %s, %s\n", report.FormatJUnit, report.FormatJSON)
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&cfgFiles, "config", nil,
		"config file path (repeat to merge several files in order)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel,
		"log level ("+strings.Join(logLevels(), ", ")+"), overrides global.log_level")

	rootCmd.AddCommand(versionCmd)
}

// applyConfigLogLevel switches to global.log_level from the loaded config
// unless --log-level was given explicitly.
func applyConfigLogLevel(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("log-level") || cfg.Global.LogLevel == "" {
		return nil
	}

	level, err := logrus.ParseLevel(cfg.Global.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid global.log_level %q: %w", cfg.Global.LogLevel, err)
	}

	log.SetLevel(level)

	return nil
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	return levels
}

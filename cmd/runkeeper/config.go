package main

import (
	"fmt"

	"github.com/ethpandaops/runkeeper/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Load the config files and RUNKEEPER_* environment overrides, apply
defaults and print the result as YAML with secrets redacted.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	out, err := yaml.Marshal(redact(*cfg))
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	_, err = cmd.OutOrStdout().Write(out)

	return err
}

// redact returns a copy of cfg with passwords and keys masked.
func redact(cfg config.Config) config.Config {
	users := make([]config.BasicAuthUser, len(cfg.API.Auth.Basic.Users))
	copy(users, cfg.API.Auth.Basic.Users)

	for i := range users {
		users[i].Password = redacted
	}

	cfg.API.Auth.Basic.Users = users

	if cfg.API.Database.Postgres.Password != "" {
		cfg.API.Database.Postgres.Password = redacted
	}

	if s3 := cfg.API.Notifications.S3; s3 != nil {
		masked := *s3
		if masked.SecretAccessKey != "" {
			masked.SecretAccessKey = redacted
		}

		cfg.API.Notifications.S3 = &masked
	}

	return cfg
}

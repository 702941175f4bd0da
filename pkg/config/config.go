package config

import (
	"bytes"
	"fmt"
	"net/mail"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "RUNKEEPER"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default API listen address.
	DefaultListen = ":9090"

	// DefaultDatabaseDriver is the default database driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default SQLite database file.
	DefaultSQLitePath = "./runkeeper.db"

	// DefaultBulkConcurrency bounds parallel placeholder creation.
	DefaultBulkConcurrency = 8

	// DefaultAutomationActor is recorded as executor for imported results.
	DefaultAutomationActor = "automation"

	// DefaultPostgresPort is the default PostgreSQL port.
	DefaultPostgresPort = 5432
)

// Roles accepted for configured users.
const (
	RoleAdmin    = "admin"
	RoleTester   = "tester"
	RoleReadonly = "readonly"
)

// Config is the root configuration for runkeeper.
type Config struct {
	Global GlobalConfig `yaml:"global" mapstructure:"global"`
	API    APIConfig    `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// Load reads one or more configuration files, merges them in order and
// applies RUNKEEPER_* environment overrides on top.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if i == 0 {
			err = v.ReadConfig(bytes.NewReader(data))
		} else {
			err = v.MergeConfig(bytes.NewReader(data))
		}

		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers defaults with viper so that env overrides apply to
// keys absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("api.server.listen", DefaultListen)
	v.SetDefault("api.auth.anonymous_read", false)
	v.SetDefault("api.database.driver", DefaultDatabaseDriver)
	v.SetDefault("api.database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("api.database.postgres.host", "")
	v.SetDefault("api.database.postgres.port", DefaultPostgresPort)
	v.SetDefault("api.database.postgres.user", "")
	v.SetDefault("api.database.postgres.password", "")
	v.SetDefault("api.database.postgres.database", "")
	v.SetDefault("api.database.postgres.ssl_mode", "disable")
	v.SetDefault("api.engine.bulk_concurrency", DefaultBulkConcurrency)
	v.SetDefault("api.engine.automation_actor", DefaultAutomationActor)
	v.SetDefault("api.notifications.log", true)
}

// applyDefaults sets default values for options that decoded to zero values.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.API.Server.Listen == "" {
		c.API.Server.Listen = DefaultListen
	}

	if c.API.Database.Driver == "" {
		c.API.Database.Driver = DefaultDatabaseDriver
	}

	if c.API.Database.Driver == "sqlite" && c.API.Database.SQLite.Path == "" {
		c.API.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.API.Engine.BulkConcurrency <= 0 {
		c.API.Engine.BulkConcurrency = DefaultBulkConcurrency
	}

	if c.API.Engine.AutomationActor == "" {
		c.API.Engine.AutomationActor = DefaultAutomationActor
	}

	for i := range c.API.Auth.Basic.Users {
		if c.API.Auth.Basic.Users[i].Role == "" {
			c.API.Auth.Basic.Users[i].Role = RoleReadonly
		}
	}
}

// Validate checks the global configuration for errors.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("global.log_level: %w", err)
	}

	return nil
}

// ValidateAPI checks the API configuration for errors.
func (c *Config) ValidateAPI() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if err := c.API.Database.Validate(); err != nil {
		return fmt.Errorf("api.database: %w", err)
	}

	if c.API.Auth.Basic.Enabled {
		seen := make(map[string]struct{}, len(c.API.Auth.Basic.Users))

		for i, u := range c.API.Auth.Basic.Users {
			if u.Username == "" || u.Password == "" {
				return fmt.Errorf("api.auth.basic.users[%d]: username and password are required", i)
			}

			if _, ok := seen[u.Username]; ok {
				return fmt.Errorf("api.auth.basic.users[%d]: duplicate username %q", i, u.Username)
			}

			seen[u.Username] = struct{}{}

			if !IsValidRole(u.Role) {
				return fmt.Errorf("api.auth.basic.users[%d]: unknown role %q", i, u.Role)
			}

			if u.Email != "" {
				if _, err := mail.ParseAddress(u.Email); err != nil {
					return fmt.Errorf("api.auth.basic.users[%d]: invalid email: %w", i, err)
				}
			}
		}
	}

	for i, r := range c.API.Notifications.Recipients {
		if _, err := mail.ParseAddress(r); err != nil {
			return fmt.Errorf("api.notifications.recipients[%d]: %w", i, err)
		}
	}

	if s3 := c.API.Notifications.S3; s3 != nil && s3.Enabled && s3.Bucket == "" {
		return fmt.Errorf("api.notifications.s3: bucket is required when enabled")
	}

	if rl := c.API.Server.RateLimit; rl.Enabled {
		for name, tier := range map[string]RateLimitTier{
			"public":        rl.Public,
			"authenticated": rl.Authenticated,
			"import":        rl.Import,
		} {
			if tier.RequestsPerMinute <= 0 {
				return fmt.Errorf("api.server.rate_limit.%s: requests_per_minute must be positive", name)
			}
		}
	}

	return nil
}

// IsValidRole reports whether role is one of the supported user roles.
func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleTester, RoleReadonly:
		return true
	default:
		return false
	}
}

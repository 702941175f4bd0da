package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, `
global:
  log_level: info
api:
  server:
    listen: ":8080"
  auth:
    anonymous_read: false
  database:
    driver: sqlite
    sqlite:
      path: /tmp/original.db
  engine:
    bulk_concurrency: 4
`)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, ":8080", cfg.API.Server.Listen)
				assert.Equal(t, "/tmp/original.db", cfg.API.Database.SQLite.Path)
				assert.Equal(t, 4, cfg.API.Engine.BulkConcurrency)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"RUNKEEPER_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "nested field override - sqlite path",
			envVars: map[string]string{
				"RUNKEEPER_API_DATABASE_SQLITE_PATH": "/data/custom.db",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/data/custom.db", cfg.API.Database.SQLite.Path)
			},
		},
		{
			name: "boolean override - anonymous_read",
			envVars: map[string]string{
				"RUNKEEPER_API_AUTH_ANONYMOUS_READ": "true",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.API.Auth.AnonymousRead)
			},
		},
		{
			name: "integer override - bulk_concurrency",
			envVars: map[string]string{
				"RUNKEEPER_API_ENGINE_BULK_CONCURRENCY": "16",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 16, cfg.API.Engine.BulkConcurrency)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_DefaultsAppliedWhenEmpty(t *testing.T) {
	configPath := writeConfig(t, `
api:
  auth:
    basic:
      enabled: true
      users:
        - username: alice
          password: secret
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultListen, cfg.API.Server.Listen)
	assert.Equal(t, DefaultDatabaseDriver, cfg.API.Database.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.API.Database.SQLite.Path)
	assert.Equal(t, DefaultBulkConcurrency, cfg.API.Engine.BulkConcurrency)
	assert.Equal(t, DefaultAutomationActor, cfg.API.Engine.AutomationActor)
	require.Len(t, cfg.API.Auth.Basic.Users, 1)
	assert.Equal(t, RoleReadonly, cfg.API.Auth.Basic.Users[0].Role)
}

func TestLoad_EnvVarOverridesDefaults(t *testing.T) {
	configPath := writeConfig(t, "global: {}\n")

	t.Setenv("RUNKEEPER_GLOBAL_LOG_LEVEL", "warn")
	t.Setenv("RUNKEEPER_API_SERVER_LISTEN", ":7000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Global.LogLevel)
	assert.Equal(t, ":7000", cfg.API.Server.Listen)
}

func TestLoad_MergesFilesInOrder(t *testing.T) {
	base := writeConfig(t, `
global:
  log_level: info
api:
  database:
    driver: sqlite
    sqlite:
      path: /tmp/base.db
`)
	override := writeConfig(t, `
api:
  database:
    sqlite:
      path: /tmp/override.db
`)

	cfg, err := Load(base, override)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Global.LogLevel)
	assert.Equal(t, "/tmp/override.db", cfg.API.Database.SQLite.Path)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: yaml: content:")

	_, err := Load(configPath)
	require.Error(t, err)
}

func TestConfig_ValidateAPI(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Global: GlobalConfig{LogLevel: "info"},
			API: APIConfig{
				Database: APIDatabaseConfig{
					Driver: "sqlite",
					SQLite: SQLiteDatabaseConfig{Path: ":memory:"},
				},
			},
		}
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errSubstr string
	}{
		{
			name:   "valid sqlite config",
			mutate: func(_ *Config) {},
		},
		{
			name:      "invalid log level",
			mutate:    func(c *Config) { c.Global.LogLevel = "loud" },
			errSubstr: "global.log_level",
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.API.Database.Driver = "mysql" },
			errSubstr: "unsupported driver",
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.API.Database.Driver = "postgres"
			},
			errSubstr: "postgres.host",
		},
		{
			name: "user with unknown role",
			mutate: func(c *Config) {
				c.API.Auth.Basic.Enabled = true
				c.API.Auth.Basic.Users = []BasicAuthUser{
					{Username: "bob", Password: "pw", Role: "root"},
				}
			},
			errSubstr: "unknown role",
		},
		{
			name: "duplicate usernames",
			mutate: func(c *Config) {
				c.API.Auth.Basic.Enabled = true
				c.API.Auth.Basic.Users = []BasicAuthUser{
					{Username: "bob", Password: "pw", Role: RoleAdmin},
					{Username: "bob", Password: "pw2", Role: RoleTester},
				}
			},
			errSubstr: "duplicate username",
		},
		{
			name: "invalid recipient",
			mutate: func(c *Config) {
				c.API.Notifications.Recipients = []string{"not-an-address"}
			},
			errSubstr: "recipients[0]",
		},
		{
			name: "s3 enabled without bucket",
			mutate: func(c *Config) {
				c.API.Notifications.S3 = &S3ArchiveConfig{Enabled: true}
			},
			errSubstr: "bucket is required",
		},
		{
			name: "rate limit tier without limit",
			mutate: func(c *Config) {
				c.API.Server.RateLimit = RateLimitConfig{
					Enabled:       true,
					Public:        RateLimitTier{RequestsPerMinute: 60},
					Authenticated: RateLimitTier{RequestsPerMinute: 60},
				}
			},
			errSubstr: "rate_limit.import",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.ValidateAPI()
			if tt.errSubstr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

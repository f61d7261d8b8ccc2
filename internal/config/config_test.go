package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/crud/crud"
	"github.com/liamcoop/crud/normalize"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, normalize.DefaultOptions(), cfg.PublicAPI.Options)
	require.Len(t, cfg.Resources, 2)
	assert.Equal(t, "Blogs", cfg.Resources[0].Alias)
	assert.Equal(t, "Profile", cfg.Resources[1].Associations[0].Alias)
}

func TestLoadFromReader(t *testing.T) {
	t.Setenv("CRUD_TEST_PORT", "9090")

	cfg, err := LoadFromReader(strings.NewReader(`
server:
  port: "${CRUD_TEST_PORT}"
  requestTimeout: 5s
redis:
  flashTTL: 10m
publicApi:
  apiOnly: false
  changeKeys: false
  timeZone: Europe/Copenhagen
resources:
  - alias: Posts
    entity: Post
    table: posts
    primaryKey: id
    columns: [id, title]
    required: [title]
    rules:
      - field: title
        name: notEmpty
        expression: 'value != ""'
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout.Duration())
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout.Duration(), "unset keys keep defaults")
	assert.Equal(t, 10*time.Minute, cfg.Redis.FlashTTL.Duration())

	assert.False(t, cfg.PublicAPI.RestrictToAPI)
	assert.False(t, cfg.PublicAPI.NormalizeKeys)
	assert.True(t, cfg.PublicAPI.FlattenPrimaryGroup)

	opts, err := cfg.PublicAPI.NormalizeOptions()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Copenhagen", opts.Location.String())

	require.Len(t, cfg.Resources, 1)
	r := cfg.Resources[0]
	assert.Equal(t, "posts", r.Table)
	assert.Equal(t, []string{"title"}, r.Required)
	require.Len(t, r.Rules, 1)
	assert.Equal(t, "notEmpty", r.Rules[0].Name)
}

func TestLoadFromReader_KeepsDefaultResources(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("logging:\n  level: DEBUG\n"))
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Len(t, cfg.Resources, 2)
}

func TestLoadFromReader_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "server: [", "failed to parse YAML"},
		{"bad duration", "server:\n  readTimeout: soon\n", "invalid duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("CRUD_TEST_SET", "value")

	assert.Equal(t, "value", substituteEnvVars("${CRUD_TEST_SET}"))
	assert.Equal(t, "fallback", substituteEnvVars("${CRUD_TEST_UNSET:-fallback}"))
	assert.Equal(t, "", substituteEnvVars("${CRUD_TEST_UNSET}"))
	assert.Equal(t, "$literal", substituteEnvVars("$$literal"))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crud.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"7000\"\n"), 0o600))

	t.Run("explicit path", func(t *testing.T) {
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "7000", cfg.Server.Port)
	})

	t.Run("path from env", func(t *testing.T) {
		t.Setenv(PathEnv, path)
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "7000", cfg.Server.Port)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("PORT", "7100")
		t.Setenv("DATABASE_URL", "postgres://localhost/crud")
		t.Setenv("REDIS_URL", "redis://localhost:6379/0")
		t.Setenv("LOG_LEVEL", "warn")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "7100", cfg.Server.Port)
		assert.Equal(t, "postgres://localhost/crud", cfg.Database.URL)
		assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
		assert.Equal(t, "warn", cfg.Logging.Level)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "missing.yaml"))
		require.Error(t, err)
	})
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load("../../configs/crud.yaml")
	require.NoError(t, err)

	require.Len(t, cfg.Resources, 2)
	users := cfg.Resources[1]
	seed := users.SeedRecords()
	require.Len(t, seed, 2)
	assert.Equal(t, []string{"User", "Profile"}, seed[0].Keys())

	group, _ := seed[0].Get("User")
	assert.Equal(t, []string{"id", "name", "created"}, group.(normalize.Record).Keys())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server.port is required"},
		{"negative timeout", func(c *Config) { c.Server.IdleTimeout = -1 }, "server.idleTimeout must not be negative"},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -1 }, "ttl must not be negative"},
		{"sample rate", func(c *Config) { c.Logging.SampleRate = 0 }, "sampleRate"},
		{"time zone", func(c *Config) { c.PublicAPI.TimeZone = "Mars/Olympus" }, "unknown time zone"},
		{"no resources", func(c *Config) { c.Resources = nil }, "at least one resource"},
		{"duplicate", func(c *Config) { c.Resources[1].Alias = "Blogs" }, "duplicate resource"},
		{"invalid schema", func(c *Config) { c.Resources[0].Table = "drop" }, `resource "Blogs"`},
		{"unknown required column", func(c *Config) { c.Resources[0].Required = []string{"title"} }, `unknown column "title"`},
		{"broken rule", func(c *Config) {
			c.Resources[0].Rules = append(c.Resources[0].Rules, crud.Rule{Field: "name", Name: "broken", Expression: "value >"})
		}, "compile error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestResourceConfig_Validator(t *testing.T) {
	r := DefaultConfig().Resources[0]
	v, err := r.Validator()
	require.NoError(t, err)

	errs := v.Validate(normalize.Record{{Key: "body", Value: "x"}}, true)
	require.Len(t, errs, 1)
	assert.Equal(t, "name", errs[0].Field)
}

// Package config loads the server configuration: listener settings, storage
// backends, the public API response options and the resource definitions.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/liamcoop/crud/crud"
	"github.com/liamcoop/crud/normalize"
	"github.com/liamcoop/crud/table"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	Cache     CacheConfig      `yaml:"cache"`
	Logging   LoggingConfig    `yaml:"logging"`
	PublicAPI PublicAPIConfig  `yaml:"publicApi"`
	Resources []ResourceConfig `yaml:"resources"`
}

type ServerConfig struct {
	Port            string   `yaml:"port"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	RequestTimeout  Duration `yaml:"requestTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// DatabaseConfig selects Postgres storage. An empty URL keeps every resource
// in memory.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig selects the Redis flash store. An empty URL keeps flash
// messages in memory.
type RedisConfig struct {
	URL         string   `yaml:"url"`
	FlashPrefix string   `yaml:"flashPrefix"`
	FlashTTL    Duration `yaml:"flashTTL"`
}

type CacheConfig struct {
	// TTL of cached finds; zero only invalidates on writes
	TTL Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// SampleRate logs one in SampleRate warnings and errors
	SampleRate int `yaml:"sampleRate"`
}

// PublicAPIConfig holds the response normalizer settings. Enabled=false
// leaves responses as the actions produce them.
type PublicAPIConfig struct {
	Enabled           bool   `yaml:"enabled"`
	TimeZone          string `yaml:"timeZone"`
	normalize.Options `yaml:",inline"`
}

// NormalizeOptions resolves the time zone into the normalizer options
func (p PublicAPIConfig) NormalizeOptions() (normalize.Options, error) {
	opts := p.Options
	if p.TimeZone != "" {
		loc, err := time.LoadLocation(p.TimeZone)
		if err != nil {
			return opts, fmt.Errorf("unknown time zone %q: %w", p.TimeZone, err)
		}
		opts.Location = loc
	}
	return opts, nil
}

// ResourceConfig is one resource: its table schema plus validation and seed rows
type ResourceConfig struct {
	table.Schema `yaml:",inline"`

	// Required fields must be present when creating
	Required []string    `yaml:"required"`
	Rules    []crud.Rule `yaml:"rules"`

	// Seed rows for in-memory storage, keyed by group then column
	Seed []map[string]map[string]string `yaml:"seed"`
}

// Validator compiles the resource's rules
func (r ResourceConfig) Validator() (*crud.Validator, error) {
	v, err := crud.NewValidator(r.Rules...)
	if err != nil {
		return nil, err
	}
	return v.RequirePresence(r.Required...), nil
}

// SeedRecords turns the seed rows into records, ordering groups and columns
// the way the schema declares them
func (r ResourceConfig) SeedRecords() []normalize.Record {
	rows := make([]normalize.Record, 0, len(r.Seed))
	for _, seed := range r.Seed {
		row := normalize.Record{}
		if group := seedGroup(seed[r.Entity], r.Columns); group != nil {
			row = append(row, normalize.Field{Key: r.Entity, Value: group})
		}
		for _, a := range r.Associations {
			if group := seedGroup(seed[a.Alias], a.Columns); group != nil {
				row = append(row, normalize.Field{Key: a.Alias, Value: group})
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func seedGroup(values map[string]string, columns []string) normalize.Record {
	if values == nil {
		return nil
	}
	group := normalize.Record{}
	for _, c := range columns {
		if v, ok := values[c]; ok {
			group = append(group, normalize.Field{Key: c, Value: v})
		}
	}
	return group
}

// DefaultConfig serves the blogs and users resources from memory
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			RequestTimeout:  Duration(60 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Redis: RedisConfig{
			FlashPrefix: "crud:flash:",
			FlashTTL:    Duration(time.Hour),
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			SampleRate: 1,
		},
		PublicAPI: PublicAPIConfig{
			Enabled:  true,
			TimeZone: "UTC",
			Options:  normalize.DefaultOptions(),
		},
		Resources: []ResourceConfig{
			{
				Schema: table.Schema{
					Alias:      "Blogs",
					Entity:     "Blog",
					Table:      "blogs",
					PrimaryKey: "id",
					Columns:    []string{"id", "name", "body"},
				},
				Required: []string{"name"},
			},
			{
				Schema: table.Schema{
					Alias:      "Users",
					Entity:     "User",
					Table:      "users",
					PrimaryKey: "id",
					Columns:    []string{"id", "name", "created"},
					Associations: []table.Association{
						{
							Kind:       table.HasOne,
							Alias:      "Profile",
							Table:      "profiles",
							ForeignKey: "user_id",
							Columns:    []string{"id", "twitter"},
						},
					},
				},
				Required: []string{"name"},
			},
		},
	}
}

// Validate checks the configuration, compiling every validation rule
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("%w: server.port is required", ErrInvalidConfig)
	}
	for name, d := range map[string]Duration{
		"readTimeout":     c.Server.ReadTimeout,
		"writeTimeout":    c.Server.WriteTimeout,
		"idleTimeout":     c.Server.IdleTimeout,
		"requestTimeout":  c.Server.RequestTimeout,
		"shutdownTimeout": c.Server.ShutdownTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%w: server.%s must not be negative", ErrInvalidConfig, name)
		}
	}
	if c.Redis.FlashTTL < 0 || c.Cache.TTL < 0 {
		return fmt.Errorf("%w: ttl must not be negative", ErrInvalidConfig)
	}
	if c.Logging.SampleRate < 1 {
		return fmt.Errorf("%w: logging.sampleRate must be at least 1", ErrInvalidConfig)
	}
	if _, err := c.PublicAPI.NormalizeOptions(); err != nil {
		return fmt.Errorf("%w: publicApi: %v", ErrInvalidConfig, err)
	}

	if len(c.Resources) == 0 {
		return fmt.Errorf("%w: at least one resource is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Resources))
	for _, r := range c.Resources {
		if err := r.Schema.Validate(); err != nil {
			return fmt.Errorf("%w: resource %q: %v", ErrInvalidConfig, r.Alias, err)
		}
		if seen[r.Alias] {
			return fmt.Errorf("%w: duplicate resource %q", ErrInvalidConfig, r.Alias)
		}
		seen[r.Alias] = true

		for _, f := range r.Required {
			if !r.HasColumn(f) {
				return fmt.Errorf("%w: resource %q requires unknown column %q", ErrInvalidConfig, r.Alias, f)
			}
		}
		if _, err := r.Validator(); err != nil {
			return fmt.Errorf("%w: resource %q: %v", ErrInvalidConfig, r.Alias, err)
		}
	}
	return nil
}

// Package config loads and validates the gateway configuration: backends,
// visibility rules, cache settings. Configuration is immutable after Load;
// runtime lookups never mutate it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the full gateway configuration.
type Config struct {
	Backends       map[string]BackendConfig `mapstructure:"backends"`
	DefaultBackend string                   `mapstructure:"default_backend"`
	// Rules are keyed by backend name; the "default" entry applies to
	// backends without their own.
	Rules           map[string]RulesConfig `mapstructure:"rules"`
	Cache           CacheConfig            `mapstructure:"cache"`
	ReadOnly        bool                   `mapstructure:"read_only"`
	DefaultPageSize int                    `mapstructure:"default_page_size"`
	QueryTimeout    time.Duration          `mapstructure:"query_timeout"`
	SchemaCacheTTL  time.Duration          `mapstructure:"schema_cache_ttl"`
	Debug           bool                   `mapstructure:"debug"`
}

// BackendConfig is one target database.
type BackendConfig struct {
	Dialect         string        `mapstructure:"dialect"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdle         int           `mapstructure:"max_idle"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RulesConfig is the raw visibility rule syntax for one backend.
type RulesConfig struct {
	SchemaAllow []string           `mapstructure:"schema_allow"`
	SchemaDeny  []string           `mapstructure:"schema_deny"`
	TableAllow  []string           `mapstructure:"table_allow"`
	TableDeny   []string           `mapstructure:"table_deny"`
	Columns     []ColumnRuleConfig `mapstructure:"columns"`
}

// ColumnRuleConfig is one column policy in configuration syntax.
type ColumnRuleConfig struct {
	Schema string `mapstructure:"schema"`
	Table  string `mapstructure:"table"`
	Column string `mapstructure:"column"`
	// Action is allow, omit, mask, or error.
	Action string      `mapstructure:"action"`
	Mask   *MaskConfig `mapstructure:"mask"`
	// ShowInSchema overrides whether introspection lists the column.
	ShowInSchema *bool `mapstructure:"show_in_schema"`
}

// MaskConfig selects a masking strategy for action: mask.
type MaskConfig struct {
	// Kind is null, sha256, fixed, or partial.
	Kind        string `mapstructure:"kind"`
	Fixed       any    `mapstructure:"fixed"`
	KeepFirst   int    `mapstructure:"keep_first"`
	KeepLast    int    `mapstructure:"keep_last"`
	Replacement string `mapstructure:"replacement"`
}

// CacheConfig tunes the result cache.
type CacheConfig struct {
	// Adapter is memory or redis.
	Adapter        string                   `mapstructure:"adapter"`
	Namespace      string                   `mapstructure:"namespace"`
	RedisAddr      string                   `mapstructure:"redis_addr"`
	RedisPassword  string                   `mapstructure:"redis_password"`
	RedisDB        int                      `mapstructure:"redis_db"`
	DefaultTTL     time.Duration            `mapstructure:"default_ttl"`
	MaxBytes       int                      `mapstructure:"max_bytes"`
	Compress       bool                     `mapstructure:"compress"`
	LockTimeout    time.Duration            `mapstructure:"lock_timeout"`
	SweepInterval  time.Duration            `mapstructure:"sweep_interval"`
	Profiles       map[string]ProfileConfig `mapstructure:"profiles"`
	DefaultProfile string                   `mapstructure:"default_profile"`
}

// ProfileConfig is a named set of cache defaults.
type ProfileConfig struct {
	TTL  time.Duration `mapstructure:"ttl"`
	Tags []string      `mapstructure:"tags"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	viper.SetConfigName("lotus")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/lotus")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("LOTUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from a .env file, if present.
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
		"../.env",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}
	return fmt.Errorf("no .env file found")
}

func setDefaults() {
	viper.SetDefault("read_only", true)
	viper.SetDefault("default_page_size", 1000)
	viper.SetDefault("query_timeout", "5s")
	viper.SetDefault("schema_cache_ttl", "5m")
	viper.SetDefault("debug", false)

	viper.SetDefault("cache.adapter", "memory")
	viper.SetDefault("cache.namespace", "lotus")
	viper.SetDefault("cache.default_ttl", "5m")
	viper.SetDefault("cache.max_bytes", 5*1024*1024)
	viper.SetDefault("cache.compress", false)
	viper.SetDefault("cache.lock_timeout", "5s")
	viper.SetDefault("cache.sweep_interval", "1m")
}

// Validate checks structural correctness: known dialects, resolvable
// default backend, parseable rules, a known cache adapter.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}
	for name, b := range c.Backends {
		switch b.Dialect {
		case "postgres", "mysql", "sqlite":
		default:
			return fmt.Errorf("backend %q: unsupported dialect %q", name, b.Dialect)
		}
		if b.DSN == "" {
			return fmt.Errorf("backend %q: dsn is required", name)
		}
	}
	if c.DefaultBackend != "" {
		if _, ok := c.Backends[c.DefaultBackend]; !ok {
			return fmt.Errorf("default_backend %q is not a configured backend", c.DefaultBackend)
		}
	}

	switch c.Cache.Adapter {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis adapter")
		}
	default:
		return fmt.Errorf("unsupported cache adapter %q", c.Cache.Adapter)
	}
	if c.Cache.DefaultProfile != "" {
		if _, ok := c.Cache.Profiles[c.Cache.DefaultProfile]; !ok {
			return fmt.Errorf("cache.default_profile %q is not defined", c.Cache.DefaultProfile)
		}
	}

	// Rules must compile; surface syntax errors at startup, not per query.
	for backend, rc := range c.Rules {
		if backend != "default" {
			if _, ok := c.Backends[backend]; !ok {
				return fmt.Errorf("rules for unknown backend %q", backend)
			}
		}
		dialect := "postgres"
		if b, ok := c.Backends[backend]; ok {
			dialect = b.Dialect
		}
		if _, err := CompileRules(dialect, rc); err != nil {
			return fmt.Errorf("rules for backend %q: %w", backend, err)
		}
	}
	return nil
}

// BackendNames lists configured backends in no particular order.
func (c *Config) BackendNames() []string {
	names := make([]string, 0, len(c.Backends))
	for name := range c.Backends {
		names = append(names, name)
	}
	return names
}

// RulesFor returns the raw rule config for backend, falling back to the
// "default" entry.
func (c *Config) RulesFor(backend string) RulesConfig {
	if rc, ok := c.Rules[backend]; ok {
		return rc
	}
	return c.Rules["default"]
}

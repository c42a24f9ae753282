// Package config loads the mensa configuration from defaults, a YAML file,
// MENSA_ environment variables and bound command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/mensa-client/pkg/logging"
)

// EnvPrefix is the prefix of environment overrides, e.g. MENSA_CACHE_BACKEND.
const EnvPrefix = "MENSA"

// Cache backends.
const (
	BackendDisk   = "disk"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the complete runtime configuration.
type Config struct {
	Cache CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Redis RedisConfig    `mapstructure:"redis" yaml:"redis"`
	HTTP  HTTPConfig     `mapstructure:"http" yaml:"http"`
	API   APIConfig      `mapstructure:"api" yaml:"api"`
	TTL   TTLConfig      `mapstructure:"ttl" yaml:"ttl"`
	Log   logging.Config `mapstructure:"log" yaml:"log"`
	Serve ServeConfig    `mapstructure:"serve" yaml:"serve"`
}

// CacheConfig selects the store backend.
type CacheConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// RedisConfig is used when Cache.Backend is "redis".
type RedisConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	DB   int    `mapstructure:"db" yaml:"db"`
}

// HTTPConfig configures the upstream requester.
type HTTPConfig struct {
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent   string        `mapstructure:"user_agent" yaml:"user_agent"`
	RateLimit   float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second per host, 0 = unlimited
	Burst       int           `mapstructure:"burst" yaml:"burst"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// APIConfig points at the OpenMensa API.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// TTLConfig holds freshness windows per resource kind.
type TTLConfig struct {
	Canteens time.Duration `mapstructure:"canteens" yaml:"canteens"`
	Meals    time.Duration `mapstructure:"meals" yaml:"meals"`
}

// ServeConfig configures the caching proxy.
type ServeConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DefaultCacheDir returns <user cache dir>/mensa, falling back to the
// temp directory when no user cache dir is known.
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "mensa")
}

// DefaultConfigDir returns <user config dir>/mensa.
func DefaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mensa")
}

// SetDefaults registers all defaults on v. Durations are registered in
// their string form so AllSettings stays readable.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("cache.backend", BackendDisk)
	v.SetDefault("cache.dir", DefaultCacheDir())
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("http.timeout", "10s")
	v.SetDefault("http.user_agent", "mensa-client/dev")
	v.SetDefault("http.rate_limit", 0.0)
	v.SetDefault("http.burst", 5)
	v.SetDefault("http.max_attempts", 1)
	v.SetDefault("api.base_url", "https://openmensa.org/api/v2")
	v.SetDefault("ttl.canteens", "24h")
	v.SetDefault("ttl.meals", "1h")
	v.SetDefault("log.level", logging.LevelInfo)
	v.SetDefault("log.pretty", false)
	v.SetDefault("serve.addr", ":8080")
}

// Load reads the configuration into v and decodes it. An explicit cfgFile
// must exist; otherwise config.yaml in the default config directory is
// used when present.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if dir := DefaultConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and required fields.
func (c Config) Validate() error {
	switch c.Cache.Backend {
	case BackendDisk:
		if c.Cache.Dir == "" {
			return errors.New("cache.dir is required for the disk backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown cache.backend %q (want disk, redis or memory)", c.Cache.Backend)
	}

	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive, got %s", c.HTTP.Timeout)
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must not be negative, got %g", c.HTTP.RateLimit)
	}
	if c.HTTP.MaxAttempts < 1 {
		return fmt.Errorf("http.max_attempts must be at least 1, got %d", c.HTTP.MaxAttempts)
	}
	if c.TTL.Canteens < 0 || c.TTL.Meals < 0 {
		return errors.New("ttl values must not be negative")
	}

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL)
	}

	return c.Log.Validate()
}

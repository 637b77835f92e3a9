// Package config loads the gallery configuration from a YAML file, a .env
// file and GALLERY_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/artic-gallery/pkg/client"
	"github.com/Sternrassler/artic-gallery/pkg/logging"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. GALLERY_SERVER_ADDRESS.
const EnvPrefix = "GALLERY"

type Configuration struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	API       APIConfig       `mapstructure:"api" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" validate:"required"`
	Gallery   GalleryConfig   `mapstructure:"gallery" validate:"required"`
	Export    ExportConfig    `mapstructure:"export" validate:"required"`
	Logging   LoggingConfig   `mapstructure:"logging" validate:"required"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address" validate:"required"`
	Mode            string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url" validate:"required,url"`
	UserAgent string        `mapstructure:"user_agent" validate:"required"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// RedisConfig configures the shared cache and request budget.
// An empty Addr runs without Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type CacheConfig struct {
	MemoryTTL time.Duration `mapstructure:"memory_ttl" validate:"gte=0"`
}

type RateLimitConfig struct {
	RequestsPerMinute int     `mapstructure:"requests_per_minute" validate:"gt=0"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=1"`
}

type GalleryConfig struct {
	PageSize int `mapstructure:"page_size" validate:"gte=1,lte=100"`
}

type ExportConfig struct {
	Concurrency int           `mapstructure:"concurrency" validate:"gte=1,lte=16"`
	MaxPages    int           `mapstructure:"max_pages" validate:"gte=1"`
	PageTimeout time.Duration `mapstructure:"page_timeout" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Pretty bool   `mapstructure:"pretty"`
}

// Default returns the configuration used when nothing overrides it.
// It is valid on its own and talks to the public API without Redis.
func Default() *Configuration {
	return &Configuration{
		Server: ServerConfig{
			Address:         ":8080",
			Mode:            "release",
			ShutdownTimeout: 10 * time.Second,
		},
		API: APIConfig{
			BaseURL:   client.DefaultBaseURL,
			UserAgent: "artic-gallery/1.0 (https://github.com/Sternrassler/artic-gallery)",
			Timeout:   10 * time.Second,
		},
		Cache: CacheConfig{MemoryTTL: time.Minute},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			RequestsPerSecond: 1,
			Burst:             5,
		},
		Gallery: GalleryConfig{PageSize: 20},
		Export: ExportConfig{
			Concurrency: 4,
			MaxPages:    500,
			PageTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configFile (or gallery.yaml from the usual places when empty),
// then envFiles (or ./.env when none are given), then the environment.
func Load(configFile string, envFiles ...string) (*Configuration, error) {
	if len(envFiles) == 0 {
		// A missing ./.env is fine.
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default())

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("gallery")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/artic-gallery")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if configFile != "" || !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Configuration) {
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.user_agent", d.API.UserAgent)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("cache.memory_ttl", d.Cache.MemoryTTL)
	v.SetDefault("rate_limit.requests_per_minute", d.RateLimit.RequestsPerMinute)
	v.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("gallery.page_size", d.Gallery.PageSize)
	v.SetDefault("export.concurrency", d.Export.Concurrency)
	v.SetDefault("export.max_pages", d.Export.MaxPages)
	v.SetDefault("export.page_timeout", d.Export.PageTimeout)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RedisOptions returns the Redis connection options, or nil when Redis is
// not configured.
func (c Configuration) RedisOptions() *redis.Options {
	if c.Redis.Addr == "" {
		return nil
	}
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// ClientConfig returns the API client configuration. redisClient may be nil.
func (c Configuration) ClientConfig(redisClient *redis.Client) client.Config {
	cfg := client.DefaultConfig(redisClient, c.API.UserAgent)
	cfg.BaseURL = c.API.BaseURL
	cfg.Timeout = c.API.Timeout
	cfg.MemoryCacheTTL = c.Cache.MemoryTTL
	cfg.RequestsPerMinute = c.RateLimit.RequestsPerMinute
	cfg.RequestsPerSecond = c.RateLimit.RequestsPerSecond
	cfg.Burst = c.RateLimit.Burst
	return cfg
}

// LoggingConfig returns the logger configuration.
func (c Configuration) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	level, err := logging.ParseLevel(c.Logging.Level)
	if err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.Logging.Pretty
	return cfg
}

package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
	mu       sync.RWMutex
)

// Store drivers
const (
	DriverSQLite    = "sqlite"
	DriverReindexer = "reindexer"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Store       StoreConfig       `mapstructure:"store"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Reader      ReaderConfig      `mapstructure:"reader"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// StoreConfig selects and configures the local document store
type StoreConfig struct {
	Driver    string          `mapstructure:"driver"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Reindexer ReindexerConfig `mapstructure:"reindexer"`
}

// SQLiteConfig contains the embedded store settings
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// ReindexerConfig contains Reindexer database configuration
type ReindexerConfig struct {
	DSN       string `mapstructure:"dsn"`
	Namespace string `mapstructure:"namespace"`
}

// GatewayConfig contains the remote document service settings
type GatewayConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxPreviewBytes int64         `mapstructure:"max_preview_bytes"`
	// AnnotationProxy is prefixed to preview URLs of PDF documents
	AnnotationProxy string `mapstructure:"annotation_proxy"`
}

// CacheConfig contains reading session cache configuration
type CacheConfig struct {
	Shards int `mapstructure:"shards"`
	TTL    int `mapstructure:"ttl"` // TTL in seconds
}

// ReaderConfig contains reading engine settings
type ReaderConfig struct {
	StartColor     string        `mapstructure:"start_color"`
	EndColor       string        `mapstructure:"end_color"`
	ScrollThrottle time.Duration `mapstructure:"scroll_throttle"`
}

// ConcurrencyConfig contains concurrency settings
type ConcurrencyConfig struct {
	HTTPMaxRequests    int `mapstructure:"http_max_requests"`
	RenderWorkers      int `mapstructure:"render_workers"`
	GatewayMaxInflight int `mapstructure:"gateway_max_inflight"`
	DBMaxConnections   int `mapstructure:"db_max_connections"`
}

// Get returns the singleton configuration instance
func Get() *Config {
	once.Do(func() {
		if instance == nil {
			instance = &Config{}
		}
	})
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// Load initializes and loads configuration from file and environment variables
func Load(configPath string) error {
	mu.Lock()
	defer mu.Unlock()
	return load(configPath)
}

func load(configPath string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	instance = cfg
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite.path", "increadable.db")
	v.SetDefault("store.reindexer.dsn", "cproto://localhost:6534/increadable")
	v.SetDefault("store.reindexer.namespace", "documents")

	v.SetDefault("gateway.base_url", "http://localhost:8000")
	v.SetDefault("gateway.timeout", 30*time.Second)
	v.SetDefault("gateway.max_preview_bytes", 64<<20)
	v.SetDefault("gateway.annotation_proxy", "https://via.hypothes.is/")

	v.SetDefault("cache.shards", 16)
	v.SetDefault("cache.ttl", 3600)

	v.SetDefault("reader.start_color", "#ff0000")
	v.SetDefault("reader.end_color", "#00ff00")
	v.SetDefault("reader.scroll_throttle", time.Duration(0))

	v.SetDefault("concurrency.http_max_requests", 600)
	v.SetDefault("concurrency.render_workers", 4)
	v.SetDefault("concurrency.gateway_max_inflight", 4)
	v.SetDefault("concurrency.db_max_connections", 8)
}

// validate performs validation on the configuration
func validate(cfg *Config) error {
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	switch cfg.Store.Driver {
	case DriverSQLite:
		if cfg.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required")
		}
	case DriverReindexer:
		if cfg.Store.Reindexer.DSN == "" {
			return fmt.Errorf("store.reindexer.dsn is required")
		}
		if cfg.Store.Reindexer.Namespace == "" {
			return fmt.Errorf("store.reindexer.namespace is required")
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", DriverSQLite, DriverReindexer, cfg.Store.Driver)
	}

	if cfg.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if cfg.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway.timeout must be positive")
	}
	if cfg.Gateway.MaxPreviewBytes < 1 {
		return fmt.Errorf("gateway.max_preview_bytes must be at least 1")
	}

	if cfg.Cache.Shards < 1 {
		return fmt.Errorf("cache.shards must be at least 1")
	}
	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be non-negative")
	}

	if cfg.Reader.ScrollThrottle < 0 {
		return fmt.Errorf("reader.scroll_throttle must be non-negative")
	}

	if cfg.Concurrency.HTTPMaxRequests < 1 {
		return fmt.Errorf("concurrency.http_max_requests must be at least 1")
	}
	if cfg.Concurrency.RenderWorkers < 1 {
		return fmt.Errorf("concurrency.render_workers must be at least 1")
	}
	if cfg.Concurrency.GatewayMaxInflight < 1 {
		return fmt.Errorf("concurrency.gateway_max_inflight must be at least 1")
	}
	if cfg.Concurrency.DBMaxConnections < 1 {
		return fmt.Errorf("concurrency.db_max_connections must be at least 1")
	}

	return nil
}

// Reload reloads the configuration (thread-safe)
func Reload(configPath string) error {
	mu.Lock()
	defer mu.Unlock()

	instance = nil
	once = sync.Once{}

	return load(configPath)
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoadBalancingStrategy selects how the pool picks a connection per feature.
type LoadBalancingStrategy string

const (
	StrategyRoundRobin       LoadBalancingStrategy = "round-robin"
	StrategyLeastConnections LoadBalancingStrategy = "least-connections"
	StrategyPriority         LoadBalancingStrategy = "priority"
)

// CacheBackend names a cache-service implementation.
type CacheBackend string

const (
	CacheMemory CacheBackend = "memory"
	CacheRedis  CacheBackend = "redis"
)

// Config enumerates every recognized option with an explicit default.
// It replaces the dynamically-typed option bags the source carried: unknown
// keys are rejected by shape, and validation happens once at load.
type Config struct {
	// URL is the WebSocket endpoint the engine dials.
	URL string `mapstructure:"url"`

	// AuthToken is appended as a query parameter on connect. It is not
	// refreshed mid-connection; reconnects re-send the last known token.
	AuthToken string `mapstructure:"auth_token"`

	// Connection lifecycle.
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration `mapstructure:"heartbeat_timeout"`
	ConnectionTimeout    time.Duration `mapstructure:"connection_timeout"`
	EnableMetrics        bool          `mapstructure:"enable_metrics"`

	// Pool.
	MaxConnections        int                   `mapstructure:"max_connections"`
	HealthCheckInterval   time.Duration         `mapstructure:"health_check_interval"`
	LoadBalancingStrategy LoadBalancingStrategy `mapstructure:"load_balancing_strategy"`
	EnableFailover        bool                  `mapstructure:"enable_failover"`

	// Cache bridge.
	EnableAutoInvalidation   bool          `mapstructure:"enable_auto_invalidation"`
	EnableMessagePersistence bool          `mapstructure:"enable_message_persistence"`
	DefaultTTL               time.Duration `mapstructure:"default_ttl"`
	MaxCacheSize             int           `mapstructure:"max_cache_size"`
	CacheBackend             CacheBackend  `mapstructure:"cache_backend"`
	RedisAddr                string        `mapstructure:"redis_addr"`

	// DiagAddr enables the diagnostics HTTP listener when non-empty.
	DiagAddr string `mapstructure:"diag_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("url", "ws://localhost:8080/ws")
	v.SetDefault("max_reconnect_attempts", 5)
	v.SetDefault("reconnect_delay", time.Second)
	v.SetDefault("heartbeat_interval", 30*time.Second)
	v.SetDefault("heartbeat_timeout", 60*time.Second)
	v.SetDefault("connection_timeout", 10*time.Second)
	v.SetDefault("enable_metrics", true)
	v.SetDefault("max_connections", 10)
	v.SetDefault("health_check_interval", 30*time.Second)
	v.SetDefault("load_balancing_strategy", string(StrategyRoundRobin))
	v.SetDefault("enable_failover", true)
	v.SetDefault("enable_auto_invalidation", true)
	v.SetDefault("enable_message_persistence", true)
	v.SetDefault("default_ttl", 5*time.Minute)
	v.SetDefault("max_cache_size", 1000)
	v.SetDefault("cache_backend", string(CacheMemory))
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("diag_addr", "")
}

// LoadConfig reads configuration from an optional file plus IMC_* environment
// variables, applies defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("IMC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option ranges once at construction.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("config: url is required")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("config: max_reconnect_attempts must be >= 0")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("config: reconnect_delay must be positive")
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("config: connection_timeout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: heartbeat_interval must be positive")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("config: max_connections must be positive")
	}
	switch c.LoadBalancingStrategy {
	case StrategyRoundRobin, StrategyLeastConnections, StrategyPriority:
	default:
		return fmt.Errorf("config: unknown load_balancing_strategy %q", c.LoadBalancingStrategy)
	}
	switch c.CacheBackend {
	case CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("config: unknown cache_backend %q", c.CacheBackend)
	}
	if c.CacheBackend == CacheRedis && c.RedisAddr == "" {
		return fmt.Errorf("config: redis_addr is required for the redis backend")
	}
	if c.MaxCacheSize <= 0 {
		return fmt.Errorf("config: max_cache_size must be positive")
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("config: default_ttl must be positive")
	}
	return nil
}

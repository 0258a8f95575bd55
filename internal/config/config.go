// Package config loads service configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Services   ServicesConfig   `mapstructure:"services"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// UpstreamConfig locates one upstream service.
type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ServicesConfig locates the five upstream services.
type ServicesConfig struct {
	ThreatIntel UpstreamConfig `mapstructure:"threat_intel"`
	Stablecoin  UpstreamConfig `mapstructure:"stablecoin"`
	Screening   UpstreamConfig `mapstructure:"screening"`
	DeFiRisk    UpstreamConfig `mapstructure:"defi_risk"`
	OSINT       UpstreamConfig `mapstructure:"osint"`
}

// CacheConfig selects and tunes the snapshot cache backend.
type CacheConfig struct {
	Backend string        `mapstructure:"backend"` // "redis" or "memory"
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the redis snapshot store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// AggregatorConfig tunes refresh and polling behavior.
type AggregatorConfig struct {
	RefreshInterval        time.Duration `mapstructure:"refresh_interval"`
	ThreatIntelLimit       int           `mapstructure:"threat_intel_limit"`
	AlertDisplayLimit      int           `mapstructure:"alert_display_limit"`
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	PollMaxAttempts        int           `mapstructure:"poll_max_attempts"`
	FreshScrapeMinInterval time.Duration `mapstructure:"fresh_scrape_min_interval"`
	FullRefreshCron        string        `mapstructure:"full_refresh_cron"`
}

// KafkaConfig configures the optional alert event publisher.
type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load reads configuration from config.yaml (optional) and DEFI_GUARD_*
// environment variables, over the defaults.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("DEFI_GUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("services.threat_intel.base_url", "http://localhost:8000")
	viper.SetDefault("services.threat_intel.timeout", "15s")
	viper.SetDefault("services.stablecoin.base_url", "http://localhost:8001")
	viper.SetDefault("services.stablecoin.timeout", "15s")
	viper.SetDefault("services.screening.base_url", "http://localhost:3000")
	viper.SetDefault("services.screening.timeout", "15s")
	viper.SetDefault("services.defi_risk.base_url", "http://localhost:3001")
	viper.SetDefault("services.defi_risk.timeout", "15s")
	viper.SetDefault("services.osint.base_url", "http://localhost:8080")
	viper.SetDefault("services.osint.timeout", "15s")

	viper.SetDefault("cache.backend", "memory")
	viper.SetDefault("cache.ttl", "2h")
	viper.SetDefault("cache.redis.addr", "localhost:6379")
	viper.SetDefault("cache.redis.password", "")
	viper.SetDefault("cache.redis.db", 0)
	viper.SetDefault("cache.redis.key_prefix", "defi-guard")

	viper.SetDefault("aggregator.refresh_interval", "60s")
	viper.SetDefault("aggregator.threat_intel_limit", 50)
	viper.SetDefault("aggregator.alert_display_limit", 5)
	viper.SetDefault("aggregator.poll_interval", "3s")
	viper.SetDefault("aggregator.poll_max_attempts", 100)
	viper.SetDefault("aggregator.fresh_scrape_min_interval", "5m")
	// Daily off-peak forced re-scrape (seconds-precision cron spec).
	viper.SetDefault("aggregator.full_refresh_cron", "0 0 4 * * *")

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "alert-generated")
	viper.SetDefault("kafka.client_id", "dashboard-aggregator")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

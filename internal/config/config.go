// Package config handles configuration loading for ChainSentry.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chainsentry/internal/consumer"
	"chainsentry/internal/detect/intel"
	"chainsentry/internal/fetcher"
	"chainsentry/internal/knownbad"
	"chainsentry/internal/model"
	"chainsentry/internal/storage"
	"chainsentry/internal/stream"
)

// Config holds the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Queue     QueueConfig     `yaml:"queue"`
	Models    ModelsConfig    `yaml:"models"`
	Intel     IntelConfig     `yaml:"intel"`
	KnownBad  KnownBadConfig  `yaml:"knownbad"`
	Storage   StorageConfig   `yaml:"storage"`
	Consumer  consumer.Config `yaml:"consumer"`
	Stream    stream.Config   `yaml:"stream"`
	Fetcher   fetcher.Config  `yaml:"fetcher"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	APIKeyHeader string   `yaml:"api_key_header"`
	APIKeys      []string `yaml:"api_keys"`
	Enabled      bool     `yaml:"enabled"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RequestsPerIP int           `yaml:"requests_per_ip"`
	WindowSize    time.Duration `yaml:"window_size"`
	BurstSize     int           `yaml:"burst_size"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
	ExemptPaths   []string      `yaml:"exempt_paths"`
	TrustProxy    bool          `yaml:"trust_proxy"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// QueueConfig holds verdict queue settings.
type QueueConfig struct {
	Size int `yaml:"size"`
}

// ModelsConfig holds ML model bundle settings. When Required is false a
// missing or mismatched bundle degrades the detectors instead of failing
// startup.
type ModelsConfig struct {
	Dir      string         `yaml:"dir"`
	Required bool           `yaml:"required"`
	S3       model.S3Config `yaml:"s3"`
}

// IntelConfig holds threat-intelligence lookup settings.
type IntelConfig struct {
	Lookup     intel.Config       `yaml:"lookup"`
	VirusTotal intel.SourceConfig `yaml:"virustotal"`
	AbuseIPDB  intel.SourceConfig `yaml:"abuseipdb"`
	OTX        intel.SourceConfig `yaml:"otx"`
}

// Sources builds the enabled intel sources.
func (c IntelConfig) Sources() []intel.Source {
	return intel.BuildSources(c.VirusTotal, c.AbuseIPDB, c.OTX)
}

// KnownBadConfig holds known-bad feed settings.
type KnownBadConfig struct {
	Refresher knownbad.RefresherConfig `yaml:"refresher"`
	RedisAddr string                   `yaml:"redis_addr"`
}

// StorageConfig holds verdict persistence settings.
type StorageConfig struct {
	ClickHouse  storage.ClickHouseConfig  `yaml:"clickhouse"`
	BatchWriter storage.BatchWriterConfig `yaml:"batch_writer"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			APIKeyHeader: "X-API-Key",
			Enabled:      false,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RequestsPerIP: 300,
			WindowSize:    time.Minute,
			BurstSize:     50,
			CleanupPeriod: 5 * time.Minute,
			ExemptPaths:   []string{"/health", "/metrics"},
			TrustProxy:    false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Queue: QueueConfig{
			Size: 10000,
		},
		Models: ModelsConfig{
			Dir:      "models",
			Required: false,
			S3:       model.DefaultS3Config(),
		},
		Intel: IntelConfig{
			Lookup: intel.DefaultConfig(),
			VirusTotal: intel.SourceConfig{
				BaseURL: "https://www.virustotal.com/vtapi/v2",
				Timeout: 5 * time.Second,
			},
			AbuseIPDB: intel.SourceConfig{
				BaseURL: "https://api.abuseipdb.com/api/v2",
				Timeout: 5 * time.Second,
			},
			OTX: intel.SourceConfig{
				BaseURL: "https://otx.alienvault.com/api/v1",
				Timeout: 5 * time.Second,
			},
		},
		KnownBad: KnownBadConfig{
			Refresher: knownbad.DefaultRefresherConfig(),
		},
		Storage: StorageConfig{
			ClickHouse:  storage.DefaultClickHouseConfig(),
			BatchWriter: storage.DefaultBatchWriterConfig(),
		},
		Consumer: consumer.DefaultConfig(),
		Stream:   stream.DefaultConfig(),
		Fetcher: fetcher.Config{
			Timeout: 10 * time.Second,
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("SENTRY_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Secrets are
// expected to arrive this way rather than in the config file.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("SENTRY_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}
	if level := os.Getenv("SENTRY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if apiKey := os.Getenv("SENTRY_API_KEY"); apiKey != "" {
		c.Auth.APIKeys = append(c.Auth.APIKeys, apiKey)
		c.Auth.Enabled = true
	}
	if dir := os.Getenv("SENTRY_MODEL_DIR"); dir != "" {
		c.Models.Dir = dir
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
		c.Storage.ClickHouse.Enabled = true
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Stream.Brokers = splitAndTrim(brokers)
		c.Stream.Enabled = true
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.KnownBad.RedisAddr = addr
	}

	if key := os.Getenv("VIRUSTOTAL_API_KEY"); key != "" {
		c.Intel.VirusTotal.APIKey = key
		c.Intel.VirusTotal.Enabled = true
	}
	if key := os.Getenv("ABUSEIPDB_API_KEY"); key != "" {
		c.Intel.AbuseIPDB.APIKey = key
		c.Intel.AbuseIPDB.Enabled = true
	}
	if key := os.Getenv("OTX_API_KEY"); key != "" {
		c.Intel.OTX.APIKey = key
		c.Intel.OTX.Enabled = true
	}
}

// splitAndTrim splits a comma-separated list and drops empty parts.
func splitAndTrim(s string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Queue.Size <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth enabled with no api_keys")
	}
	if c.Models.Required && c.Models.Dir == "" {
		return fmt.Errorf("models.dir is required when models are required")
	}
	if err := c.Stream.Validate(); err != nil {
		return err
	}
	if c.Fetcher.Enabled && len(c.Fetcher.Endpoints) == 0 {
		return fmt.Errorf("fetcher enabled with no endpoints")
	}
	if c.Storage.ClickHouse.Enabled && len(c.Storage.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("storage enabled with no clickhouse hosts")
	}
	return nil
}

// Package config loads process-wide, init-time configuration for codexd:
// a YAML file on disk (optional) with environment-variable overrides on
// top, following the teacher pack's env-first configuration style.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DocumentConfig holds the engine-level fields named in §6: retention,
// GC cadence, and causal-buffer sizing for every Document instance.
type DocumentConfig struct {
	MaxOperationsInMemory int64         `yaml:"max_operations_in_memory"`
	GCInterval            time.Duration `yaml:"gc_interval"`
	TombstoneTTL          time.Duration `yaml:"tombstone_ttl"`
	PendingBufferSize     int           `yaml:"pending_buffer_size"`
	CollaborationEnabled  bool          `yaml:"collaboration_enabled"`
}

// ServerConfig holds the RPC/CLI surface's listen addresses.
type ServerConfig struct {
	TCPAddress       string `yaml:"tcp_address"`
	WebSocketAddress string `yaml:"websocket_address"`
	MetricsAddress   string `yaml:"metrics_address"`
}

// AuthConfig holds the RPC boundary's JWT signing settings.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// PersistenceConfig selects and configures a SnapshotStore backend.
type PersistenceConfig struct {
	Backend    string `yaml:"backend"` // "file" or "badger"
	DataDir    string `yaml:"data_dir"`
	Passphrase string `yaml:"passphrase"`
}

// LoggingConfig holds zap logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds OpenTelemetry/Jaeger exporter settings.
type TracingConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ServiceName    string `yaml:"service_name"`
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

// Config is the full process-wide configuration for codexd.
type Config struct {
	Document    DocumentConfig    `yaml:"document"`
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// Default returns a Config populated with the defaults spec.md §6
// names for every field it constrains, plus sensible defaults for the
// ambient sections it adds.
func Default() *Config {
	return &Config{
		Document: DocumentConfig{
			MaxOperationsInMemory: 10000,
			GCInterval:            5 * time.Minute,
			TombstoneTTL:          24 * time.Hour,
			PendingBufferSize:     256,
			CollaborationEnabled:  true,
		},
		Server: ServerConfig{
			TCPAddress:       "0.0.0.0:7420",
			WebSocketAddress: "0.0.0.0:7421",
			MetricsAddress:   "0.0.0.0:9420",
		},
		Auth: AuthConfig{
			JWTSecret:     "CHANGE_ME_IN_PRODUCTION_" + strconv.FormatInt(int64(os.Getpid()), 36),
			TokenDuration: time.Hour,
		},
		Persistence: PersistenceConfig{
			Backend: "file",
			DataDir: "./data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    "codexd",
			JaegerEndpoint: "http://localhost:14268/api/traces",
		},
	}
}

// Load reads a YAML config file at path (if it exists), layers
// environment overrides on top, and validates the result. A missing
// file is not an error: Default() plus environment overrides is a
// valid configuration on its own.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Document.MaxOperationsInMemory = getEnvInt64("CODEX_MAX_OPERATIONS_IN_MEMORY", c.Document.MaxOperationsInMemory)
	c.Document.GCInterval = getEnvDuration("CODEX_GC_INTERVAL", c.Document.GCInterval)
	c.Document.TombstoneTTL = getEnvDuration("CODEX_TOMBSTONE_TTL", c.Document.TombstoneTTL)
	c.Document.PendingBufferSize = getEnvInt("CODEX_PENDING_BUFFER_SIZE", c.Document.PendingBufferSize)
	c.Document.CollaborationEnabled = getEnvBool("CODEX_COLLABORATION_ENABLED", c.Document.CollaborationEnabled)

	c.Server.TCPAddress = getEnv("CODEX_TCP_ADDRESS", c.Server.TCPAddress)
	c.Server.WebSocketAddress = getEnv("CODEX_WEBSOCKET_ADDRESS", c.Server.WebSocketAddress)
	c.Server.MetricsAddress = getEnv("CODEX_METRICS_ADDRESS", c.Server.MetricsAddress)

	c.Auth.JWTSecret = getEnv("CODEX_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.TokenDuration = getEnvDuration("CODEX_TOKEN_DURATION", c.Auth.TokenDuration)

	c.Persistence.Backend = getEnv("CODEX_PERSISTENCE_BACKEND", c.Persistence.Backend)
	c.Persistence.DataDir = getEnv("CODEX_DATA_DIR", c.Persistence.DataDir)
	c.Persistence.Passphrase = getEnv("CODEX_PERSISTENCE_PASSPHRASE", c.Persistence.Passphrase)

	c.Logging.Level = getEnv("CODEX_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("CODEX_LOG_FORMAT", c.Logging.Format)

	c.Tracing.Enabled = getEnvBool("CODEX_TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.ServiceName = getEnv("CODEX_TRACING_SERVICE_NAME", c.Tracing.ServiceName)
	c.Tracing.JaegerEndpoint = getEnv("CODEX_JAEGER_ENDPOINT", c.Tracing.JaegerEndpoint)
}

// Validate checks the configuration for values that would violate §8's
// invariants or otherwise make no sense (non-positive retention bounds,
// an unknown persistence backend).
func (c *Config) Validate() error {
	if c.Document.MaxOperationsInMemory <= 0 {
		return fmt.Errorf("config: max_operations_in_memory must be positive, got %d", c.Document.MaxOperationsInMemory)
	}
	if c.Document.GCInterval <= 0 {
		return fmt.Errorf("config: gc_interval must be positive, got %s", c.Document.GCInterval)
	}
	if c.Document.TombstoneTTL <= 0 {
		return fmt.Errorf("config: tombstone_ttl must be positive, got %s", c.Document.TombstoneTTL)
	}
	if c.Document.PendingBufferSize <= 0 {
		return fmt.Errorf("config: pending_buffer_size must be positive, got %d", c.Document.PendingBufferSize)
	}
	switch c.Persistence.Backend {
	case "file", "badger":
	default:
		return fmt.Errorf("config: unknown persistence backend %q", c.Persistence.Backend)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the server
type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Auth        AuthConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig
	RateLimit   RateLimitConfig
	Security    SecurityConfig
	Proxy       ProxyConfig
	Circuit     CircuitConfig
	Scoring     ScoringConfig
	Aggregation AggregationConfig
	Whitelist   WhitelistConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ReadTimeout    int // seconds
	WriteTimeout   int // seconds
	IdleTimeout    int // seconds
	RequestTimeout int // seconds
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string // "sqlite" or "postgres"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	Type string // "none" or "api-key"
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// MetricsConfig holds Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	CleanupMinutes int
}

// SecurityConfig holds security filter settings
type SecurityConfig struct {
	FilterEnabled bool
	MaxBodySizeMB int
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool
	TrustedProxies []string // CIDR notation
}

// CircuitConfig holds score circuit parameters. The bounds feed the
// normalization divisors, so changing any of them requires a new key
// version.
type CircuitConfig struct {
	KeyVersion     string
	MaxDaysAgo     uint64
	MaxVolume      uint64
	MaxMarketCap   uint64
	MaxTotalSupply uint64
}

// ScoringConfig holds vendor-side evaluation settings
type ScoringConfig struct {
	VendorID        string
	EtherscanAPIKey string
	CMCAPIKey       string
}

// AggregationConfig holds multi-vendor agreement settings
type AggregationConfig struct {
	Quorum         int
	ToleranceDelta string // decimal field element, "0" means exact equality
	WaitSeconds    int    // how long a collection round waits for quorum
}

// WhitelistConfig holds submission verification settings
type WhitelistConfig struct {
	InitialThreshold string // decimal field element
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			Host:           getEnv("HOST", "0.0.0.0"),
			ReadTimeout:    getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:    getEnvInt("SERVER_IDLE_TIMEOUT", 120),
			RequestTimeout: getEnvInt("SERVER_REQUEST_TIMEOUT", 30),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/trustgate.db"),
			},
		},
		Auth: AuthConfig{
			Type: getEnv("AUTH_TYPE", "none"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: getEnvInt("RATE_LIMIT_RPM", 300),
			BurstSize:      getEnvInt("RATE_LIMIT_BURST", 50),
			CleanupMinutes: getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
		},
		Security: SecurityConfig{
			FilterEnabled: getEnvBool("SECURITY_FILTER_ENABLED", true),
			MaxBodySizeMB: getEnvInt("SECURITY_MAX_BODY_SIZE_MB", 50),
		},
		Proxy: ProxyConfig{
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
			TrustedProxies: getEnvStringSlice("TRUSTED_PROXIES", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
		Circuit: CircuitConfig{
			KeyVersion:     getEnv("CIRCUIT_KEY_VERSION", "v1.0.0"),
			MaxDaysAgo:     getEnvUint64("CIRCUIT_MAX_DAYS_AGO", 5_000),
			MaxVolume:      getEnvUint64("CIRCUIT_MAX_VOLUME", 1_000_000_000),
			MaxMarketCap:   getEnvUint64("CIRCUIT_MAX_MARKET_CAP", 2_000_000_000),
			MaxTotalSupply: getEnvUint64("CIRCUIT_MAX_TOTAL_SUPPLY", 100_000_000_000),
		},
		Scoring: ScoringConfig{
			VendorID:        getEnv("VENDOR_ID", ""),
			EtherscanAPIKey: getEnv("ETHERSCAN_API_KEY", ""),
			CMCAPIKey:       getEnv("CMC_API_KEY", ""),
		},
		Aggregation: AggregationConfig{
			Quorum:         getEnvInt("AGGREGATION_QUORUM", 3),
			ToleranceDelta: getEnv("AGGREGATION_TOLERANCE_DELTA", "0"),
			WaitSeconds:    getEnvInt("AGGREGATION_WAIT_SECONDS", 300),
		},
		Whitelist: WhitelistConfig{
			InitialThreshold: getEnv("WHITELIST_INITIAL_THRESHOLD", "0"),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseUint(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"borrowledger/database"
)

// Storage backends
const (
	BackendPostgres = "postgres"
	BackendLevelDB  = "leveldb"
)

// Config holds all application configuration
type Config struct {
	// Storage configuration
	StorageBackend string // "postgres" or "leveldb"
	DatabaseURL    string
	DatabaseName   string
	LevelDBPath    string

	// NATS configuration
	NATSServers string // NATS server addresses (comma-separated), empty uses the in-process bus

	// Reference share pool used for ownership valuation
	PoolTotalSize   int64
	PoolTotalShares int64

	// Logging configuration
	LogLevel  string
	LogFormat string // "text" or "json"

	// OpenTelemetry configuration
	OTelEnabled              bool
	OTelExporterType         string // "console", "otlp" or "none"
	OTelOTLPEndpoint         string
	OTelServiceName          string
	OTelExportIntervalMillis int

	// Environment
	Environment string // "development", "production" or "test"
}

var (
	instance *Config
	once     sync.Once
	mu       sync.Mutex // Protects instance for test setup
)

// Get returns the global configuration instance
func Get() *Config {
	mu.Lock()
	defer mu.Unlock()

	// If instance is already set (e.g., by tests), return it
	if instance != nil {
		return instance
	}

	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			if os.Getenv("GO_TEST") == "1" || os.Getenv("ENVIRONMENT") == "test" {
				instance = NewTestConfig()
			} else {
				panic(fmt.Sprintf("failed to load config: %v", err))
			}
		}
	})
	return instance
}

// GetDatabaseURL constructs the full database URL by combining base URL and database name
func (c *Config) GetDatabaseURL() string {
	return database.ConstructDatabaseURL(c.DatabaseURL, c.DatabaseName)
}

// load loads configuration from environment variables
func load() (*Config, error) {
	config := &Config{
		// Storage
		StorageBackend: getEnvWithDefault("STORAGE_BACKEND", BackendPostgres),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DatabaseName:   os.Getenv("DATABASE_NAME"),
		LevelDBPath:    getEnvWithDefault("LEVELDB_PATH", "./data/ledger"),

		// NATS
		NATSServers: os.Getenv("NATS_SERVERS"),

		// Logging
		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "text"),

		// OpenTelemetry
		OTelEnabled:              os.Getenv("OTEL_ENABLED") == "true",
		OTelExporterType:         getEnvWithDefault("OTEL_EXPORTER_TYPE", "console"),
		OTelOTLPEndpoint:         getEnvWithDefault("OTEL_OTLP_ENDPOINT", "localhost:4317"),
		OTelServiceName:          getEnvWithDefault("OTEL_SERVICE_NAME", "borrowledger"),
		OTelExportIntervalMillis: 10000,

		// Environment
		Environment: os.Getenv("ENVIRONMENT"),
	}

	// Override defaults if environment variables are set
	if size := os.Getenv("POOL_TOTAL_SIZE"); size != "" {
		parsed, err := strconv.ParseInt(size, 10, 64)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("POOL_TOTAL_SIZE must be a non-negative integer")
		}
		config.PoolTotalSize = parsed
	}
	if shares := os.Getenv("POOL_TOTAL_SHARES"); shares != "" {
		parsed, err := strconv.ParseInt(shares, 10, 64)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("POOL_TOTAL_SHARES must be a non-negative integer")
		}
		config.PoolTotalShares = parsed
	}
	if interval := os.Getenv("OTEL_EXPORT_INTERVAL_MS"); interval != "" {
		if parsed, err := strconv.Atoi(interval); err == nil && parsed > 0 {
			config.OTelExportIntervalMillis = parsed
		}
	}

	config.StorageBackend = strings.ToLower(strings.TrimSpace(config.StorageBackend))

	// Set default environment if not specified
	if config.Environment == "" {
		config.Environment = "development"
	}

	if config.Environment != "test" {
		if err := config.validate(); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// validate checks the backend-specific required settings
func (c *Config) validate() error {
	switch c.StorageBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s backend", BackendPostgres)
		}
		// If DatabaseName is provided, ensure it's not empty
		if c.DatabaseName != "" && strings.TrimSpace(c.DatabaseName) == "" {
			return fmt.Errorf("DATABASE_NAME cannot be empty when provided")
		}
	case BackendLevelDB:
		if strings.TrimSpace(c.LevelDBPath) == "" {
			return fmt.Errorf("LEVELDB_PATH is required for the %s backend", BackendLevelDB)
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	return nil
}

// getEnvWithDefault returns the environment variable value or a default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Test helpers - only use in tests

// SetTestConfig overrides the global config instance for testing
func SetTestConfig(testConfig *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = testConfig
}

// ResetConfig resets the global config instance and sync.Once for testing
func ResetConfig() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}

// NewTestConfig creates a minimal config suitable for unit tests
func NewTestConfig() *Config {
	return &Config{
		Environment:              "test",
		StorageBackend:           BackendLevelDB,
		LogLevel:                 "debug",
		LogFormat:                "text",
		OTelExporterType:         "none",
		OTelServiceName:          "borrowledger-test",
		OTelExportIntervalMillis: 10000,
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the checkout service reads from the environment.
type Config struct {
	HTTPPort string
	GRPCPort string
	LogLevel string

	BackendBaseURL      string
	BackendAccessToken  string
	BackendRefreshToken string
	RequestTimeout      time.Duration
	PaymentTimeout      time.Duration
	LoyaltyTimeout      time.Duration
	ShutdownTimeout     time.Duration

	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Database       DatabaseConfig
	MigrationsPath string

	KafkaBrokers []string

	MongoURI    string
	MongoDBName string

	CatalogDBPath         string
	CatalogMigrationsPath string

	TerminalBridgeAddr string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// Load reads an optional .env file and then the process environment. Values already in
// the environment win over the file.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := &Config{
		HTTPPort:              getEnv("HTTP_PORT", "8080"),
		GRPCPort:              getEnv("GRPC_PORT", "50057"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		BackendBaseURL:        getEnv("BACKEND_BASE_URL", "http://localhost:3000"),
		BackendAccessToken:    os.Getenv("BACKEND_ACCESS_TOKEN"),
		BackendRefreshToken:   os.Getenv("BACKEND_REFRESH_TOKEN"),
		CacheBackend:          strings.ToLower(getEnv("CACHE_BACKEND", "memory")),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		MigrationsPath:        getEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		KafkaBrokers:          splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		MongoURI:              getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:           getEnv("MONGO_DB_NAME", "checkout"),
		CatalogDBPath:         getEnv("CATALOG_DB_PATH", "./catalog.db"),
		CatalogMigrationsPath: getEnv("CATALOG_MIGRATIONS_PATH", "./internal/catalog/migrations"),
		TerminalBridgeAddr:    getEnv("TERMINAL_BRIDGE_ADDR", "localhost:50060"),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "checkout"),
		},
	}

	var err error
	if cfg.Database.Port, err = getInt("DB_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.PaymentTimeout, err = getDuration("PAYMENT_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.LoyaltyTimeout, err = getDuration("LOYALTY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.CacheBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("CACHE_BACKEND must be redis or memory, got %q", c.CacheBackend)
	}
	if c.PaymentTimeout <= 0 {
		return errors.New("PAYMENT_TIMEOUT must be positive")
	}
	if c.BackendBaseURL == "" {
		return errors.New("BACKEND_BASE_URL is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

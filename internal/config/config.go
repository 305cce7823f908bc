package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/cointop10/cointop10-websocket/internal/models"
)

type Config struct {
	Server   ServerConfig
	Delivery DeliveryConfig
	Exchange ExchangeConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Logging  LoggingConfig

	// StreamsFile is an optional YAML file of streams to open at boot.
	StreamsFile string
}

type ServerConfig struct {
	HTTPPort    int
	Environment string
}

type DeliveryConfig struct {
	Endpoint string
	Timeout  time.Duration
}

type ExchangeConfig struct {
	BaseInterval     string
	Testnet          bool
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	EnableProxies    bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type CacheConfig struct {
	CandleTTL time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:    getEnvInt("HTTP_PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Delivery: DeliveryConfig{
			Endpoint: getEnv("DELIVERY_ENDPOINT", "http://localhost:9000/candles"),
			Timeout:  parseDuration(getEnv("DELIVERY_TIMEOUT", "10s"), 10*time.Second),
		},
		Exchange: ExchangeConfig{
			BaseInterval:     getEnv("BASE_INTERVAL", "1m"),
			Testnet:          getEnvBool("EXCHANGE_TESTNET", false),
			ReconnectDelay:   parseDuration(getEnv("RECONNECT_DELAY", "5s"), 5*time.Second),
			HandshakeTimeout: parseDuration(getEnv("WS_HANDSHAKE_TIMEOUT", "15s"), 15*time.Second),
			EnableProxies:    getEnvBool("ENABLE_PROXIES", false),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			CandleTTL: time.Duration(getEnvInt("CACHE_TTL_CANDLE", 120)) * time.Second,
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		StreamsFile: getEnv("STREAMS_FILE", ""),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Delivery.Endpoint == "" {
		return fmt.Errorf("DELIVERY_ENDPOINT is required")
	}
	if _, err := models.BaseCandleCount(c.Exchange.BaseInterval); err != nil {
		return fmt.Errorf("BASE_INTERVAL is invalid: %w", err)
	}
	return nil
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

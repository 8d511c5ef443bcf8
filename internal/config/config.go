package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Pool     PoolConfig
	Upstream UpstreamConfig
	Crawler  CrawlerConfig
	Export   ExportConfig
	LogLevel string
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type PoolConfig struct {
	Strategy         string
	RefreshInterval  time.Duration
	BlockCooldown    time.Duration
	WaitTimeout      time.Duration
	WaitPollInterval time.Duration
	SweepInterval    time.Duration
}

type UpstreamConfig struct {
	BaseURL        string
	Referer        string
	UserAgent      string
	RequestTimeout time.Duration
	MaxAttempts    int
	RequestSpacing time.Duration
}

type CrawlerConfig struct {
	Workers int
}

type ExportConfig struct {
	OutputDir string
}

// Selection strategies understood by the cookie selector.
const (
	StrategyRoundRobin        = "round_robin"
	StrategyRandom            = "random"
	StrategyLeastUsed         = "least_used"
	StrategyLeastRecentlyUsed = "least_recently_used"
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "indexhunter"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		Pool: PoolConfig{
			Strategy:         getEnv("POOL_STRATEGY", StrategyLeastRecentlyUsed),
			RefreshInterval:  getEnvAsDuration("POOL_REFRESH_INTERVAL", 300*time.Second),
			BlockCooldown:    getEnvAsDuration("POOL_BLOCK_COOLDOWN", 1800*time.Second),
			WaitTimeout:      getEnvAsDuration("POOL_WAIT_TIMEOUT", 1800*time.Second),
			WaitPollInterval: getEnvAsDuration("POOL_WAIT_POLL_INTERVAL", 5*time.Second),
			SweepInterval:    getEnvAsDuration("POOL_SWEEP_INTERVAL", 60*time.Second),
		},
		Upstream: UpstreamConfig{
			BaseURL:        getEnv("UPSTREAM_BASE_URL", "https://index.baidu.com"),
			Referer:        getEnv("UPSTREAM_REFERER", "https://index.baidu.com/v2/main/index.html"),
			UserAgent:      getEnv("UPSTREAM_USER_AGENT", defaultUserAgent),
			RequestTimeout: getEnvAsDuration("UPSTREAM_REQUEST_TIMEOUT", 10*time.Second),
			MaxAttempts:    getEnvAsInt("UPSTREAM_MAX_ATTEMPTS", 3),
			RequestSpacing: getEnvAsDuration("UPSTREAM_REQUEST_SPACING", 3*time.Second),
		},
		Crawler: CrawlerConfig{
			Workers: getEnvAsInt("CRAWLER_WORKERS", 4),
		},
		Export: ExportConfig{
			OutputDir: getEnv("EXPORT_OUTPUT_DIR", "output"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateStrategy(cfg.Pool.Strategy); err != nil {
		return nil, err
	}

	if cfg.Crawler.Workers < 1 {
		return nil, fmt.Errorf("CRAWLER_WORKERS must be at least 1 (got %d)", cfg.Crawler.Workers)
	}

	if cfg.Upstream.MaxAttempts < 1 {
		return nil, fmt.Errorf("UPSTREAM_MAX_ATTEMPTS must be at least 1 (got %d)", cfg.Upstream.MaxAttempts)
	}

	return cfg, nil
}

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36"

func validateStrategy(strategy string) error {
	switch strategy {
	case StrategyRoundRobin, StrategyRandom, StrategyLeastUsed, StrategyLeastRecentlyUsed:
		return nil
	}
	return fmt.Errorf("POOL_STRATEGY must be one of %s (got %q)",
		strings.Join([]string{StrategyRoundRobin, StrategyRandom, StrategyLeastUsed, StrategyLeastRecentlyUsed}, ", "),
		strategy)
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// Package config loads runtime configuration from the environment. Every
// knob has a default that works for a local run against the storefronts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Export   ExportConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ScraperConfig tunes the retry and recovery stack: fetch retries, challenge
// waits, the health gate, the per-kind circuit breaker, and the politeness
// delay between product pages.
type ScraperConfig struct {
	MaxRetries          int
	SessionRetries      int
	ChallengeTimeout    time.Duration
	ChallengeRetries    int
	ExtendedPageTimeout time.Duration

	DelayMin time.Duration
	DelayMax time.Duration

	MaxConsecutiveFailures int
	MinRequestsForRate     int
	MinSuccessRate         float64

	BreakerThreshold int
	BreakerWindow    time.Duration

	// MaxProducts caps how many product pages each site scrapes per run.
	// Zero means no cap.
	MaxProducts int

	UserAgents []string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Stream       string
	PollInterval time.Duration
	BatchSize    int
}

type ExportConfig struct {
	OutputDir     string
	CheckpointDir string
	SitesFile     string
	SplitBySite   bool
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Scraper: ScraperConfig{
			MaxRetries:          getIntOrDefault("SCRAPER_MAX_RETRIES", 5),
			SessionRetries:      getIntOrDefault("SCRAPER_SESSION_RETRIES", 3),
			ChallengeTimeout:    getDurationOrDefault("SCRAPER_CHALLENGE_TIMEOUT", 30*time.Second),
			ChallengeRetries:    getIntOrDefault("SCRAPER_CHALLENGE_RETRIES", 1),
			ExtendedPageTimeout: getDurationOrDefault("SCRAPER_EXTENDED_PAGE_TIMEOUT", 60*time.Second),

			DelayMin: getDurationOrDefault("SCRAPER_DELAY_MIN", 2*time.Second),
			DelayMax: getDurationOrDefault("SCRAPER_DELAY_MAX", 5*time.Second),

			MaxConsecutiveFailures: getIntOrDefault("SCRAPER_MAX_CONSECUTIVE_FAILURES", 10),
			MinRequestsForRate:     getIntOrDefault("SCRAPER_MIN_REQUESTS_FOR_RATE", 20),
			MinSuccessRate:         getFloatOrDefault("SCRAPER_MIN_SUCCESS_RATE", 0.20),

			BreakerThreshold: getIntOrDefault("SCRAPER_BREAKER_THRESHOLD", 20),
			BreakerWindow:    getDurationOrDefault("SCRAPER_BREAKER_WINDOW", 300*time.Second),

			MaxProducts: getIntOrDefault("SCRAPER_MAX_PRODUCTS", 0),
			UserAgents:  getStringSliceOrDefault("SCRAPER_USER_AGENTS", defaultUserAgents()),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
		},
		Database: DatabaseConfig{
			Host:            getEnvOrDefault("DB_HOST", "localhost"),
			Port:            getIntOrDefault("DB_PORT", 5432),
			User:            getEnvOrDefault("DB_USER", "postgres"),
			Password:        getEnvOrDefault("DB_PASSWORD", ""),
			Name:            getEnvOrDefault("DB_NAME", "wheel_scraper"),
			SSLMode:         getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns:        getIntOrDefault("DB_MAX_CONNS", 10),
			MinConns:        getIntOrDefault("DB_MIN_CONNS", 2),
			MaxConnLifetime: getDurationOrDefault("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime: getDurationOrDefault("DB_MAX_CONN_IDLE", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:           getIntOrDefault("REDIS_DB", 0),
			Stream:       getEnvOrDefault("REDIS_STREAM", "stream:scrape_lifecycle"),
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
		},
		Export: ExportConfig{
			OutputDir:     getEnvOrDefault("EXPORT_OUTPUT_DIR", "data/processed"),
			CheckpointDir: getEnvOrDefault("EXPORT_CHECKPOINT_DIR", "data/checkpoints"),
			SitesFile:     getEnvOrDefault("SITES_FILE", "config/sites_config.json"),
			SplitBySite:   getBoolOrDefault("EXPORT_SPLIT_BY_SITE", false),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES must be at least 1")
	}

	if c.Scraper.DelayMin > c.Scraper.DelayMax {
		return fmt.Errorf("SCRAPER_DELAY_MIN cannot be greater than SCRAPER_DELAY_MAX")
	}

	if c.Scraper.MinSuccessRate <= 0 || c.Scraper.MinSuccessRate > 1 {
		return fmt.Errorf("SCRAPER_MIN_SUCCESS_RATE must be in (0, 1]")
	}

	if c.Scraper.BreakerThreshold < 1 {
		return fmt.Errorf("SCRAPER_BREAKER_THRESHOLD must be at least 1")
	}

	if c.Redis.BatchSize < 1 {
		return fmt.Errorf("RELAY_BATCH_SIZE must be at least 1")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

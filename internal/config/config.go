package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/vjranagit/bouncedash/pkg/dashboard"
	"github.com/vjranagit/bouncedash/pkg/logger"
	"github.com/vjranagit/bouncedash/pkg/storage"
)

const dateLayout = "2006-01-02"

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Bounce    BounceConfig    `json:"bounce"`
	Dashboard DashboardConfig `json:"dashboard"`
	Storage   StorageConfig   `json:"storage"`
	Log       LogConfig       `json:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr     string        `json:"listen_addr"`
	Timeout        time.Duration `json:"timeout"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// BounceConfig holds the remote bounce service settings
type BounceConfig struct {
	BaseURL      string        `json:"base_url"`
	FetchTimeout time.Duration `json:"fetch_timeout"`
}

// DashboardConfig holds request lifecycle and metric settings
type DashboardConfig struct {
	// The static provisioning baseline is CapacityTotal spread over CapacityPeriods
	CapacityTotal        float64       `json:"capacity_total"`
	CapacityPeriods      int           `json:"capacity_periods"`
	NotificationDuration time.Duration `json:"notification_duration"`
	PickerCutoff         time.Time     `json:"picker_cutoff"`
	SessionIdleTimeout   time.Duration `json:"session_idle_timeout"`
	SweepInterval        time.Duration `json:"sweep_interval"`
}

// StorageConfig holds snapshot store configuration
type StorageConfig struct {
	CompressionLevel int `json:"compression_level"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// Load reads .env (if present) and then builds the configuration from the
// environment
func Load() *Config {
	// Missing .env is fine; real environment variables still apply
	_ = godotenv.Load()
	return DefaultConfig()
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
			Timeout:        getEnvDuration("SERVER_TIMEOUT", 60*time.Second),
			AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		},
		Bounce: BounceConfig{
			BaseURL:      getEnv("BOUNCE_BASE_URL", "http://localhost:8081"),
			FetchTimeout: getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		},
		Dashboard: DashboardConfig{
			CapacityTotal:        getEnvFloat("CAPACITY_TOTAL", 1210),
			CapacityPeriods:      getEnvInt("CAPACITY_PERIODS", 6),
			NotificationDuration: getEnvDuration("NOTIFICATION_DURATION", 2*time.Second),
			PickerCutoff:         getEnvDate("PICKER_CUTOFF", time.Date(2024, 5, 15, 0, 0, 0, 0, time.Local)),
		},
		Storage: StorageConfig{
			CompressionLevel: getEnvInt("COMPRESSION_LEVEL", 2),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnvBool("LOG_PRETTY", false),
		},
	}
}

// CapacityBaseline returns the per-period static provisioning baseline
func (c *Config) CapacityBaseline() float64 {
	if c.Dashboard.CapacityPeriods <= 0 {
		return 0
	}
	return c.Dashboard.CapacityTotal / float64(c.Dashboard.CapacityPeriods)
}

// ToDashboardConfig converts to dashboard.Config
func (c *Config) ToDashboardConfig() dashboard.Config {
	return dashboard.Config{
		CapacityBaseline:     c.CapacityBaseline(),
		FetchTimeout:         c.Bounce.FetchTimeout,
		NotificationDuration: c.Dashboard.NotificationDuration,
		SessionIdleTimeout:   c.Dashboard.SessionIdleTimeout,
	}
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		CompressionLevel: c.Storage.CompressionLevel,
	}
}

// ToLoggerConfig converts to logger.Config
func (c *Config) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if c.Bounce.BaseURL == "" {
		return fmt.Errorf("bounce base URL is required")
	}
	u, err := url.Parse(c.Bounce.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("bounce base URL must be an absolute http(s) URL: %q", c.Bounce.BaseURL)
	}

	if c.Bounce.FetchTimeout < 0 {
		return fmt.Errorf("fetch timeout must not be negative")
	}

	if c.Dashboard.CapacityPeriods < 1 {
		return fmt.Errorf("capacity periods must be at least 1")
	}

	if c.Dashboard.CapacityTotal <= 0 {
		return fmt.Errorf("capacity total must be positive")
	}

	if c.Dashboard.NotificationDuration < 0 {
		return fmt.Errorf("notification duration must not be negative")
	}

	if c.Dashboard.SessionIdleTimeout < 0 {
		return fmt.Errorf("session idle timeout must not be negative")
	}

	if c.Dashboard.SessionIdleTimeout > 0 && c.Dashboard.SweepInterval <= 0 {
		return fmt.Errorf("session sweep interval must be positive")
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDate(key string, defaultValue time.Time) time.Time {
	if value := os.Getenv(key); value != "" {
		if t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(value), time.Local); err == nil {
			return t
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // clinic timezones must resolve in minimal containers

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	MigrationsURL string

	LogLevel string

	// Queue rules. Clinic-days are calendar days in ClinicTimezone.
	ClinicTimezone string
	GraceWindow    time.Duration
	ReopenWindow   time.Duration

	// Event bus
	EventHistorySize    int
	EventHandlerTimeout time.Duration

	// Outbound SMS. An empty gateway URL runs notifications in simulation mode.
	SMSGatewayURL       string
	SMSGatewayTimeout   time.Duration
	SMSSenderID         string
	NotifyWorkers       int
	SMSRateLimit        int
	NotifyMonthlyLimit  int
	SkipNotifyThreshold int
	TemplatesPath       string

	// Background jobs. An empty schedule disables automatic end-of-day.
	AutoCloseSchedule   string
	DepthSampleInterval time.Duration
}

// Load reads an optional .env file, then the environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL:   dbURL,
		DBMaxConns:    int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:    int32(getInt("DB_MIN_CONNS", 5)),
		MigrationsURL: getEnv("MIGRATIONS_URL", "file://migrations"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		ClinicTimezone: getEnv("CLINIC_TIMEZONE", "Africa/Casablanca"),
		GraceWindow:    getDuration("GRACE_WINDOW", 10*time.Minute),
		ReopenWindow:   getDuration("REOPEN_WINDOW", 2*time.Hour),

		EventHistorySize:    getInt("EVENT_HISTORY_SIZE", 256),
		EventHandlerTimeout: getDuration("EVENT_HANDLER_TIMEOUT", 5*time.Second),

		SMSGatewayURL:       getEnv("SMS_GATEWAY_URL", ""),
		SMSGatewayTimeout:   getDuration("SMS_GATEWAY_TIMEOUT", 5*time.Second),
		SMSSenderID:         getEnv("SMS_SENDER_ID", "CLINIC"),
		NotifyWorkers:       getInt("NOTIFY_WORKERS", 3),
		SMSRateLimit:        getInt("SMS_RATE_LIMIT", 10),
		NotifyMonthlyLimit:  getInt("NOTIFY_MONTHLY_LIMIT", 500),
		SkipNotifyThreshold: getInt("SKIP_NOTIFY_THRESHOLD", 1),
		TemplatesPath:       getEnv("TEMPLATES_PATH", ""),

		AutoCloseSchedule:   getEnv("AUTO_CLOSE_SCHEDULE", ""),
		DepthSampleInterval: getDuration("DEPTH_SAMPLE_INTERVAL", 5*time.Second),
	}

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location resolves ClinicTimezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// SimulateSMS reports whether outbound messages are logged instead of sent.
func (c *Config) SimulateSMS() bool { return c.SMSGatewayURL == "" }

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

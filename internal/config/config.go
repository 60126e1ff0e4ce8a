package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingToken       = errors.New("PLATFORM_TOKEN is required")
)

// maxPanelRefreshTimeout bounds PANEL_REFRESH_TIMEOUT
const maxPanelRefreshTimeout = 5 * time.Second

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	Token         string
	ApplicationID string // optional; defaults to the bot user's id

	// Database
	DatabaseURL string
	DBMaxConns  int
	FlagCatalog string // optional YAML file overriding the built-in catalog

	// Panels
	PanelRefreshTimeout time.Duration
	SessionTimeout      time.Duration

	// Activity checks
	ActivityExpiry    time.Duration
	ActivityThreshold int
	ActivityEmoji     string
	AlertsChannel     string

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables. envFile, if not
// empty, is loaded first; otherwise a .env in the working directory is used
// when present.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	} else {
		// Load .env file if it exists (ignore error if not found)
		_ = godotenv.Load()
	}

	cfg := &Config{
		Token:         getEnvOrDefault("PLATFORM_TOKEN", os.Getenv("DISCORD_BOT_TOKEN")),
		ApplicationID: os.Getenv("DISCORD_APPLICATION_ID"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		FlagCatalog:   os.Getenv("FLAG_CATALOG"),
		ActivityEmoji: getEnvOrDefault("ACTIVITY_EMOJI", "✅"),
		AlertsChannel: getEnvOrDefault("ALERTS_CHANNEL", "alerts"),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.DBMaxConns, err = getInt("DB_MAX_CONNS", 10); err != nil {
		return nil, err
	}
	if cfg.ActivityThreshold, err = getInt("ACTIVITY_THRESHOLD", 4); err != nil {
		return nil, err
	}
	if cfg.ActivityExpiry, err = getDuration("ACTIVITY_EXPIRY", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PanelRefreshTimeout, err = getDuration("PANEL_REFRESH_TIMEOUT", maxPanelRefreshTimeout); err != nil {
		return nil, err
	}
	if cfg.PanelRefreshTimeout > maxPanelRefreshTimeout {
		cfg.PanelRefreshTimeout = maxPanelRefreshTimeout
	}
	if cfg.SessionTimeout, err = getDuration("SESSION_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
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
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return d, nil
}

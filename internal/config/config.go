// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	GRPCPort    string
	FrontendURL string
	DBPath      string
	LogLevel    slog.Level
	Bot         BotConfig

	CheckpointInterval time.Duration
}

// BotConfig controls the Telegram side of the bot.
type BotConfig struct {
	Token         string
	Disabled      bool
	Debug         bool
	PollTimeout   int           // Long-poll timeout in seconds
	NoticeTTL     time.Duration // How long transient replies stay in the chat
	AdminCacheTTL time.Duration
	KeyboardWidth int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		GRPCPort:           getEnv("GRPC_PORT", "9090"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/tutbot.db"),
		LogLevel:           parseLevel(getEnv("LOG_LEVEL", "info")),
		CheckpointInterval: getEnvDuration("CHECKPOINT_INTERVAL", 30*time.Second),
		Bot: BotConfig{
			Token:         getEnv("TELEGRAM_TOKEN", ""),
			Disabled:      getEnvBool("BOT_DISABLED", false),
			Debug:         getEnvBool("BOT_DEBUG", false),
			PollTimeout:   getEnvInt("BOT_POLL_TIMEOUT", 60),
			NoticeTTL:     getEnvDuration("NOTICE_TTL", 5*time.Second),
			AdminCacheTTL: getEnvDuration("ADMIN_CACHE_TTL", time.Minute),
			KeyboardWidth: getEnvInt("KEYBOARD_WIDTH", 3),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.CheckpointInterval <= 0 {
		return fmt.Errorf("CHECKPOINT_INTERVAL must be > 0")
	}
	if !c.Bot.Disabled && c.Bot.Token == "" {
		return fmt.Errorf("TELEGRAM_TOKEN cannot be empty unless BOT_DISABLED is set")
	}
	if c.Bot.PollTimeout <= 0 {
		return fmt.Errorf("BOT_POLL_TIMEOUT must be > 0")
	}
	if c.Bot.KeyboardWidth <= 0 {
		return fmt.Errorf("KEYBOARD_WIDTH must be > 0")
	}
	if c.Bot.NoticeTTL < 0 || c.Bot.AdminCacheTTL < 0 {
		return fmt.Errorf("NOTICE_TTL and ADMIN_CACHE_TTL cannot be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the read-only API.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("45s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func parseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

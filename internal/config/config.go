// config.go -- environment-driven configuration for the server binary.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all env configuration vars for the contacts API.
type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string
	LogLevel    slog.Level

	// SecretKey signs access and password reset tokens (HS256).
	SecretKey string

	// Token lifetimes. Defaults: 30m access, 48h reset.
	AccessTokenTTL time.Duration
	ResetTokenTTL  time.Duration

	// Cache TTLs. Defaults: 1h for users, 30m for contacts and contact lists.
	UserCacheTTL    time.Duration
	ContactCacheTTL time.Duration

	// CORSOrigins is the allow-list for cross-origin requests.
	// Default "*" -- set CORS_ORIGINS to a comma-separated list to restrict.
	CORSOrigins []string

	// SMTP configuration for outbound email. All optional -- empty Host disables sending.
	SMTPHost         string
	SMTPPort         string // defaults to 587
	SMTPUsername     string
	SMTPPassword     string
	SMTPFromAddress  string
	SMTPResetURLBase string

	// Rate limit policy for login attempts per email.
	// Defaults: max=10, window=10m, lockout=15m.
	RateLoginMax     int
	RateLoginWindow  time.Duration
	RateLoginLockout time.Duration

	// Rate limit policy for password reset requests per email.
	// Defaults: max=3, window=1h, lockout=1h.
	RateResetMax     int
	RateResetWindow  time.Duration
	RateResetLockout time.Duration
}

// LoadConfig assembles a Config from the environment. DATABASE_URL,
// REDIS_URL, and SECRET_KEY are required; everything else has a default.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	var err error
	if cfg.DatabaseURL, err = requireEnv("DATABASE_URL"); err != nil {
		return nil, err
	}
	if cfg.RedisURL, err = requireEnv("REDIS_URL"); err != nil {
		return nil, err
	}
	// The signing secret has no safe default.
	if cfg.SecretKey, err = requireEnv("SECRET_KEY"); err != nil {
		return nil, err
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8000"
	}

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.AccessTokenTTL = envDuration("ACCESS_TOKEN_TTL", 30*time.Minute)
	cfg.ResetTokenTTL = envDuration("RESET_TOKEN_TTL", 48*time.Hour)

	cfg.UserCacheTTL = envDuration("USER_CACHE_TTL", 1*time.Hour)
	cfg.ContactCacheTTL = envDuration("CONTACT_CACHE_TTL", 30*time.Minute)

	// Comma-separated origin allow-list; "*" when unset.
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	// SMTP -- all optional; empty Host means no email sending (NopMailer).
	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPPort = os.Getenv("SMTP_PORT")
	if cfg.SMTPPort == "" {
		cfg.SMTPPort = "587"
	}
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFromAddress = os.Getenv("SMTP_FROM")
	cfg.SMTPResetURLBase = os.Getenv("SMTP_RESET_URL")

	// When SMTP is configured, the reset URL base must be present and use HTTPS.
	// Tokens in reset links must not travel over plain HTTP.
	if cfg.SMTPHost != "" {
		if !strings.HasPrefix(cfg.SMTPResetURLBase, "https://") {
			return nil, fmt.Errorf("SMTP_RESET_URL must be set and start with https://")
		}
	}

	// Rate limit: login by email. If any value is missing or invalid, fall back
	// to the default so a misconfigured env doesn't silently disable rate limiting.
	cfg.RateLoginMax = envInt("RATE_LOGIN_MAX", 10)
	cfg.RateLoginWindow = envDuration("RATE_LOGIN_WINDOW", 10*time.Minute)
	cfg.RateLoginLockout = envDuration("RATE_LOGIN_LOCKOUT", 15*time.Minute)

	// Rate limit: password reset.
	cfg.RateResetMax = envInt("RATE_RESET_MAX", 3)
	cfg.RateResetWindow = envDuration("RATE_RESET_WINDOW", 1*time.Hour)
	cfg.RateResetLockout = envDuration("RATE_RESET_LOCKOUT", 1*time.Hour)

	return cfg, nil
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// envInt reads key as a positive int. Missing, unparseable, or non-positive
// values fall back to def with a warning.
func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	slog.Warn("invalid env var, using default", "key", key, "value", raw, "default", def)
	return def
}

// envDuration reads key as a positive time.ParseDuration value, falling back
// to def with a warning.
func envDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	slog.Warn("invalid env var, using default", "key", key, "value", raw, "default", def)
	return def
}

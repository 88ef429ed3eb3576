package httpapi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr         = ":8080"
	defaultAllowedOrigin      = "http://localhost:8000"
	defaultSessionIssuer      = "tauth"
	defaultSessionCookie      = "app_session"
	defaultAdminRole          = "admin"
	defaultRequestTimeout     = 5 * time.Second
	defaultRateLimitPerMinute = 60
	defaultRateLimitBurst     = 10
	shutdownTimeout           = 5 * time.Second
)

// Config aggregates runtime settings for the wallet HTTP API.
type Config struct {
	ListenAddr         string
	AllowedOrigins     []string
	SessionSigningKey  string
	SessionIssuer      string
	SessionCookieName  string
	AdminRole          string
	RequestTimeout     time.Duration
	RateLimitPerMinute int
	RateLimitBurst     int
}

// Validate fills defaults and rejects unusable values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.AdminRole = defaultIfEmpty(cfg.AdminRole, defaultAdminRole)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = defaultRateLimitPerMinute
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	if cfg.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate limit per minute must not be negative")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit burst must not be negative")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                   int    `env:"PORT" envDefault:"8080"`
	DatabaseURL            string `env:"DATABASE_URL,required"`
	RedisURL               string `env:"REDIS_URL,required"`
	SiteBaseURL            string `env:"SITE_BASE_URL,required"`
	MailerURL              string `env:"MAILER_URL"`
	MailerAPIKey           string `env:"MAILER_API_KEY"`
	MailerTimeoutSeconds   int    `env:"MAILER_TIMEOUT_SECONDS" envDefault:"10"`
	StoreTimeoutSeconds    int    `env:"STORE_TIMEOUT_SECONDS" envDefault:"5"`
	AuditTimeoutSeconds    int    `env:"AUDIT_TIMEOUT_SECONDS" envDefault:"3"`
	InviteRateLimitPerHour int    `env:"INVITE_RATE_LIMIT_PER_HOUR" envDefault:"20"`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"info"`
	Environment            string `env:"APP_ENV" envDefault:"development"`
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) MailerTimeout() time.Duration {
	return time.Duration(c.MailerTimeoutSeconds) * time.Second
}

func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

func (c *Config) AuditTimeout() time.Duration {
	return time.Duration(c.AuditTimeoutSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate checks values that env parsing alone cannot catch.
func (c *Config) Validate(isProduction bool) error {
	parsed, err := url.Parse(c.SiteBaseURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("SITE_BASE_URL must be an absolute URL, got %q", c.SiteBaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("SITE_BASE_URL must use http or https, got %q", parsed.Scheme)
	}

	if c.MailerTimeoutSeconds <= 0 || c.StoreTimeoutSeconds <= 0 || c.AuditTimeoutSeconds <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}

	if c.MailerURL == "" {
		log.Warn().Msg("MAILER_URL is empty: summons notifications will not be sent")
	}

	if isProduction {
		if parsed.Scheme != "https" {
			log.Warn().Msg("SITE_BASE_URL is not https in production: invite tokens will travel in clear text")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Package config loads server configuration from environment variables and
// an optional .env file, grounded on the teacher's internal/config/config.go
// viper idiom. Unlike the teacher, this server's core has no required
// DATABASE_URL: the in-memory store and in-house OAuth server need no
// external persistence to start.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	Issuer          string `mapstructure:"ISSUER"`
	Audience        string `mapstructure:"AUDIENCE"`
	SigningKey      string `mapstructure:"SIGNING_KEY"`
	AccessTokenTTL  string `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL string `mapstructure:"REFRESH_TOKEN_TTL"`
	AuthCodeTTL     string `mapstructure:"AUTH_CODE_TTL"`
	LaunchTTL       string `mapstructure:"LAUNCH_CONTEXT_TTL"`
	RequireAud      bool   `mapstructure:"REQUIRE_AUD"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("ISSUER", "http://localhost:8000")
	v.SetDefault("ACCESS_TOKEN_TTL", "1h")
	v.SetDefault("REFRESH_TOKEN_TTL", "2160h")
	v.SetDefault("AUTH_CODE_TTL", "10m")
	v.SetDefault("LAUNCH_CONTEXT_TTL", "30m")
	v.SetDefault("REQUIRE_AUD", true)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	for _, key := range []string{
		"PORT", "ENV", "ISSUER", "AUDIENCE", "SIGNING_KEY", "ACCESS_TOKEN_TTL",
		"REFRESH_TOKEN_TTL", "AUTH_CODE_TTL", "LAUNCH_CONTEXT_TTL",
		"REQUIRE_AUD", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	} {
		_ = v.BindEnv(key)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Audience == "" {
		cfg.Audience = cfg.Issuer + "/fhir"
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.SigningKey == "" {
		if cfg.IsDev() {
			cfg.SigningKey = "development-signing-key-not-for-production-use"
		} else {
			return nil, fmt.Errorf("SIGNING_KEY is required outside development")
		}
	}

	if cfg.IsDev() {
		log.Println("WARNING: ========================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Using a default JWT signing key. Do not use in production.")
		log.Println("WARNING: ========================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool        { return c.Env == "development" }
func (c *Config) IsProduction() bool { return c.Env == "production" }

func (c *Config) AccessTTL() time.Duration  { return parseDurationOr(c.AccessTokenTTL, time.Hour) }
func (c *Config) RefreshTTL() time.Duration { return parseDurationOr(c.RefreshTokenTTL, 90*24*time.Hour) }
func (c *Config) CodeTTL() time.Duration    { return parseDurationOr(c.AuthCodeTTL, 10*time.Minute) }
func (c *Config) LaunchTTLDuration() time.Duration {
	return parseDurationOr(c.LaunchTTL, 30*time.Minute)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.IsProduction() && c.SigningKey == "development-signing-key-not-for-production-use" {
		return fmt.Errorf("SIGNING_KEY must be set explicitly in production")
	}
	if _, err := time.ParseDuration(c.AccessTokenTTL); err != nil {
		return fmt.Errorf("ACCESS_TOKEN_TTL is not a valid duration: %w", err)
	}
	if _, err := time.ParseDuration(c.RefreshTokenTTL); err != nil {
		return fmt.Errorf("REFRESH_TOKEN_TTL is not a valid duration: %w", err)
	}
	return nil
}

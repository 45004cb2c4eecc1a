package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the keygate server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	SMTP     SMTPConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// AuthConfig carries the session signing secret and the master
// knocking parameters. KnockSalt and KnockDigest configure the
// shared-secret check: a request's knocking header hashed with
// KnockSalt must equal KnockDigest (hex) to bind the master account.
type AuthConfig struct {
	JWTSecret   string
	SessionTTL  time.Duration
	KnockSalt   string
	KnockDigest string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Load reads configuration from environment variables and returns a
// validated Config. Returns an error with a descriptive message if any
// required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("KEYGATE_PORT", 3001),
			Env:  envString("KEYGATE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Auth: AuthConfig{
			JWTSecret:   os.Getenv("JWT_SECRET"),
			SessionTTL:  envDuration("SESSION_TTL", 30*24*time.Hour),
			KnockSalt:   os.Getenv("MASTER_KNOCK_SALT"),
			KnockDigest: os.Getenv("MASTER_KNOCK_DIGEST"),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     envInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     envString("SMTP_FROM", "noreply@localhost"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	// Knocking is optional; when configured, both halves are required
	// and the digest must be hex.
	if (c.Auth.KnockSalt == "") != (c.Auth.KnockDigest == "") {
		return fmt.Errorf("MASTER_KNOCK_SALT and MASTER_KNOCK_DIGEST must be set together")
	}
	if c.Auth.KnockDigest != "" {
		if _, err := hex.DecodeString(c.Auth.KnockDigest); err != nil {
			return fmt.Errorf("MASTER_KNOCK_DIGEST must be hex-encoded: %w", err)
		}
	}

	return nil
}

// KnockingEnabled reports whether the master knocking path is
// configured.
func (c *Config) KnockingEnabled() bool {
	return c.Auth.KnockSalt != "" && c.Auth.KnockDigest != ""
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

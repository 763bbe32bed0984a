// Package config loads service configuration from the environment and
// the moderation policy from a YAML file.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port           string
	LogLevel       string
	DatabaseURL    string // postgres audit store; empty selects sqlite
	SQLitePath     string
	RedisAddr      string // result cache; empty selects in-memory
	PolicyPath     string
	AuditSalt      string
	OTLPEndpoint   string
	FlushInterval  time.Duration
	MaxAuditBuffer int
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "triage-audit.db"
	}

	flush := 5 * time.Second
	if v := os.Getenv("AUDIT_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			flush = d
		}
	}

	maxBuffer := 100
	if v := os.Getenv("AUDIT_MAX_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxBuffer = n
		}
	}

	return &Config{
		Port:           port,
		LogLevel:       logLevel,
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     sqlitePath,
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		PolicyPath:     os.Getenv("POLICY_PATH"),
		AuditSalt:      os.Getenv("AUDIT_SALT"),
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
		FlushInterval:  flush,
		MaxAuditBuffer: maxBuffer,
	}
}

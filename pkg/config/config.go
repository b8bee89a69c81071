// Package config loads gate settings from the environment and from the
// YAML gate file.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds process configuration read from the environment.
type Config struct {
	LogLevel string
	// GateFile is the path of the YAML gate file; empty uses defaults.
	GateFile string

	LedgerBackend string
	LedgerDSN     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AccountsDB and AuditDB are SQLite paths; empty keeps state in memory.
	AccountsDB string
	AuditDB    string

	OTelEnabled  bool
	OTLPEndpoint string

	rootSecretHex string
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dsn := os.Getenv("GATE_LEDGER_DSN")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	return &Config{
		LogLevel:      logLevel,
		GateFile:      os.Getenv("GATE_CONFIG"),
		LedgerBackend: strings.ToLower(os.Getenv("GATE_LEDGER_BACKEND")),
		LedgerDSN:     dsn,
		RedisAddr:     redisAddr,
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		AccountsDB:    os.Getenv("GATE_ACCOUNTS_DB"),
		AuditDB:       os.Getenv("GATE_AUDIT_DB"),
		OTelEnabled:   os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:  endpoint,
		rootSecretHex: os.Getenv("GATE_ROOT_SECRET"),
	}
}

// RootSecret decodes GATE_ROOT_SECRET. It returns nil when unset, in which
// case the issuer generates a per-process secret.
func (c *Config) RootSecret() ([]byte, error) {
	if c.rootSecretHex == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(c.rootSecretHex)
	if err != nil {
		return nil, fmt.Errorf("config: GATE_ROOT_SECRET is not hex: %w", err)
	}
	if len(b) < 32 {
		return nil, fmt.Errorf("config: GATE_ROOT_SECRET must decode to at least 32 bytes, got %d", len(b))
	}
	return b, nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to Info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

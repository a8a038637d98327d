package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the CallScribe server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir       string
	HTTPPort      int
	BaseURL       string // public base URL the gateway reaches us at, e.g. "https://survey.example.com"
	AccountSID    string // provider account identifier for recording downloads
	AuthToken     string // provider auth token for recording downloads
	ScriptFile    string // optional YAML survey script, built-in script if empty
	PostgresDSN   string // use PostgreSQL instead of the embedded sqlite ledger
	AdminPassword string // bootstrap password for the admin account on first run
	JWTSecret     string // hex-encoded 32-byte secret for admin JWT signing
	FetchTimeout  time.Duration
	RetentionDays int // recordings older than this are purged, 0 disables
	LogLevel      string
	LogFormat     string // log output format: "text" or "json"
}

// defaults
const (
	defaultDataDir       = "./data"
	defaultHTTPPort      = 8080
	defaultBaseURL       = "http://localhost:8080"
	defaultFetchTimeout  = 30 * time.Second
	defaultRetentionDays = 0
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
)

// envPrefix is the prefix for all CallScribe environment variables.
const envPrefix = "CALLSCRIBE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("callscribe", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the ledger database and recording archive")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.BaseURL, "base-url", defaultBaseURL, "public base URL used in webhook callback URLs")
	fs.StringVar(&cfg.AccountSID, "account-sid", "", "voice provider account SID for authenticated recording downloads")
	fs.StringVar(&cfg.AuthToken, "auth-token", "", "voice provider auth token for authenticated recording downloads")
	fs.StringVar(&cfg.ScriptFile, "script-file", "", "path to a YAML survey script (built-in script if empty)")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "PostgreSQL DSN for the ledger (embedded sqlite if empty)")
	fs.StringVar(&cfg.AdminPassword, "admin-password", "", "bootstrap password for the admin account on first run")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for admin JWT signing (auto-generated if empty)")
	fs.DurationVar(&cfg.FetchTimeout, "fetch-timeout", defaultFetchTimeout, "timeout for downloading a recording from the provider")
	fs.IntVar(&cfg.RetentionDays, "retention-days", defaultRetentionDays, "purge recordings older than this many days (0 disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":       envPrefix + "DATA_DIR",
		"http-port":      envPrefix + "HTTP_PORT",
		"base-url":       envPrefix + "BASE_URL",
		"account-sid":    envPrefix + "ACCOUNT_SID",
		"auth-token":     envPrefix + "AUTH_TOKEN",
		"script-file":    envPrefix + "SCRIPT_FILE",
		"postgres-dsn":   envPrefix + "POSTGRES_DSN",
		"admin-password": envPrefix + "ADMIN_PASSWORD",
		"jwt-secret":     envPrefix + "JWT_SECRET",
		"fetch-timeout":  envPrefix + "FETCH_TIMEOUT",
		"retention-days": envPrefix + "RETENTION_DAYS",
		"log-level":      envPrefix + "LOG_LEVEL",
		"log-format":     envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			} else {
				warnBadEnv(envVar, val, err)
			}
		case "base-url":
			cfg.BaseURL = val
		case "account-sid":
			cfg.AccountSID = val
		case "auth-token":
			cfg.AuthToken = val
		case "script-file":
			cfg.ScriptFile = val
		case "postgres-dsn":
			cfg.PostgresDSN = val
		case "admin-password":
			cfg.AdminPassword = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "fetch-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.FetchTimeout = v
			} else {
				warnBadEnv(envVar, val, err)
			}
		case "retention-days":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RetentionDays = v
			} else {
				warnBadEnv(envVar, val, err)
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// warnBadEnv reports an environment override that failed to parse. The
// value is discarded in favor of the default, but never silently.
func warnBadEnv(envVar, val string, err error) {
	slog.Warn("ignoring malformed environment override",
		"var", envVar,
		"value", val,
		"error", err.Error(),
	)
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base-url must not be empty")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base-url must start with http:// or https://, got %q", c.BaseURL)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch-timeout must be positive, got %s", c.FetchTimeout)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention-days must not be negative, got %d", c.RetentionDays)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// JWTSecretBytes returns the decoded 32-byte JWT signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

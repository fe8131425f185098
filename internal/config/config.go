// Package config resolves the immutable export configuration from
// environment variables, an optional YAML config file, and built-in
// defaults, in that order of precedence. Resolution happens once per
// process; there is no hot reload.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/git-ai-tools/metrics-pipeline/internal/logging"
)

// version is set at build time via ldflags.
var version = "dev"

// ServiceName identifies this tool in resource attributes.
const ServiceName = "git-ai"

// Version returns the build version.
func Version() string {
	return version
}

// Defaults.
const (
	DefaultOTelEndpoint       = "http://localhost:4317"
	DefaultOTelProtocol       = "grpc"
	DefaultOTelInterval       = 60 * time.Second
	DefaultAPIEndpoint        = "https://api.git-ai.dev/v1/metrics"
	DefaultAPIInterval        = 60 * time.Second
	DefaultAPITimeout         = 10 * time.Second
	DefaultAPICompression     = "gzip"
	DefaultFallbackMaxRetries = 5
	DefaultFallbackMaxAge     = 24 * time.Hour
)

// Config is the resolved export configuration. Immutable once resolved.
type Config struct {
	// OTLP sink (optional, feature-gated)
	OTelEnabled        bool
	OTelEndpoint       string
	OTelProtocol       string // "grpc" or "http"
	OTelExportInterval time.Duration
	OTelAuthHeader     string

	// Primary API sink
	APIEndpoint       string
	APIExportInterval time.Duration
	APITimeout        time.Duration
	APIToken          string
	APICompression    string // "none", "gzip" or "zstd"

	// Local fallback store
	FallbackPath        string
	FallbackMaxAttempts int
	FallbackMaxAge      time.Duration

	// Self-monitoring OTLP endpoint (empty = disabled)
	TelemetryEndpoint string
	TelemetryProtocol string
}

// fileConfig is the YAML config file shape.
type fileConfig struct {
	OTelEnabled          *bool  `yaml:"otel_enabled"`
	OTelEndpoint         string `yaml:"otel_endpoint"`
	OTelExportIntervalS  *int   `yaml:"otel_export_interval_secs"`
	OTelProtocol         string `yaml:"otel_protocol"`
	OTelAuthHeader       string `yaml:"otel_auth_header"`
	APIEndpoint          string `yaml:"api_endpoint"`
	APIExportIntervalS   *int   `yaml:"api_export_interval_secs"`
	APIToken             string `yaml:"api_token"`
	APICompression       string `yaml:"api_compression"`
	FallbackPath         string `yaml:"fallback_path"`
	FallbackMaxAttempts  *int   `yaml:"fallback_max_attempts"`
	FallbackMaxAgeSecs   *int   `yaml:"fallback_max_age_secs"`
	Telemetry            struct {
		Endpoint string `yaml:"endpoint"`
		Protocol string `yaml:"protocol"`
	} `yaml:"telemetry"`
}

// Resolve builds the configuration from defaults, the YAML file at path
// (if readable), and environment variables. Malformed values fall back to
// the prior layer with a warning; resolution never fails.
func Resolve(path string) Config {
	cfg := defaults()
	applyFile(&cfg, path)
	applyEnv(&cfg)
	normalize(&cfg)
	return cfg
}

func defaults() Config {
	return Config{
		OTelEnabled:         false,
		OTelEndpoint:        DefaultOTelEndpoint,
		OTelProtocol:        DefaultOTelProtocol,
		OTelExportInterval:  DefaultOTelInterval,
		APIEndpoint:         DefaultAPIEndpoint,
		APIExportInterval:   DefaultAPIInterval,
		APITimeout:          DefaultAPITimeout,
		APICompression:      DefaultAPICompression,
		FallbackPath:        defaultFallbackPath(),
		FallbackMaxAttempts: DefaultFallbackMaxRetries,
		FallbackMaxAge:      DefaultFallbackMaxAge,
	}
}

func defaultFallbackPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "fallback.db"
	}
	return filepath.Join(home, ".git-ai", "fallback.db")
}

func applyFile(cfg *Config, path string) {
	if path == "" {
		return
	}
	fc, err := loadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("config file unreadable, using defaults", logging.F(
				"path", path,
				"error", err.Error(),
			))
		}
		return
	}

	if fc.OTelEnabled != nil {
		cfg.OTelEnabled = *fc.OTelEnabled
	}
	if fc.OTelEndpoint != "" {
		cfg.OTelEndpoint = fc.OTelEndpoint
	}
	if fc.OTelExportIntervalS != nil {
		cfg.OTelExportInterval = secondsOrDefault(*fc.OTelExportIntervalS, cfg.OTelExportInterval, "otel_export_interval_secs")
	}
	if fc.OTelProtocol != "" {
		cfg.OTelProtocol = fc.OTelProtocol
	}
	if fc.OTelAuthHeader != "" {
		cfg.OTelAuthHeader = fc.OTelAuthHeader
	}
	if fc.APIEndpoint != "" {
		cfg.APIEndpoint = fc.APIEndpoint
	}
	if fc.APIExportIntervalS != nil {
		cfg.APIExportInterval = secondsOrDefault(*fc.APIExportIntervalS, cfg.APIExportInterval, "api_export_interval_secs")
	}
	if fc.APIToken != "" {
		cfg.APIToken = fc.APIToken
	}
	if fc.APICompression != "" {
		cfg.APICompression = fc.APICompression
	}
	if fc.FallbackPath != "" {
		cfg.FallbackPath = fc.FallbackPath
	}
	if fc.FallbackMaxAttempts != nil && *fc.FallbackMaxAttempts > 0 {
		cfg.FallbackMaxAttempts = *fc.FallbackMaxAttempts
	}
	if fc.FallbackMaxAgeSecs != nil {
		cfg.FallbackMaxAge = secondsOrDefault(*fc.FallbackMaxAgeSecs, cfg.FallbackMaxAge, "fallback_max_age_secs")
	}
	if fc.Telemetry.Endpoint != "" {
		cfg.TelemetryEndpoint = fc.Telemetry.Endpoint
	}
	if fc.Telemetry.Protocol != "" {
		cfg.TelemetryProtocol = fc.Telemetry.Protocol
	}
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("GIT_AI_OTEL_ENABLED"); ok {
		cfg.OTelEnabled = ParseBool(v)
	}
	if v := os.Getenv("GIT_AI_OTEL_ENDPOINT"); v != "" {
		cfg.OTelEndpoint = v
	}
	if v := os.Getenv("GIT_AI_OTEL_EXPORT_INTERVAL"); v != "" {
		cfg.OTelExportInterval = parseSeconds(v, cfg.OTelExportInterval, "GIT_AI_OTEL_EXPORT_INTERVAL")
	}
	if v := os.Getenv("GIT_AI_OTEL_PROTOCOL"); v != "" {
		cfg.OTelProtocol = v
	}
	if v := os.Getenv("GIT_AI_OTEL_AUTH_HEADER"); v != "" {
		cfg.OTelAuthHeader = v
	}
	if v := os.Getenv("GIT_AI_API_ENDPOINT"); v != "" {
		cfg.APIEndpoint = v
	}
	if v := os.Getenv("GIT_AI_API_EXPORT_INTERVAL"); v != "" {
		cfg.APIExportInterval = parseSeconds(v, cfg.APIExportInterval, "GIT_AI_API_EXPORT_INTERVAL")
	}
	if v := os.Getenv("GIT_AI_API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv("GIT_AI_API_COMPRESSION"); v != "" {
		cfg.APICompression = v
	}
	if v := os.Getenv("GIT_AI_FALLBACK_PATH"); v != "" {
		cfg.FallbackPath = v
	}
	if v := os.Getenv("GIT_AI_FALLBACK_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FallbackMaxAttempts = n
		} else {
			logging.Warn("invalid value, keeping previous", logging.F(
				"key", "GIT_AI_FALLBACK_MAX_ATTEMPTS",
				"value", v,
			))
		}
	}
	if v := os.Getenv("GIT_AI_FALLBACK_MAX_AGE"); v != "" {
		cfg.FallbackMaxAge = parseSeconds(v, cfg.FallbackMaxAge, "GIT_AI_FALLBACK_MAX_AGE")
	}
	if v := os.Getenv("GIT_AI_TELEMETRY_ENDPOINT"); v != "" {
		cfg.TelemetryEndpoint = v
	}
	if v := os.Getenv("GIT_AI_TELEMETRY_PROTOCOL"); v != "" {
		cfg.TelemetryProtocol = v
	}
}

// normalize clamps values that passed parsing but make no sense.
func normalize(cfg *Config) {
	switch strings.ToLower(cfg.OTelProtocol) {
	case "http":
		cfg.OTelProtocol = "http"
	default:
		cfg.OTelProtocol = "grpc"
	}
	switch strings.ToLower(cfg.APICompression) {
	case "none", "gzip", "zstd":
		cfg.APICompression = strings.ToLower(cfg.APICompression)
	default:
		logging.Warn("unsupported api compression, using gzip", logging.F(
			"value", cfg.APICompression,
		))
		cfg.APICompression = "gzip"
	}
	if cfg.OTelExportInterval <= 0 {
		cfg.OTelExportInterval = DefaultOTelInterval
	}
	if cfg.APIExportInterval <= 0 {
		cfg.APIExportInterval = DefaultAPIInterval
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = DefaultAPITimeout
	}
}

// ParseBool implements the tool's boolean convention: "1" and
// case-insensitive "true" are true, everything else is false.
func ParseBool(s string) bool {
	return s == "1" || strings.EqualFold(s, "true")
}

func parseSeconds(raw string, fallback time.Duration, key string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		logging.Warn("invalid interval, keeping previous", logging.F(
			"key", key,
			"value", raw,
		))
		return fallback
	}
	return time.Duration(n) * time.Second
}

func secondsOrDefault(n int, fallback time.Duration, key string) time.Duration {
	if n <= 0 {
		logging.Warn("invalid interval, keeping previous", logging.F(
			"key", key,
			"value", n,
		))
		return fallback
	}
	return time.Duration(n) * time.Second
}

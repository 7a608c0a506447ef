// Package config loads CEE's runtime configuration from the
// environment, with an optional .env file for local development and
// typed helpers for int/bool/duration/list parsing.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	LogLevel string

	AssistAPIKeys []string

	RequestRateLimitRPM  int
	StreamRateLimitRPM   int
	FeatureRateLimitRPMs map[string]int

	SSEBufferMaxEvents int
	SSEBufferMaxSizeMB float64
	SSEStateTTLSec     int
	SSESnapshotTTLSec  int

	GraphMaxNodes int
	GraphMaxEdges int

	LegacyPipelineEnabled bool

	LLMProvider      string
	PIIRedactionMode string

	AuditEnabled bool
	AuditDSN     string

	LLMTimeout time.Duration
}

// Load reads a .env file if present (ignored if missing — production
// deployments set real environment variables) and returns the parsed
// Config.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AssistAPIKeys: getEnvAsList("ASSIST_API_KEYS", nil),

		RequestRateLimitRPM: getEnvAsInt("RATE_LIMIT_RPM", 120),
		StreamRateLimitRPM:  getEnvAsInt("SSE_RATE_LIMIT_RPM", 20),
		FeatureRateLimitRPMs: map[string]int{
			"draft": getEnvAsInt("CEE_DRAFT_RATE_LIMIT_RPM", 0),
		},

		SSEBufferMaxEvents: getEnvAsInt("SSE_BUFFER_MAX_EVENTS", 256),
		SSEBufferMaxSizeMB: getEnvAsFloat("SSE_BUFFER_MAX_SIZE_MB", 1.5),
		SSEStateTTLSec:     getEnvAsInt("SSE_STATE_TTL_SEC", 900),
		SSESnapshotTTLSec:  getEnvAsInt("SSE_SNAPSHOT_TTL_SEC", 900),

		GraphMaxNodes: getEnvAsInt("GRAPH_MAX_NODES", 50),
		GraphMaxEdges: getEnvAsInt("GRAPH_MAX_EDGES", 200),

		LegacyPipelineEnabled: getEnvAsBool("CEE_LEGACY_PIPELINE_ENABLED", false),

		LLMProvider:      getEnv("LLM_PROVIDER", "fixture"),
		PIIRedactionMode: getEnv("PII_REDACTION_MODE", "standard"),

		AuditEnabled: getEnvAsBool("CEE_AUDIT_ENABLED", false),
		AuditDSN:     getEnv("CEE_AUDIT_DSN", ""),

		LLMTimeout: getEnvAsDuration("CEE_LLM_TIMEOUT_MS", 30000) * time.Millisecond,
	}
}

// FeatureRPM resolves the effective RPM for a feature, falling back to
// the request-level default when no per-feature override is set.
func (c *Config) FeatureRPM(feature string) int {
	if rpm, ok := c.FeatureRateLimitRPMs[feature]; ok && rpm > 0 {
		return rpm
	}
	return c.RequestRateLimitRPM
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallbackMillis int64) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(n)
		}
	}
	return time.Duration(fallbackMillis)
}

func getEnvAsList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	var out []string
	start := 0
	for i := 0; i <= len(value); i++ {
		if i == len(value) || value[i] == ',' {
			if i > start {
				out = append(out, value[start:i])
			}
			start = i + 1
		}
	}
	return out
}

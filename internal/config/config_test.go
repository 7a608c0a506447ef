package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, 120, cfg.RequestRateLimitRPM)
	assert.Equal(t, 20, cfg.StreamRateLimitRPM)
	assert.Equal(t, 256, cfg.SSEBufferMaxEvents)
	assert.Equal(t, 50, cfg.GraphMaxNodes)
	assert.Equal(t, 200, cfg.GraphMaxEdges)
	assert.False(t, cfg.LegacyPipelineEnabled)
}

func TestLoadRespectsOverrides(t *testing.T) {
	t.Setenv("GRAPH_MAX_NODES", "75")
	t.Setenv("CEE_LEGACY_PIPELINE_ENABLED", "true")
	t.Setenv("ASSIST_API_KEYS", "key1,key2")

	cfg := Load()
	assert.Equal(t, 75, cfg.GraphMaxNodes)
	assert.True(t, cfg.LegacyPipelineEnabled)
	assert.Equal(t, []string{"key1", "key2"}, cfg.AssistAPIKeys)
}

func TestFeatureRPMFallsBackToRequestDefault(t *testing.T) {
	cfg := Load()
	assert.Equal(t, cfg.RequestRateLimitRPM, cfg.FeatureRPM("draft"))
}

func TestFeatureRPMUsesOverrideWhenSet(t *testing.T) {
	t.Setenv("CEE_DRAFT_RATE_LIMIT_RPM", "30")
	cfg := Load()
	assert.Equal(t, 30, cfg.FeatureRPM("draft"))
}

func TestGetEnvAsListHandlesMissingVar(t *testing.T) {
	_, ok := os.LookupEnv("NOT_A_REAL_CEE_VAR")
	require.False(t, ok)
	assert.Nil(t, getEnvAsList("NOT_A_REAL_CEE_VAR", nil))
}

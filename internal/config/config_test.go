package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Query.MaxQueries)
	assert.Equal(t, 3, cfg.Research.QueryConcurrency)
	assert.Equal(t, 30, cfg.Pipeline.WebResearchMinConfidence)
	assert.Equal(t, 40, cfg.Pipeline.UnknownConfidenceCeiling)
	assert.Equal(t, 95, cfg.Mappings.Confidence)
	assert.InDelta(t, 0.85, cfg.Knowledge.SimilarityThreshold, 0.0001)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("OWNEDBY_SERVER_PORT", "9090")
	t.Setenv("OWNEDBY_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "console"})
	assert.NoError(t, err)
}

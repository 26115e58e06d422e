package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, RenderConfig{}, cfg.Render)
	assert.NotEqual(t, StructureConfig{}, cfg.Structure)
	assert.NotEqual(t, QueuedConfig{}, cfg.Queued)
	assert.NotEqual(t, EditConfig{}, cfg.Edit)
	assert.NotEmpty(t, cfg.Transfer.Strategies)
	assert.NotEmpty(t, cfg.Log.OutputPaths)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEqual(t, MetricsConfig{}, cfg.Metrics)
	assert.NotEqual(t, HistoryConfig{}, cfg.History)
}

// --- Individual Default*Config functions ---

func TestDefaultStructureConfig(t *testing.T) {
	cfg := DefaultStructureConfig()
	assert.Equal(t, "https://api.stability.ai", cfg.BaseURL)
	assert.Equal(t, "/v2beta/stable-image/control/structure", cfg.Endpoint)
	assert.Equal(t, 0.7, cfg.ControlStrength)
	assert.Equal(t, 300*time.Second, cfg.Timeout)
	assert.Equal(t, 0.4, cfg.Constraints.MinAspect)
	assert.Equal(t, 2.5, cfg.Constraints.MaxAspect)
	assert.Equal(t, int64(9437184), cfg.Constraints.MaxPixels)
}

func TestDefaultQueuedConfig(t *testing.T) {
	cfg := DefaultQueuedConfig()
	assert.Equal(t, "fal-ai/flux-control-lora-canny", cfg.Model)
	assert.Equal(t, 0.85, cfg.Strength)
	assert.Equal(t, 28, cfg.Steps)
	assert.Equal(t, 3.5, cfg.GuidanceScale)
	assert.Equal(t, 1.0, cfg.ControlLoraStrength)
	assert.Equal(t, "jpeg", cfg.OutputFormat)
	assert.Equal(t, time.Second, cfg.Poll.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.Poll.MaxDelay)
	assert.Equal(t, 20, cfg.Poll.MaxRounds)
}

func TestDefaultEditConfig(t *testing.T) {
	cfg := DefaultEditConfig()
	assert.Equal(t, "gpt-image-1", cfg.Model)
	assert.Equal(t, "https://api.openai.com", cfg.BaseURL)
}

func TestDefaultTransferConfig(t *testing.T) {
	cfg := DefaultTransferConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Equal(t, 30*time.Second, cfg.AttemptTimeout)
	assert.Equal(t, []string{"http", "resty", "direct"}, cfg.Strategies)
}

func TestDefaultRenderConfig(t *testing.T) {
	cfg := DefaultRenderConfig()
	assert.Equal(t, "photorealistic rendering, high quality, architectural visualization", cfg.DefaultPrompt)
	assert.True(t, cfg.AutoCondition)
	assert.Contains(t, cfg.ResultsDir, "Results")
}

func TestDefaultHistoryConfig(t *testing.T) {
	cfg := DefaultHistoryConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Contains(t, cfg.DSN, "history.db")
}

func TestDefaultGuardConfig(t *testing.T) {
	cfg := DefaultGuardConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "renderflow:render:lock", cfg.Key)
	assert.Equal(t, 2*time.Minute, cfg.TTL)
	assert.Zero(t, cfg.RefreshInterval)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Service.BaseURL = "https://api.example.com"
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3*time.Second, cfg.Service.PollInterval)
	assert.Equal(t, 1920, cfg.Compression.MaxWidth)
	assert.Equal(t, 0.8, cfg.Compression.Quality)
	assert.Equal(t, 1.0, cfg.Compression.MaxSizeMB)
	assert.Equal(t, 1, cfg.Output.Count)
}

func TestValidateRequiresBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate())

	cfg.Service.BaseURL = "ftp://nope"
	assert.Error(t, cfg.Validate())
}

func TestValidateQualityRange(t *testing.T) {
	cfg := validConfig()
	cfg.Compression.Quality = 0
	assert.Error(t, cfg.Validate())

	cfg.Compression.Quality = 1.5
	assert.Error(t, cfg.Validate())

	cfg.Compression.Quality = 1
	assert.NoError(t, cfg.Validate())
}

func TestValidateOutputCount(t *testing.T) {
	cfg := validConfig()
	cfg.Output.Count = 0
	assert.Error(t, cfg.Validate())

	cfg.Output.Count = 5
	assert.Error(t, cfg.Validate())

	cfg.Output.Count = 4
	assert.NoError(t, cfg.Validate())
}

func TestValidateRepairsZeroBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Compression.MaxWidth = 0
	cfg.Compression.MaxHeight = -1
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1920, cfg.Compression.MaxWidth)
	assert.Equal(t, 1920, cfg.Compression.MaxHeight)
}

func TestValidateLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "chatty"
	assert.Error(t, cfg.Validate())
}

func TestPolicyBridge(t *testing.T) {
	cfg := validConfig()
	cfg.Compression.MaxSizeMB = 2.5

	policy := cfg.Policy()
	assert.Equal(t, 1920, policy.MaxWidth)
	assert.Equal(t, 2.5, policy.MaxSizeMB)
	assert.NoError(t, policy.Validate())
}

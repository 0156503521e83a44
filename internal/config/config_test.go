package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("does-not-exist")
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.HubAddress)
	assert.Equal(t, ":9090", cfg.MetricsAddress)
	assert.Equal(t, 500*time.Millisecond, cfg.MessageDebounce)
	assert.Equal(t, "ascendr.identity", cfg.JWTIssuer)
	assert.NotEmpty(t, cfg.JWTSecret)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ASCENDR_HUB_ADDRESS", ":7001")
	t.Setenv("ASCENDR_MESSAGING_DEBOUNCE", "250ms")

	cfg, err := Load("does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.HubAddress)
	assert.Equal(t, 250*time.Millisecond, cfg.MessageDebounce)
}

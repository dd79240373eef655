package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Should apply defaults when environment is empty", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ModeDevelopment, cfg.Mode)
		assert.Equal(t, 300*time.Second, cfg.Engine.ResultCacheTTL)
		assert.Equal(t, int64(10), cfg.Engine.DisableThreshold)
		assert.Equal(t, 10, cfg.Engine.SweepBatchSize)
	})

	t.Run("Should override nested values from environment", func(t *testing.T) {
		t.Setenv("TOOLBRIDGE_SERVER__PORT", "9191")
		t.Setenv("TOOLBRIDGE_ENGINE__SWEEP_BATCH_SIZE", "25")
		t.Setenv("TOOLBRIDGE_AUTH__CRON_SECRET_TOKEN", "cron-secret")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 9191, cfg.Server.Port)
		assert.Equal(t, 25, cfg.Engine.SweepBatchSize)
		assert.Equal(t, "cron-secret", cfg.Auth.CronSecretToken)
	})

	t.Run("Should reject production mode without database", func(t *testing.T) {
		cfg := Default()
		cfg.Mode = ModeProduction
		cfg.Database.Host = ""
		cfg.Database.URL = ""
		require.Error(t, cfg.Validate())
	})
}

func TestTransformEnvKey(t *testing.T) {
	key, val := transformEnvKey("TOOLBRIDGE_ENGINE__RESULT_CACHE_TTL", "5m")
	assert.Equal(t, "engine.result_cache_ttl", key)
	assert.Equal(t, "5m", val)
}

func TestProvidersByTool(t *testing.T) {
	p := &ProvidersConfig{Slack: ProviderConfig{ClientID: "abc"}}
	got, ok := p.ByTool("slack")
	require.True(t, ok)
	assert.Equal(t, "abc", got.ClientID)
	_, ok = p.ByTool("unknown")
	assert.False(t, ok)
}

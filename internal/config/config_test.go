package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/air-quality-monitor/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IQAIR_API_KEY", "k")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "Paris", cfg.City)
	assert.Equal(t, 5, cfg.FetchMaxRetries)
	assert.Equal(t, 30*time.Second, cfg.FetchBaseDelay)
	assert.Equal(t, 10*time.Minute, cfg.FetchMaxDelay)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, "exponential", cfg.QueueBackoffType)
	assert.Equal(t, []string{"ops@example.com"}, cfg.AlertRecipients)
	assert.Equal(t, []string{"oncall@example.com"}, cfg.EscalationRecipients)
	assert.Equal(t, 50, cfg.EmailMaxPerHour)
	assert.Equal(t, 90, cfg.AlertRetentionDays)
	assert.InDelta(t, 0.7, cfg.HealthGateScore, 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("IQAIR_API_KEY", "k")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PORT", "9090")
	t.Setenv("FETCH_MAX_RETRIES", "2")
	t.Setenv("ALERT_RECIPIENTS", "a@x.io,b@x.io")
	t.Setenv("HEALTH_INTERVAL", "30s")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProd())
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2, cfg.FetchMaxRetries)
	assert.Equal(t, []string{"a@x.io", "b@x.io"}, cfg.AlertRecipients)
	assert.Equal(t, 30*time.Second, cfg.HealthInterval)
}

func TestValidate(t *testing.T) {
	base := func() config.Config {
		return config.Config{
			IQAirAPIKey:             "k",
			FetchMaxRetries:         5,
			BreakerFailureThreshold: 5,
			QueueBackoffType:        "exponential",
			EmailMaxPerHour:         50,
			EmailMaxPerDay:          1000,
			HealthGateScore:         0.7,
		}
	}
	require.NoError(t, base().Validate())

	c := base()
	c.IQAirAPIKey = ""
	assert.ErrorContains(t, c.Validate(), "IQAIR_API_KEY")

	c = base()
	c.FetchMaxRetries = -1
	assert.ErrorContains(t, c.Validate(), "FETCH_MAX_RETRIES")

	c = base()
	c.BreakerFailureThreshold = 0
	assert.ErrorContains(t, c.Validate(), "BREAKER_FAILURE_THRESHOLD")

	c = base()
	c.QueueBackoffType = "linear"
	assert.ErrorContains(t, c.Validate(), "QUEUE_BACKOFF_TYPE")

	c = base()
	c.EmailMaxPerDay = 0
	assert.ErrorContains(t, c.Validate(), "email rate limits")

	c = base()
	c.HealthGateScore = 1.5
	assert.ErrorContains(t, c.Validate(), "HEALTH_GATE_SCORE")
}

func TestLocationKey(t *testing.T) {
	t.Setenv("IQAIR_API_KEY", "k")
	t.Setenv("CITY", "Lyon")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "Lyon", cfg.Location())
}

package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/observability"
	"github.com/fairyhunter13/air-quality-monitor/internal/config"
)

func TestSetupTracingDisabledShutdownIsCallable(t *testing.T) {
	t.Parallel()
	// No OTLP endpoint configured is the default deployment; the shutdown
	// hook must still be safe to call on exit.
	shutdown, err := observability.SetupTracing(config.Config{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

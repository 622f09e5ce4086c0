package observability

import (
	"testing"

	"github.com/smallbiznis/invoicer/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDerivesFromAppConfig(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppVersion: "1.2.3",
		Observability: config.ObservabilityConfig{
			LogLevel:      "warn",
			DeploymentEnv: "production",
			OtelEnabled:   true,
			OtelEndpoint:  "collector:4317",
			OtelProtocol:  "grpc",
			OtelSampling:  0.5,
		},
	})

	require.Equal(t, "invoicer", cfg.ServiceName)
	require.Equal(t, "1.2.3", cfg.Version)
	require.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	require.False(t, cfg.Debug())
}

func TestDebug(t *testing.T) {
	require.True(t, Config{LogLevel: "debug", Environment: "production"}.Debug())
	require.True(t, Config{Environment: "Local"}.Debug())
	require.False(t, Config{Environment: "staging"}.Debug())
}

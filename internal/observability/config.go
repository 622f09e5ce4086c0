package observability

import (
	"strings"

	"github.com/smallbiznis/invoicer/internal/config"
)

// Config is the slice of application config the logging, tracing and
// metrics providers read.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "invoicer"
	}
	return Config{
		ServiceName:          name,
		Environment:          obs.DeploymentEnv,
		Version:              cfg.AppVersion,
		LogLevel:             obs.LogLevel,
		LogFormat:            obs.LogFormat,
		OtelEnabled:          obs.OtelEnabled,
		OtelExporterEndpoint: obs.OtelEndpoint,
		OtelExporterProtocol: obs.OtelProtocol,
		OtelSamplingRatio:    obs.OtelSampling,
	}
}

// Debug is true for debug log level or a non-deployed environment.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

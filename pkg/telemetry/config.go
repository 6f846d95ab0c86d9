package telemetry

import (
	"github.com/caarlos0/env/v11"
)

// Config is the telemetry configuration, read from the environment.
type Config struct {
	// LogLevel sets the minimum log level (trace, debug, info, warn, error).
	LogLevel string `env:"ARENA_LOG_LEVEL" envDefault:"info"`

	// LogFormat selects console or json output.
	LogFormat string `env:"ARENA_LOG_FORMAT" envDefault:"console"`

	// MetricsEnabled turns the Prometheus registry on.
	MetricsEnabled bool `env:"ARENA_METRICS" envDefault:"false"`

	// MetricsAddr is where the metrics endpoint listens when enabled.
	MetricsAddr string `env:"ARENA_METRICS_ADDR" envDefault:"127.0.0.1:9464"`

	// TracingEnabled turns span export on.
	TracingEnabled bool `env:"ARENA_TRACING" envDefault:"false"`
}

// LoadConfig reads telemetry configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

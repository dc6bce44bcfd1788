// Package config loads the engine's runtime configuration via viper,
// decoding into mapstructure-tagged structs.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EngineConfig is the root configuration for one worker process.
type EngineConfig struct {
	Job     JobConfig     `mapstructure:"job"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// JobConfig carries the per-job resource and topology knobs from spec.md §6.
type JobConfig struct {
	WorkersPerProcess int      `mapstructure:"workers_per_process"`
	Servers           []string `mapstructure:"servers"`
	BatchSize         int      `mapstructure:"batch_size"`
	ScopeCapacity     int      `mapstructure:"scope_capacity"`
	TotalMemoryMB     int      `mapstructure:"total_memory_mb"`
	EnableCancelChild bool     `mapstructure:"enable_cancel_child"`
}

// LogConfig configures the logrus-based logger in internal/log.
type LogConfig struct {
	Level   string         `mapstructure:"level"`
	Format  string         `mapstructure:"format"`
	Outputs []OutputConfig `mapstructure:"outputs"`
}

// OutputConfig describes one log sink.
type OutputConfig struct {
	Type       string `mapstructure:"type"` // console | file
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// Default returns the engine configuration used when nothing is supplied on
// the command line or in a config file.
func Default() EngineConfig {
	return EngineConfig{
		Job: JobConfig{
			WorkersPerProcess: 1,
			BatchSize:         1024,
			ScopeCapacity:     1 << 16,
			TotalMemoryMB:     1024,
			EnableCancelChild: true,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "text",
			Outputs: []OutputConfig{{Type: "console"}},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
	}
}

// Load reads configuration from the file at path (if non-empty) and from
// PEGASUS_-prefixed environment variables, layered over Default().
func Load(path string) (EngineConfig, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("PEGASUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

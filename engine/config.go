package engine

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the engine tunables. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// WorkerPoolSize bounds the concurrency of parallel-construct fan-out.
	// Defaults to the host core count.
	WorkerPoolSize int

	// DefaultNodeTimeout applies to nodes without a timeout parameter. Zero
	// means no per-node deadline beyond the execution's own.
	DefaultNodeTimeout time.Duration

	// MaxExecutionDuration bounds a whole run, including WAITING parks and
	// step-mode pauses. Zero means unbounded.
	MaxExecutionDuration time.Duration

	// ShutdownGrace is how long Shutdown waits for coordinators to finish
	// after the global cancel flag flips, before force-cancelling them.
	ShutdownGrace time.Duration

	// MaxSubworkflowDepth caps subworkflow nesting to keep recursive
	// workflows from exhausting the process.
	MaxSubworkflowDepth int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		WorkerPoolSize:      runtime.NumCPU(),
		ShutdownGrace:       5 * time.Second,
		MaxSubworkflowDepth: 16,
	}
}

// rawConfig is the YAML shape. Durations are strings ("30s", "5m") parsed
// with time.ParseDuration.
type rawConfig struct {
	WorkerPoolSize       int    `yaml:"workerPoolSize"`
	DefaultNodeTimeout   string `yaml:"defaultNodeTimeout"`
	MaxExecutionDuration string `yaml:"maxExecutionDuration"`
	ShutdownGrace        string `yaml:"shutdownGrace"`
	MaxSubworkflowDepth  int    `yaml:"maxSubworkflowDepth"`
}

// LoadConfig reads a YAML config file and applies it over the defaults.
// Absent fields keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if raw.WorkerPoolSize > 0 {
		cfg.WorkerPoolSize = raw.WorkerPoolSize
	}
	if raw.MaxSubworkflowDepth > 0 {
		cfg.MaxSubworkflowDepth = raw.MaxSubworkflowDepth
	}
	if err := setDuration(&cfg.DefaultNodeTimeout, raw.DefaultNodeTimeout, "defaultNodeTimeout"); err != nil {
		return cfg, err
	}
	if err := setDuration(&cfg.MaxExecutionDuration, raw.MaxExecutionDuration, "maxExecutionDuration"); err != nil {
		return cfg, err
	}
	if err := setDuration(&cfg.ShutdownGrace, raw.ShutdownGrace, "shutdownGrace"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse config: %s: %w", field, err)
	}
	if d < 0 {
		return fmt.Errorf("parse config: %s must not be negative", field)
	}
	*dst = d
	return nil
}

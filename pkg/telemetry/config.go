package telemetry

import "fmt"

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level"`

	// Format specifies the log format (console, json).
	Format string `yaml:"format"`

	// Output specifies where logs are written (stderr, or a file path).
	// Stdout is reserved for the service-message protocol.
	Output string `yaml:"output"`

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool `yaml:"enable_caller"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected.
	Enabled bool `yaml:"enabled"`

	// Namespace is the Prometheus metric namespace.
	Namespace string `yaml:"namespace"`

	// TextfileDir is the directory where the agent writes its metrics
	// snapshot at exit, in the node_exporter textfile-collector format.
	// The agent is a short-lived process, so it snapshots instead of
	// serving a scrape endpoint.
	TextfileDir string `yaml:"textfile_dir"`
}

// Validate checks the logging configuration for unsupported values.
func (c LoggingConfig) Validate() error {
	switch c.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unsupported log format %q", c.Format)
	}
	if c.Output == "stdout" {
		return fmt.Errorf("stdout is reserved for service messages; log to stderr or a file")
	}
	return nil
}

// DefaultLoggingConfig returns the logging defaults used when no
// configuration file is present.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// Copyright 2026 Tudor Baraboi
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "fmt"

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"title=Level,description=Log level,enum=debug,enum=info,enum=warn,enum=error,default=info"`

	// Format: simple, json, or text. Empty auto-picks simple on
	// terminals and json otherwise.
	Format string `yaml:"format,omitempty" json:"format,omitempty" jsonschema:"title=Format,description=Log output format,enum=simple,enum=json,enum=text"`

	// File redirects logs to a file instead of stderr.
	File string `yaml:"file,omitempty" json:"file,omitempty" jsonschema:"title=File,description=Log file path (empty for stderr)"`
}

// SetDefaults applies default values.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid level %q (valid: debug, info, warn, error)", c.Level)
	}
	switch c.Format {
	case "", "simple", "json", "text":
	default:
		return fmt.Errorf("invalid format %q (valid: simple, json, text)", c.Format)
	}
	return nil
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled *bool `yaml:"metrics_enabled,omitempty" json:"metrics_enabled,omitempty" jsonschema:"title=Metrics Enabled,description=Expose Prometheus metrics,default=true"`

	// TracingEnabled emits OpenTelemetry traces.
	TracingEnabled *bool `yaml:"tracing_enabled,omitempty" json:"tracing_enabled,omitempty" jsonschema:"title=Tracing Enabled,description=Emit OTLP traces,default=false"`

	// OTLPEndpoint is the OTLP gRPC collector address.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" json:"otlp_endpoint,omitempty" jsonschema:"title=OTLP Endpoint,description=OTLP gRPC collector address,default=localhost:4317"`

	// DebugStdout writes traces to stdout instead of the OTLP
	// collector. Local debugging only.
	DebugStdout bool `yaml:"debug_stdout,omitempty" json:"debug_stdout,omitempty" jsonschema:"title=Debug Stdout,description=Write traces to stdout instead of OTLP,default=false"`

	// ServiceName reported in traces and metrics.
	ServiceName string `yaml:"service_name,omitempty" json:"service_name,omitempty" jsonschema:"title=Service Name,description=Reported service name,default=cfr-agents"`
}

// SetDefaults applies default values.
func (c *ObservabilityConfig) SetDefaults() {
	if c.MetricsEnabled == nil {
		c.MetricsEnabled = BoolPtr(true)
	}
	if c.TracingEnabled == nil {
		c.TracingEnabled = BoolPtr(false)
	}
	if c.OTLPEndpoint == "" {
		c.OTLPEndpoint = "localhost:4317"
	}
	if c.ServiceName == "" {
		c.ServiceName = "cfr-agents"
	}
}

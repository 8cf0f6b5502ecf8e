// Package config loads the orchestrator's YAML-driven configuration: safety
// policy (spec §4.3.2), failover policies (spec §4.6), per-tool timeouts,
// and the Redis/OTEL endpoints wired at the composition root. Grounded on
// the teacher's integration_tests/framework.LoadScenarios: read the whole
// file and gopkg.in/yaml.v3-unmarshal into tagged structs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowforge/intentexec/internal/failover"
	"github.com/flowforge/intentexec/internal/plan"
)

// Redis configures the KVStore binding.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Telemetry configures the OpenTelemetry exporters.
type Telemetry struct {
	OTLPEndpoint   string `yaml:"otlpEndpoint"`
	ServiceName    string `yaml:"serviceName"`
	TracingEnabled bool   `yaml:"tracingEnabled"`
	MetricsEnabled bool   `yaml:"metricsEnabled"`
}

// ToolTimeout overrides the default per-tool execution timeout.
type ToolTimeout struct {
	ToolName  string `yaml:"toolName"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

// Generator configures which StructuredGenerator binding to construct and
// with which model.
type Generator struct {
	Provider     string `yaml:"provider"` // "anthropic" | "bedrock"
	DefaultModel string `yaml:"defaultModel"`
	MaxTokens    int64  `yaml:"maxTokens"`
}

// Config is the orchestrator's full composition-root configuration.
type Config struct {
	Redis             Redis             `yaml:"redis"`
	Telemetry         Telemetry         `yaml:"telemetry"`
	Generator         Generator         `yaml:"generator"`
	DefaultStepTimeMs int               `yaml:"defaultStepTimeoutMs"`
	ToolTimeouts      []ToolTimeout     `yaml:"toolTimeouts"`
	SafetyPolicy      plan.SafetyPolicy `yaml:"safetyPolicy"`
	FailoverPolicies  []failover.Policy `yaml:"failoverPolicies"`
}

// DefaultStepTimeout returns DefaultStepTimeMs as a time.Duration, falling
// back to 30s when unset.
func (c Config) DefaultStepTimeout() time.Duration {
	if c.DefaultStepTimeMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.DefaultStepTimeMs) * time.Millisecond
}

// TimeoutFor resolves a tool's configured timeout, falling back to
// DefaultStepTimeout when no override is configured.
func (c Config) TimeoutFor(toolName string) time.Duration {
	for _, t := range c.ToolTimeouts {
		if t.ToolName == toolName && t.TimeoutMs > 0 {
			return time.Duration(t.TimeoutMs) * time.Millisecond
		}
	}
	return c.DefaultStepTimeout()
}

// Load reads and parses a YAML configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

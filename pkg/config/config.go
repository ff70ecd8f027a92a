// Package config loads the Orchestration Core's tunables (spec §6
// "Configuration options"), grounded on the teacher's YAML-driven config
// loading idiom.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in spec §6.
type Config struct {
	MaxParallelWidth      int     `yaml:"max_parallel_width"`
	PerAgentTimeoutMs     int     `yaml:"per_agent_timeout_ms"`
	GlobalDeadlineMs      int     `yaml:"global_deadline_ms"`
	RetrievalLimitK       int     `yaml:"retrieval_limit_k"`
	RelevanceThresholdTau float64 `yaml:"relevance_threshold_tau"`
	ConfidenceBoostCap    float64 `yaml:"confidence_boost_cap"`
	EWMALambda            float64 `yaml:"ewma_lambda"`
	FeedbackGamma         float64 `yaml:"feedback_gamma"`
	RetryMaxN             int     `yaml:"retry_max_n"`
	RetryBaseBackoffMs    int     `yaml:"retry_base_backoff_ms"`
	MemoryBufferCapacity  int     `yaml:"memory_buffer_capacity"`
	HealthCheckIntervalMs int     `yaml:"health_check_interval_ms"`
	SessionMaxMessages    int     `yaml:"session_max_messages"`
}

// SetDefaults fills every field left at its zero value with the spec's
// documented default (spec §6 table).
func (c *Config) SetDefaults() {
	if c.MaxParallelWidth == 0 {
		c.MaxParallelWidth = 4
	}
	if c.PerAgentTimeoutMs == 0 {
		c.PerAgentTimeoutMs = 30_000
	}
	if c.GlobalDeadlineMs == 0 {
		c.GlobalDeadlineMs = 120_000
	}
	if c.RetrievalLimitK == 0 {
		c.RetrievalLimitK = 5
	}
	if c.RelevanceThresholdTau == 0 {
		c.RelevanceThresholdTau = 0.2
	}
	if c.ConfidenceBoostCap == 0 {
		c.ConfidenceBoostCap = 0.3
	}
	if c.EWMALambda == 0 {
		c.EWMALambda = 0.9
	}
	if c.FeedbackGamma == 0 {
		c.FeedbackGamma = 0.25
	}
	if c.RetryMaxN == 0 {
		c.RetryMaxN = 2
	}
	if c.RetryBaseBackoffMs == 0 {
		c.RetryBaseBackoffMs = 200
	}
	if c.MemoryBufferCapacity == 0 {
		c.MemoryBufferCapacity = 1024
	}
	if c.HealthCheckIntervalMs == 0 {
		c.HealthCheckIntervalMs = 30_000
	}
	if c.SessionMaxMessages == 0 {
		c.SessionMaxMessages = 500
	}
}

// Load reads and parses a YAML config file, applying defaults to any
// tunable the file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.SetDefaults()
	return &c, nil
}

// Default returns a Config populated entirely from documented defaults.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

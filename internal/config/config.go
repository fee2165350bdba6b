// Package config loads coursebot settings from defaults, an optional YAML
// file, an optional .env file and the process environment.
package config

import (
	"time"

	"coursebot/internal/observability"
)

const (
	DefaultOllamaURL         = "http://localhost:11434"
	DefaultModel             = "llama3.1:latest"
	DefaultCommandName       = "prompt"
	DefaultCourseName        = "Course"
	DefaultHTTPAddr          = ":8080"
	DefaultConcurrency       = 3
	DefaultTickInterval      = 2 * time.Second
	DefaultSegmentBudget     = 1800
	DefaultFlushInterval     = 1500 * time.Millisecond
	DefaultGracePeriod       = 500 * time.Millisecond
	DefaultIdleTimeout       = 2 * time.Minute
	DefaultMaxStreamDuration = 10 * time.Minute
	DefaultHeaderTimeout     = 30 * time.Second
)

// Config is the effective configuration of one coursebot process.
type Config struct {
	Discord       DiscordConfig       `mapstructure:"discord" yaml:"discord"`
	Ollama        OllamaConfig        `mapstructure:"ollama" yaml:"ollama"`
	Queue         QueueConfig         `mapstructure:"queue" yaml:"queue"`
	Stream        StreamConfig        `mapstructure:"stream" yaml:"stream"`
	Runner        RunnerConfig        `mapstructure:"runner" yaml:"runner"`
	Policy        PolicyConfig        `mapstructure:"policy" yaml:"policy"`
	Admission     AdmissionConfig     `mapstructure:"admission" yaml:"admission"`
	HTTP          HTTPConfig          `mapstructure:"http" yaml:"http"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

type DiscordConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	Token          string `mapstructure:"token" yaml:"token"`
	ClientID       string `mapstructure:"client_id" yaml:"client_id"`
	GuildID        string `mapstructure:"guild_id" yaml:"guild_id"`
	CommandName    string `mapstructure:"command_name" yaml:"command_name"`
	DeployCommands bool   `mapstructure:"deploy_commands" yaml:"deploy_commands"`
}

type OllamaConfig struct {
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	Model         string        `mapstructure:"model" yaml:"model"`
	HeaderTimeout time.Duration `mapstructure:"header_timeout" yaml:"header_timeout"`
}

type QueueConfig struct {
	Concurrency  int           `mapstructure:"concurrency" yaml:"concurrency"`
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
}

type StreamConfig struct {
	SegmentBudget int           `mapstructure:"segment_budget" yaml:"segment_budget"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	// GracePeriod is waited before the final flush. Negative disables it.
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
}

type RunnerConfig struct {
	CourseName        string        `mapstructure:"course_name" yaml:"course_name"`
	StreamIdleTimeout time.Duration `mapstructure:"stream_idle_timeout" yaml:"stream_idle_timeout"`
	MaxStreamDuration time.Duration `mapstructure:"max_stream_duration" yaml:"max_stream_duration"`
}

type PolicyConfig struct {
	// RulesFile replaces the built-in rule set when set.
	RulesFile string `mapstructure:"rules_file" yaml:"rules_file"`
}

type AdmissionConfig struct {
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	DedupSize         int           `mapstructure:"dedup_size" yaml:"dedup_size"`
	DedupTTL          time.Duration `mapstructure:"dedup_ttl" yaml:"dedup_ttl"`
	MaxPromptBytes    int           `mapstructure:"max_prompt_bytes" yaml:"max_prompt_bytes"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig               `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig               `mapstructure:"metrics" yaml:"metrics"`
	Tracing observability.TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// defaults is flattened into viper so every key is known to the env binder.
func defaults() map[string]any {
	return map[string]any{
		"discord.enabled":         true,
		"discord.token":           "",
		"discord.client_id":       "",
		"discord.guild_id":        "",
		"discord.command_name":    DefaultCommandName,
		"discord.deploy_commands": true,

		"ollama.base_url":       DefaultOllamaURL,
		"ollama.model":          DefaultModel,
		"ollama.header_timeout": DefaultHeaderTimeout,

		"queue.concurrency":   DefaultConcurrency,
		"queue.tick_interval": DefaultTickInterval,

		"stream.segment_budget": DefaultSegmentBudget,
		"stream.flush_interval": DefaultFlushInterval,
		"stream.grace_period":   DefaultGracePeriod,

		"runner.course_name":         DefaultCourseName,
		"runner.stream_idle_timeout": DefaultIdleTimeout,
		"runner.max_stream_duration": DefaultMaxStreamDuration,

		"policy.rules_file": "",

		"admission.requests_per_minute": 6,
		"admission.burst":               3,
		"admission.dedup_size":          1024,
		"admission.dedup_ttl":           10 * time.Minute,
		"admission.max_prompt_bytes":    4000,

		"http.enabled": false,
		"http.addr":    DefaultHTTPAddr,

		"observability.logging.level":           "info",
		"observability.logging.format":          "text",
		"observability.metrics.enabled":         true,
		"observability.tracing.enabled":         false,
		"observability.tracing.exporter":        "otlp",
		"observability.tracing.otlp_endpoint":   "localhost:4318",
		"observability.tracing.sample_rate":     1.0,
		"observability.tracing.service_name":    "coursebot",
		"observability.tracing.service_version": "",
	}
}

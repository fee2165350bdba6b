package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"

	"gopkg.in/yaml.v3"
)

// Purpose selects which settings Validate insists on.
type Purpose int

const (
	// PurposeServe runs the long-lived bot.
	PurposeServe Purpose = iota
	// PurposeDeploy registers slash commands.
	PurposeDeploy
	// PurposeAsk answers one prompt on the terminal.
	PurposeAsk
)

// Validate reports every problem found for the given purpose.
func (c Config) Validate(purpose Purpose) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch purpose {
	case PurposeServe:
		if !c.Discord.Enabled && !c.HTTP.Enabled {
			add("nothing to serve: enable discord or http")
		}
		if c.Discord.Enabled && c.Discord.Token == "" {
			add("discord.token is required (DISCORD_LLM_BOT_TOKEN)")
		}
		if c.HTTP.Enabled && c.HTTP.Addr == "" {
			add("http.addr is required when http is enabled")
		}
	case PurposeDeploy:
		if c.Discord.Token == "" {
			add("discord.token is required (DISCORD_LLM_BOT_TOKEN)")
		}
		if c.Discord.ClientID == "" {
			add("discord.client_id is required (DISCORD_LLM_BOT_CLIENT_ID)")
		}
		return errors.Join(errs...)
	}

	if u, err := url.Parse(c.Ollama.BaseURL); err != nil || u.Host == "" {
		add("ollama.base_url %q is not a valid URL", c.Ollama.BaseURL)
	}
	if c.Queue.Concurrency <= 0 {
		add("queue.concurrency must be positive, got %d", c.Queue.Concurrency)
	}
	if c.Queue.TickInterval <= 0 {
		add("queue.tick_interval must be positive, got %s", c.Queue.TickInterval)
	}
	if c.Stream.SegmentBudget <= 0 {
		add("stream.segment_budget must be positive, got %d", c.Stream.SegmentBudget)
	}
	if c.Stream.FlushInterval <= 0 {
		add("stream.flush_interval must be positive, got %s", c.Stream.FlushInterval)
	}
	switch c.Observability.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("observability.logging.level %q is not one of debug, info, warn, error", c.Observability.Logging.Level)
	}
	if rate := c.Observability.Tracing.SampleRate; rate < 0 || rate > 1 {
		add("observability.tracing.sample_rate must be within [0, 1], got %v", rate)
	}
	return errors.Join(errs...)
}

const maskedSecret = "********"

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Discord.Token != "" {
		c.Discord.Token = maskedSecret
	}
	return c
}

// Dump writes cfg as YAML with secrets masked.
func Dump(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/acidburn0zzz/spice-xpi/controller"
	"github.com/acidburn0zzz/spice-xpi/process"
	"github.com/acidburn0zzz/spice-xpi/types"
)

// Config is a connection profile (spicectl.yaml). Every value is optional
// and acts as a default for the launch flags; flags always win.
type Config struct {
	Connection types.ConnectionParams `yaml:"connection"`
	Proxy      *types.ProxyEndpoint   `yaml:"proxy,omitempty"`
	Client     ClientConfig           `yaml:"client"`
	Retry      RetryConfig            `yaml:"retry"`
	Notify     NotifyConfig           `yaml:"notify"`
	StateDir   string                 `yaml:"state_dir"`
	Debug      bool                   `yaml:"debug"`
}

// ClientConfig overrides the client command lines.
type ClientConfig struct {
	Primary  []string `yaml:"primary"`
	Fallback []string `yaml:"fallback"`
}

// RetryConfig holds connect retry settings.
type RetryConfig struct {
	Attempts int      `yaml:"attempts"`
	Schedule string   `yaml:"schedule"`
	Interval Duration `yaml:"interval"`
}

// NotifyConfig lists where exit notifications are published.
type NotifyConfig struct {
	Webhook *WebhookConfig `yaml:"webhook,omitempty"`
	Redis   *RedisConfig   `yaml:"redis,omitempty"`
}

// WebhookConfig configures the HTTP POST notifier.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout Duration          `yaml:"timeout"`
	// Retries defaults to the notifier's default when omitted.
	Retries *int `yaml:"retries"`
}

// RedisConfig configures the Redis pub/sub notifier.
type RedisConfig struct {
	URL     string   `yaml:"url"`
	Channel string   `yaml:"channel"`
	Timeout Duration `yaml:"timeout"`
	// Retries defaults to the notifier's default when omitted.
	Retries *int `yaml:"retries"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "250ms", "1s").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "500ms" or "2s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Resolver layers the profile's client command lines over base.
func (c *Config) Resolver(base process.Resolver) process.Resolver {
	return process.OverrideResolver{
		Base: base,
		Override: process.StaticResolver{
			Primary:  c.Client.Primary,
			Fallback: c.Client.Fallback,
		},
	}
}

// RetryPolicy merges the profile's retry section into the default policy.
func (c *Config) RetryPolicy() controller.RetryPolicy {
	p := controller.DefaultRetryPolicy()
	if c.Retry.Attempts != 0 {
		p.Attempts = c.Retry.Attempts
	}
	if c.Retry.Schedule != "" {
		p.Schedule = controller.Schedule(c.Retry.Schedule)
	}
	if c.Retry.Interval.Duration != 0 {
		p.Interval = c.Retry.Interval.Duration
	}
	return p
}

// Validate checks the sections that can be checked without flags.
func (c *Config) Validate() error {
	var errs []error
	if c.Proxy != nil {
		if err := c.Proxy.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("proxy: %w", err))
		}
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if w := c.Notify.Webhook; w != nil {
		if w.URL == "" {
			errs = append(errs, errors.New("notify.webhook: url is required"))
		}
		if w.Retries != nil && *w.Retries < 0 {
			errs = append(errs, fmt.Errorf("notify.webhook: retries must be >= 0, got %d", *w.Retries))
		}
	}
	if r := c.Notify.Redis; r != nil {
		if r.URL == "" {
			errs = append(errs, errors.New("notify.redis: url is required"))
		}
		if r.Retries != nil && *r.Retries < 0 {
			errs = append(errs, fmt.Errorf("notify.redis: retries must be >= 0, got %d", *r.Retries))
		}
	}
	if c.Connection.ColorDepth < 0 {
		errs = append(errs, fmt.Errorf("connection: color_depth must not be negative, got %d", c.Connection.ColorDepth))
	}
	return errors.Join(errs...)
}

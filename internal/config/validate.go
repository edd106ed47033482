package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rickgao/cf-feed/internal/auth"
	"github.com/rickgao/cf-feed/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.API.WSURL == "" {
		return errors.New("api.ws_url is required")
	}
	if !strings.HasPrefix(c.API.WSURL, "ws://") && !strings.HasPrefix(c.API.WSURL, "wss://") {
		return fmt.Errorf("api.ws_url must be a ws:// or wss:// URL, got %q", c.API.WSURL)
	}
	if (c.API.APIKey == "") != (c.API.APISecret == "") {
		return errors.New("api.api_key and api.api_secret must be set together")
	}
	if c.API.APISecret != "" {
		if err := c.Credentials().Validate(); err != nil {
			return fmt.Errorf("api.api_secret: %w", err)
		}
	}

	if err := c.Connection.validate(); err != nil {
		return err
	}

	for i, sub := range c.Subscriptions.Public {
		feed := model.Feed(sub.Feed)
		if !feed.IsPublic() {
			return fmt.Errorf("subscriptions.public[%d]: %q is not a public feed", i, sub.Feed)
		}
	}
	for i, name := range c.Subscriptions.Private {
		if !model.Feed(name).IsPrivate() {
			return fmt.Errorf("subscriptions.private[%d]: %q is not a private feed", i, name)
		}
		if c.API.APIKey == "" {
			return fmt.Errorf("subscriptions.private[%d]: %q requires api.api_key and api.api_secret", i, name)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Database.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.FlushInterval <= 0 {
			return errors.New("recorder.flush_interval must be > 0")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry.endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRatio <= 0 || c.Telemetry.SampleRatio > 1 {
			return fmt.Errorf("telemetry.sample_ratio must be in (0, 1], got %v", c.Telemetry.SampleRatio)
		}
		if c.Telemetry.Timeout <= 0 {
			return errors.New("telemetry.timeout must be > 0")
		}
	}

	return nil
}

// Credentials returns the configured API credentials.
func (c *Config) Credentials() auth.Credentials {
	return auth.Credentials{APIKey: c.API.APIKey, APISecret: c.API.APISecret}
}

func (cc *ConnectionConfig) validate() error {
	if cc.ConnectTimeout <= 0 {
		return errors.New("connection.connect_timeout must be > 0")
	}
	if cc.AuthTimeout <= 0 {
		return errors.New("connection.auth_timeout must be > 0")
	}
	if cc.WriteTimeout <= 0 {
		return errors.New("connection.write_timeout must be > 0")
	}
	if cc.PingInterval < 0 {
		return errors.New("connection.ping_interval must be >= 0")
	}
	if cc.BufferSize < 1 {
		return errors.New("connection.buffer_size must be >= 1")
	}
	if cc.CommandBufferSize < 1 {
		return errors.New("connection.command_buffer_size must be >= 1")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

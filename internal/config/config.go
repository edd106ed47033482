package config

import "time"

// Config is the root configuration for a feed client.
type Config struct {
	API           APIConfig           `yaml:"api"`
	Connection    ConnectionConfig    `yaml:"connection"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Logging       LoggingConfig       `yaml:"logging"`
	Database      DBConfig            `yaml:"database"`
	Recorder      RecorderConfig      `yaml:"recorder"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// APIConfig holds the endpoint and credentials.
type APIConfig struct {
	WSURL     string `yaml:"ws_url"`
	APIKey    string `yaml:"api_key"`    // public key; empty disables private feeds
	APISecret string `yaml:"api_secret"` // base64 secret used to sign challenges
	Exchange  string `yaml:"exchange"`   // label passed to every callback
}

// ConnectionConfig holds socket and handshake settings.
type ConnectionConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	AuthTimeout       time.Duration `yaml:"auth_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	BufferSize        int           `yaml:"buffer_size"`
	CommandBufferSize int           `yaml:"command_buffer_size"`
}

// SubscriptionsConfig lists the feeds to subscribe to at startup.
type SubscriptionsConfig struct {
	Public  []PublicSubscription `yaml:"public"`
	Private []string             `yaml:"private"`
}

// PublicSubscription is one product-scoped feed. ProductIDs may be empty
// for feeds that take none (heartbeat).
type PublicSubscription struct {
	Feed       string   `yaml:"feed"`
	ProductIDs []string `yaml:"product_ids"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // text, json
	Output     string `yaml:"output"` // stdout, stderr, or a file path
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DBConfig holds the PostgreSQL connection used by the feed recorder.
type DBConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RecorderConfig holds batch writer settings.
type RecorderConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// TelemetryConfig holds OpenTelemetry tracing settings. Spans are exported
// over OTLP/gRPC when Enabled.
type TelemetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Endpoint    string        `yaml:"endpoint"` // collector host:port
	Insecure    bool          `yaml:"insecure"` // plaintext gRPC
	ServiceName string        `yaml:"service_name"`
	SampleRatio float64       `yaml:"sample_ratio"` // 0 < ratio <= 1
	Timeout     time.Duration `yaml:"timeout"`      // exporter setup and shutdown
}

package models

// Config holds the application configuration
type Config struct {
	Daemon        DaemonConfig     `json:"daemon" mapstructure:"daemon"`
	Session       SessionConfig    `json:"session" mapstructure:"session"`
	Database      DatabaseConfig   `json:"database" mapstructure:"database"`
	Attachments   AttachmentConfig `json:"attachments" mapstructure:"attachments"`
	Retry         RetryConfig      `json:"retry" mapstructure:"retry"`
	Breaker       BreakerConfig    `json:"breaker" mapstructure:"breaker"`
	Server        ServerConfig     `json:"server" mapstructure:"server"`
	Tracing       TracingConfig    `json:"tracing" mapstructure:"tracing"`
	LogLevel      string           `json:"log_level" mapstructure:"log_level"`
	RetentionDays int              `json:"retentionDays" mapstructure:"retentionDays"`
}

// DaemonConfig holds the chat daemon endpoints
type DaemonConfig struct {
	RPCURL    string `json:"rpc_url" mapstructure:"rpc_url"`       // http(s):// or unix://
	EventsURL string `json:"events_url" mapstructure:"events_url"` // ws(s):// push channel
	AuthToken string `json:"auth_token" mapstructure:"auth_token"`
	TimeoutMs int    `json:"timeout_ms" mapstructure:"timeout_ms"`
}

// SessionConfig tunes the chat session engine
type SessionConfig struct {
	BatchSize           int  `json:"batch_size" mapstructure:"batch_size"`
	TopThresholdPx      int  `json:"top_threshold_px" mapstructure:"top_threshold_px"`
	BottomTolerancePx   int  `json:"bottom_tolerance_px" mapstructure:"bottom_tolerance_px"`
	LabelHideMs         int  `json:"label_hide_ms" mapstructure:"label_hide_ms"`
	LabelProbePx        int  `json:"label_probe_px" mapstructure:"label_probe_px"`
	FilterPushByContact bool `json:"filter_push_by_contact" mapstructure:"filter_push_by_contact"`
	DropStaleReloads    bool `json:"drop_stale_reloads" mapstructure:"drop_stale_reloads"`
}

// DatabaseConfig holds local state database configuration
type DatabaseConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// AttachmentConfig limits outgoing attachments
type AttachmentConfig struct {
	MaxSizeKB    int      `json:"max_size_kb" mapstructure:"max_size_kb"`
	AllowedTypes []string `json:"allowed_types" mapstructure:"allowed_types"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs" mapstructure:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs" mapstructure:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts" mapstructure:"maxAttempts"`
}

// BreakerConfig configures the circuit breaker around daemon calls
type BreakerConfig struct {
	MaxFailures     int `json:"max_failures" mapstructure:"max_failures"`
	ResetTimeoutSec int `json:"reset_timeout_sec" mapstructure:"reset_timeout_sec"`
}

// ServerConfig configures the local view API
type ServerConfig struct {
	ListenAddr string `json:"listen_addr" mapstructure:"listen_addr"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	Enabled        bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName    string  `json:"service_name" mapstructure:"service_name"`
	ServiceVersion string  `json:"service_version" mapstructure:"service_version"`
	Environment    string  `json:"environment" mapstructure:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" mapstructure:"sample_rate"`
	UseStdout      bool    `json:"use_stdout" mapstructure:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

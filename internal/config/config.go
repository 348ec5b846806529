package config

import (
	"fmt"
	"os"
	"strings"

	"onionchat/internal/constants"
	"onionchat/internal/models"
	"onionchat/internal/security"
	"onionchat/internal/tracing"
	"onionchat/internal/validation"
	pkgconstants "onionchat/pkg/constants"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	ErrMissingDaemonURL = models.ConfigError{Message: "missing daemon RPC URL"}
	ErrMissingEventsURL = models.ConfigError{Message: "missing daemon events URL"}
	ErrMissingDBPath    = models.ConfigError{Message: "missing database path"}
)

// Environment variables that override the config file.
const (
	EnvDaemonURL = "ONIONCHAT_DAEMON_URL"
	EnvEventsURL = "ONIONCHAT_EVENTS_URL"
	EnvDBPath    = "ONIONCHAT_DB_PATH"
	EnvLogLevel  = "ONIONCHAT_LOG_LEVEL"
	EnvAuthToken = "ONIONCHAT_AUTH_TOKEN"
	EnvMode      = "ONIONCHAT_ENV"
)

// LoadConfig reads the JSON config at path. A .env file in the working
// directory is loaded first; environment variables win over the file.
func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config models.Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("daemon.rpc_url", constants.DefaultDaemonRPCURL)
	v.SetDefault("daemon.events_url", constants.DefaultDaemonEventsURL)
	v.SetDefault("daemon.timeout_ms", constants.DefaultDaemonTimeoutMs)

	v.SetDefault("session.batch_size", constants.DefaultBatchSize)
	v.SetDefault("session.top_threshold_px", constants.DefaultTopThresholdPx)
	v.SetDefault("session.bottom_tolerance_px", constants.DefaultBottomTolerancePx)
	v.SetDefault("session.label_hide_ms", constants.DefaultLabelHideMs)
	v.SetDefault("session.label_probe_px", constants.DefaultLabelProbePx)
	v.SetDefault("session.filter_push_by_contact", false)
	v.SetDefault("session.drop_stale_reloads", true)

	v.SetDefault("database.path", constants.DefaultDatabasePath)

	v.SetDefault("attachments.max_size_kb", pkgconstants.DefaultMaxAttachmentSizeKB)
	v.SetDefault("attachments.allowed_types", pkgconstants.DefaultImageTypes)

	v.SetDefault("retry.initialBackoffMs", constants.DefaultRetryBackoffMs)
	v.SetDefault("retry.maxBackoffMs", constants.DefaultMaxBackoffMs)
	v.SetDefault("retry.maxAttempts", constants.DefaultMaxAttempts)

	v.SetDefault("breaker.max_failures", constants.DefaultBreakerMaxFailures)
	v.SetDefault("breaker.reset_timeout_sec", constants.DefaultBreakerResetSec)

	v.SetDefault("server.listen_addr", constants.DefaultListenAddr)

	tc := tracing.DefaultConfig()
	v.SetDefault("tracing.enabled", tc.Enabled)
	v.SetDefault("tracing.service_name", tc.ServiceName)
	v.SetDefault("tracing.service_version", tc.ServiceVersion)
	v.SetDefault("tracing.environment", tc.Environment)
	v.SetDefault("tracing.otlp_endpoint", tc.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", tc.SampleRate)

	v.SetDefault("log_level", constants.DefaultLogLevel)
	v.SetDefault("retentionDays", constants.DefaultRetentionDays)
}

func validate(c *models.Config) error {
	if c.Daemon.RPCURL == "" {
		return ErrMissingDaemonURL
	}
	if c.Daemon.EventsURL == "" {
		return ErrMissingEventsURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if err := validation.ValidateDaemonURL(c.Daemon.RPCURL, "http", "https", "unix"); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid daemon.rpc_url: %v", err)}
	}
	if err := validation.ValidateDaemonURL(c.Daemon.EventsURL, "ws", "wss"); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid daemon.events_url: %v", err)}
	}
	if err := security.ValidateFilePath(c.Database.Path); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid database.path: %v", err)}
	}

	if c.Session.BatchSize <= 0 {
		c.Session.BatchSize = constants.DefaultBatchSize
	}
	if err := validation.ValidateNumericRange(c.Session.BatchSize, "session.batch_size", 1, 1000); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if c.Session.TopThresholdPx <= 0 {
		c.Session.TopThresholdPx = constants.DefaultTopThresholdPx
	}
	if c.Session.BottomTolerancePx <= 0 {
		c.Session.BottomTolerancePx = constants.DefaultBottomTolerancePx
	}
	if c.Session.LabelHideMs <= 0 {
		c.Session.LabelHideMs = constants.DefaultLabelHideMs
	}
	if c.Session.LabelProbePx <= 0 {
		c.Session.LabelProbePx = constants.DefaultLabelProbePx
	}

	if c.Daemon.TimeoutMs <= 0 {
		c.Daemon.TimeoutMs = constants.DefaultDaemonTimeoutMs
	}
	if c.Attachments.MaxSizeKB <= 0 {
		c.Attachments.MaxSizeKB = pkgconstants.DefaultMaxAttachmentSizeKB
	}
	if len(c.Attachments.AllowedTypes) == 0 {
		c.Attachments.AllowedTypes = pkgconstants.DefaultImageTypes
	}
	if c.Breaker.MaxFailures <= 0 {
		c.Breaker.MaxFailures = constants.DefaultBreakerMaxFailures
	}
	if c.Breaker.ResetTimeoutSec <= 0 {
		c.Breaker.ResetTimeoutSec = constants.DefaultBreakerResetSec
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = constants.DefaultListenAddr
	}

	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
	if err := validation.ValidateRetentionDays(c.RetentionDays); err != nil {
		return models.ConfigError{Message: err.Error()}
	}

	if c.LogLevel == "" {
		c.LogLevel = constants.DefaultLogLevel
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid log_level: %s", c.LogLevel)}
	}

	if c.Tracing.Enabled {
		if err := tracing.Validate(c.Tracing); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid tracing config: %v", err)}
		}
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv(EnvDaemonURL); url != "" {
		c.Daemon.RPCURL = url
	}
	if url := os.Getenv(EnvEventsURL); url != "" {
		c.Daemon.EventsURL = url
	}

	// SECURITY: the daemon token should come from the environment, not the file
	if token := os.Getenv(EnvAuthToken); token != "" {
		c.Daemon.AuthToken = token
	}

	if path := os.Getenv(EnvDBPath); path != "" {
		c.Database.Path = path
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.LogLevel = strings.ToLower(level)
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv(EnvMode) == "production"

	if isProduction {
		// A remote daemon must authenticate us; a local socket is protected by file permissions.
		if c.Daemon.AuthToken == "" && !strings.HasPrefix(c.Daemon.RPCURL, "unix://") {
			return models.ConfigError{Message: fmt.Sprintf("daemon auth token is required in production (set %s)", EnvAuthToken)}
		}

		if c.LogLevel == "debug" || c.LogLevel == "trace" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.Daemon.AuthToken == "" && !strings.HasPrefix(c.Daemon.RPCURL, "unix://") {
		fmt.Fprintf(os.Stderr, "WARNING: daemon auth token not set. Set %s for remote daemons.\n", EnvAuthToken)
	}

	return nil
}

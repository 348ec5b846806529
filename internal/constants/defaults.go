package constants

// Default chat session values
const (
	DefaultBatchSize           = 25
	DefaultTopThresholdPx      = 20
	DefaultBottomTolerancePx   = 20
	DefaultLabelHideMs         = 500
	DefaultLabelProbePx        = 16
	DefaultWatchBufferSize     = 16
	DefaultActorQueueSize      = 64
	DefaultAttachmentLabelTmpl = "Sending image %s..."
)

// Default retry and retention values
const (
	DefaultRetryBackoffMs     = 1000
	DefaultMaxBackoffMs       = 30000
	DefaultMaxAttempts        = 5
	DefaultRetentionDays      = 30
	DefaultCleanupIntervalMin = 60
)

// Default daemon connection values
const (
	DefaultDaemonRPCURL          = "unix:///run/onionchat/daemon.sock"
	DefaultDaemonEventsURL       = "ws://127.0.0.1:9151/events"
	DefaultDaemonTimeoutMs       = 30000
	DefaultBreakerMaxFailures    = 5
	DefaultBreakerResetSec       = 30
	DefaultDatabasePath          = "onionchat.db"
	DefaultListenAddr            = "127.0.0.1:8087"
	DefaultLogLevel              = "info"
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 10
)

// Local state database
const (
	DefaultDatabaseRetryAttempts  = 3
	DefaultDatabaseRetryBackoffMs = 50
	DefaultDatabaseMaxBackoffMs   = 500

	EncryptionSecretEnv     = "ONIONCHAT_ENCRYPTION_SECRET"
	EncryptionEnabledEnv    = "ONIONCHAT_ENABLE_ENCRYPTION"
	EncryptionSalt          = "onionchat-outbox-salt-v1"
	EncryptionKeySize       = 32
	EncryptionNonceSize     = 12
	EncryptionIterations    = 100000
	MinEncryptionSecretSize = 32
)

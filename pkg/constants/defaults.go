package constants

// Default timeout values used by client packages
const (
	DefaultDaemonHTTPTimeoutSec = 60
	DefaultEventReadLimitBytes  = 4 * 1024 * 1024
	// LoadChat pages carry image bytes inline.
	DefaultRPCResponseLimitBytes = 64 * 1024 * 1024
	DefaultEventBufferSize       = 32
)

// Attachment limits enforced before handing a file to the daemon
const (
	BytesPerKilobyte           = 1024
	DefaultMaxAttachmentSizeKB = 500
	MaxImageDimensionPx        = 1025
	MimeDetectionBufferSize    = 512
)

// Timing constants used by packages
const (
	DefaultBackoffInitialMs = 500
	DefaultBackoffMaxSec    = 30
)

// Attachment file type constants
var (
	DefaultImageTypes = []string{"jpg", "jpeg", "png", "gif", "webp"}
)

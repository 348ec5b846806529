package service

// Logging Standards for onionchat
//
// This file defines standard field names, log levels, and patterns
// to ensure consistent logging across the application.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldContactID = "contact_id"
	LogFieldMessageID = "message_id"
	LogFieldLocalRef  = "local_ref"
	LogFieldRequestID = "request_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"

	// Session state
	LogFieldBatch      = "batch"
	LogFieldGeneration = "generation"
	LogFieldEpoch      = "epoch"
	LogFieldTrigger    = "trigger"
	LogFieldLimit      = "limit"

	// Message and event fields
	LogFieldEvent     = "event"
	LogFieldSendKind  = "send_kind"
	LogFieldDirection = "direction" // "incoming" or "outgoing"
	LogFieldContent   = "content"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"

	// Files
	LogFieldFilePath = "file_path"
	LogFieldFileSize = "file_size"

	// HTTP (local view API)
	LogFieldMethod     = "method"
	LogFieldPath       = "path"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldTraceID    = "trace_id"
	LogFieldSize       = "size_bytes"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Log Level Usage Guidelines
//
// DEBUG: per-reload and per-event detail, raw payload sizes.
// INFO: session start/stop, contact switches, history requests, config reloads.
// WARN: retryable daemon failures, malformed push frames, refused attachments.
// ERROR: rejected sends, failed reloads, local state database failures.
//
// Contact addresses are masked and message content hidden unless the
// context carries VerboseContextKey.

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Completed operations: "[Operation] completed"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"

package service

import (
	"context"

	"onionchat/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx so contact addresses and message text are logged in the clear.
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SanitizeContact masks an onion address unless verbose logging is on.
func SanitizeContact(ctx context.Context, onionID string) string {
	if IsVerboseLogging(ctx) {
		return onionID
	}
	return privacy.MaskOnionID(onionID)
}

// SanitizeContent completely hides message content for privacy
func SanitizeContent(ctx context.Context, content string) string {
	if content == "" || IsVerboseLogging(ctx) {
		return content
	}
	return privacy.MaskText(content)
}

// sessionEntry returns an entry tagged with the session component and contact.
func sessionEntry(ctx context.Context, logger *logrus.Logger, contactID string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		LogFieldComponent: "chat_session",
		LogFieldContactID: SanitizeContact(ctx, contactID),
	})
}

// LogSend logs an outgoing message with privacy controls.
func LogSend(ctx context.Context, logger *logrus.Logger, contactID, localRef, kind, content string) {
	sessionEntry(ctx, logger, contactID).WithFields(logrus.Fields{
		LogFieldLocalRef:  localRef,
		LogFieldSendKind:  kind,
		LogFieldDirection: "outgoing",
		LogFieldContent:   SanitizeContent(ctx, content),
	}).Info("Sending message")
}

// LogPushEvent logs a push notification with privacy controls.
func LogPushEvent(ctx context.Context, logger *logrus.Logger, event, onionID string) {
	logger.WithFields(logrus.Fields{
		LogFieldComponent: "live_listener",
		LogFieldEvent:     event,
		LogFieldContactID: SanitizeContact(ctx, onionID),
		LogFieldDirection: "incoming",
	}).Debug("Received push event")
}

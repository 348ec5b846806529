package errors

import (
	"onionchat/internal/privacy"

	"github.com/sirupsen/logrus"
)

// Entry returns a log entry carrying the error and, for an AppError, its
// code, retryability and context. Context values that name contacts, text or
// paths are masked.
func Entry(logger *logrus.Logger, err error) *logrus.Entry {
	entry := logger.WithError(err)

	if appErr, ok := asAppError(err); ok {
		entry = entry.WithFields(logrus.Fields{
			"error_code": appErr.Code,
			"retryable":  appErr.Retryable,
		})
		for k, v := range privacy.MaskSensitiveFields(appErr.Context) {
			entry = entry.WithField(k, v)
		}
	}
	return entry
}

// LogRetryableError logs a retryable error at warn level, non-retryable at error level
func LogRetryableError(logger *logrus.Logger, err error, message string) {
	if IsRetryable(err) {
		Entry(logger, err).Warn(message)
		return
	}
	Entry(logger, err).Error(message)
}

package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"onionchat/internal/errors"
)

const (
	onionV3Length  = 56
	maxMessageText = 64 * 1024
)

// ValidateOnionID checks a v3 onion service address, with or without the
// ".onion" suffix.
func ValidateOnionID(onionID string) error {
	if onionID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "onion address cannot be empty")
	}

	host := strings.TrimSuffix(onionID, ".onion")
	if len(host) != onionV3Length {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("onion address must be %d characters", onionV3Length))
	}

	for _, c := range host {
		if !(c >= 'a' && c <= 'z') && !(c >= '2' && c <= '7') {
			return errors.New(errors.ErrCodeInvalidInput, "onion address must be lowercase base32")
		}
	}

	return nil
}

// ValidateMessageText checks outgoing message text.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.NewValidationError("text", "", "message cannot be empty")
	}
	if !utf8.ValidString(text) {
		return errors.NewValidationError("text", "", "message must be valid UTF-8")
	}
	if len(text) > maxMessageText {
		return errors.NewValidationError("text", "", fmt.Sprintf("message too long (max %d bytes)", maxMessageText))
	}
	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateRetentionDays validates data retention period
func ValidateRetentionDays(days int) error {
	if days < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days must be at least 1")
	}

	if days > 3650 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days too large (max 3650)")
	}

	return nil
}

// ValidateDaemonURL checks an RPC or push endpoint URL scheme.
func ValidateDaemonURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New(errors.ErrCodeInvalidInput, "daemon URL cannot be empty")
	}
	for _, s := range schemes {
		if strings.HasPrefix(raw, s+"://") && len(raw) > len(s)+3 {
			return nil
		}
	}
	return errors.New(errors.ErrCodeInvalidInput,
		fmt.Sprintf("daemon URL must use one of: %s", strings.Join(schemes, ", ")))
}

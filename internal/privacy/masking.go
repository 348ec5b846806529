package privacy

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const onionSuffix = ".onion"

// MaskOnionID keeps the first and last four characters of an onion address.
// Example: "abcdefgh...wxyz.onion" -> "abcd****wxyz.onion"
func MaskOnionID(onionID string) string {
	if onionID == "" {
		return ""
	}

	suffix := ""
	host := onionID
	if strings.HasSuffix(host, onionSuffix) {
		host = strings.TrimSuffix(host, onionSuffix)
		suffix = onionSuffix
	}

	if len(host) <= 8 {
		return strings.Repeat("*", len(host)) + suffix
	}
	return host[:4] + strings.Repeat("*", len(host)-8) + host[len(host)-4:] + suffix
}

// MaskText hides message content, keeping only its length.
func MaskText(text string) string {
	if text == "" {
		return ""
	}
	return "[" + strconv.Itoa(utf8.RuneCountInString(text)) + " chars]"
}

// MaskPath keeps only the file name of a local path.
func MaskPath(path string) string {
	if path == "" {
		return ""
	}
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return ".../" + path[i+1:]
	}
	return path
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "contact", "onion_id", "to", "from":
			masked[k] = MaskOnionID(s)
		case "text", "body", "value", "payload":
			masked[k] = MaskText(s)
		case "path", "attachment":
			masked[k] = MaskPath(s)
		case "token", "auth_token":
			masked[k] = maskString(s, 0)
		default:
			masked[k] = v
		}
	}

	return masked
}

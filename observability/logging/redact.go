package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces credentials in log output.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach the log sink.
// Keys are matched case-insensitively, and any key ending in one of the
// suffixes is masked as well (e.g. "otlp_api_key").
var (
	sensitiveKeys = map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"password":      {},
		"dsn":           {},
		"journal_dsn":   {},
	}
	sensitiveSuffixes = []string{"token", "secret", "api_key", "private_key"}
)

// IsSensitive reports whether values logged under key are masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if _, ok := sensitiveKeys[normalized]; ok {
		return true
	}
	for _, suffix := range sensitiveSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			return true
		}
	}
	return false
}

// MaskField returns key with its value masked when the key is sensitive.
// Empty values pass through so missing headers stay visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskToken keeps the last four characters of a credential so operators can
// tell tokens apart without exposing them.
func MaskToken(token string) string {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return ""
	case len(token) <= 8:
		return RedactedValue
	default:
		return RedactedValue + token[len(token)-4:]
	}
}

// redactAttr masks string attributes logged under sensitive keys. Values
// already masked by MaskToken are left alone.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !IsSensitive(attr.Key) {
		return attr
	}
	value := attr.Value.String()
	if value == "" || strings.HasPrefix(value, RedactedValue) {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}

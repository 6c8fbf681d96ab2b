package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces credentials in log output.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"token":         {},
	"hmac_secret":   {},
	"secret":        {},
	"password":      {},
	"dsn":           {},
}

// IsSensitive reports whether values logged under key are masked.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField builds an attribute whose value is masked when key is sensitive.
// Bearer credentials keep their scheme so auth failures stay diagnosable.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, maskValue(value))
}

func maskValue(value string) string {
	scheme, _, found := strings.Cut(strings.TrimSpace(value), " ")
	if found && strings.EqualFold(scheme, "bearer") {
		return scheme + " " + RedactedValue
	}
	return RedactedValue
}

// redactAttr runs inside the handler so sensitive keys are masked even when
// callers log them with plain slog.String.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !IsSensitive(attr.Key) {
		return attr
	}
	return MaskField(attr.Key, attr.Value.String())
}

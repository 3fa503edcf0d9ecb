package observability

import "strings"

const (
	maxFieldRunes  = 256
	maxRouteRunes  = 180
	maxMethodRunes = 10
	maxUIDRunes    = 64
)

// sanitizeString strips control runes so request-derived values cannot forge
// log lines, then truncates to the rune limit.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldRunes
	}

	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, value)

	runes := []rune(cleaned)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

// SanitizeRoute cleans a chi route pattern before it is logged or attached to a span.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, maxRouteRunes)
}

// SanitizeMethod cleans an HTTP method string.
func SanitizeMethod(method string) string {
	return sanitizeString(method, maxMethodRunes)
}

// SanitizeUserID caps identifiers logged for request attribution. Firebase
// UIDs fit well inside the limit; anything longer is not a UID.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, maxUIDRunes)
}

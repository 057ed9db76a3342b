package observability

import "unicode"

const defaultStringLimit = 256

// sanitizeString trims unwanted characters and limits string length to avoid log injection.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}

	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

// SanitizeRoute removes control characters and enforces length constraints on routes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod removes control characters in HTTP methods.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeDocument masks a national identity document so only its last two
// digits ever reach the logs.
func SanitizeDocument(cpf string) string {
	cleaned := sanitizeString(cpf, 32)
	if len(cleaned) <= 2 {
		return cleaned
	}
	masked := make([]byte, len(cleaned))
	for i := range masked {
		if i >= len(cleaned)-2 {
			masked[i] = cleaned[i]
		} else if cleaned[i] >= '0' && cleaned[i] <= '9' {
			masked[i] = '*'
		} else {
			masked[i] = cleaned[i]
		}
	}
	return string(masked)
}

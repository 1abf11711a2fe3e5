// Package redact scrubs credentials from strings before they are logged.
// Provider errors can echo request headers or URLs, and both carry secrets
// here: backend API keys and the database connection string.
package redact

import "regexp"

// Placeholders substituted for matched secrets.
const (
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	KeyPlaceholder        = "[REDACTED_KEY]"
)

var (
	// Connection strings with inline credentials.
	dbConnRegex = regexp.MustCompile(`(?i)(postgres|postgresql|mysql)://[^@\s]+@`)

	// Key-bearing headers and parameters: Authorization, x-api-key,
	// api_key=..., key=... and similar.
	apiKeyRegex = regexp.MustCompile(
		`(?i)(api[_-]?key|x-goog-api-key|authorization|bearer|token|secret)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`,
	)

	// Bare provider key formats (OpenAI sk-..., Anthropic sk-ant-...).
	bareKeyRegex = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}\b`)

	placeholders = []struct {
		pattern     *regexp.Regexp
		replacement string
	}{
		{dbConnRegex, CredentialPlaceholder + "@"},
		{apiKeyRegex, KeyPlaceholder},
		{bareKeyRegex, KeyPlaceholder},
	}
)

// String redacts credentials from the input string.
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, p := range placeholders {
		result = p.pattern.ReplaceAllString(result, p.replacement)
	}
	return result
}

// Error redacts credentials from an error's Error() output. A nil error
// yields an empty string.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

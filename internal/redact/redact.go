// Package redact strips sensitive fragments from failure reasons
// before they are persisted on task records or emitted in audit
// events. Handler errors routinely embed storage connection strings,
// credentials, and media file paths that must not surface through the
// task API.
package redact

import "regexp"

// Redaction placeholders.
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedHostPlaceholder       = "[REDACTED_HOST]"
)

var (
	// Connection strings with inline credentials (redis://user:pw@...,
	// s3://key:secret@..., and friends).
	connStringRegex = regexp.MustCompile(`(?i)[a-z][a-z0-9+]*://[^@\s]+@`)

	// Passwords and secrets assigned in error text.
	passwordRegex = regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`)
	apiKeyRegex   = regexp.MustCompile(
		`(?i)(api[_-]?key|token|secret|access[_-]?key|auth)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`,
	)

	// Filesystem paths to media assets and scratch space.
	unixPathRegex = regexp.MustCompile(`(/[\w.-]+){2,}`)
	winPathRegex  = regexp.MustCompile(`[A-Za-z]:\\[^\\]+(\\[^\\]+)+`)

	// Internal host:port endpoints.
	hostPortRegex = regexp.MustCompile(
		`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}(?::\d{1,5})?\b`,
	)

	// Order matters: credentials before paths before hosts, so a
	// connection string is collapsed as a whole rather than piecemeal.
	rules = []struct {
		pattern     *regexp.Regexp
		placeholder string
	}{
		{connStringRegex, RedactedCredentialPlaceholder},
		{passwordRegex, RedactedCredentialPlaceholder},
		{apiKeyRegex, RedactedKeyPlaceholder},
		{unixPathRegex, RedactedPathPlaceholder},
		{winPathRegex, RedactedPathPlaceholder},
		{hostPortRegex, RedactedHostPlaceholder},
	}
)

// String redacts sensitive fragments from the input.
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, rule := range rules {
		result = rule.pattern.ReplaceAllString(result, rule.placeholder)
	}
	return result
}

// Error redacts an error's message. Returns "" for a nil error.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

package cliutil

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[redacted]"

var (
	secretKeyPattern  = regexp.MustCompile(`(?i)\b(` + strings.Join(secretKeys(), "|") + `)\b(\s*[:=]\s*)(["']?)([^"'\s]+)(["']?)`)
	secretFlagPattern = regexp.MustCompile(`(?i)(--?(?:password|passwd|token|secret|api-key|apikey|auth))(=|\s+)(["']?)([^"'\s]+)(["']?)`)
	urlUserinfo       = regexp.MustCompile(`(\w+://[^:/@\s]+:)([^@\s]+)(@)`)
)

func secretKeys() []string {
	keys := []string{
		"AWS_ACCESS_KEY_ID",
		"AWS_SECRET_ACCESS_KEY",
		"AWS_SESSION_TOKEN",
		"DATABASE_PASSWORD",
		"DB_PASSWORD",
		"POSTGRES_PASSWORD",
		"REDIS_PASSWORD",
		"NPM_TOKEN",
		"GITHUB_TOKEN",
		"API_KEY",
		"ACCESS_TOKEN",
		"CLIENT_SECRET",
	}
	escaped := make([]string, len(keys))
	for i, key := range keys {
		escaped[i] = regexp.QuoteMeta(key)
	}
	return escaped
}

// RedactSecrets masks secrets that commonly appear on dev-server command
// lines: KEY=value assignments for well-known secret names, --password style
// flags and passwords embedded in URLs.
func RedactSecrets(command string) string {
	if command == "" {
		return command
	}
	redacted := secretKeyPattern.ReplaceAllString(command, "$1$2$3"+redactedPlaceholder+"$5")
	redacted = secretFlagPattern.ReplaceAllString(redacted, "$1$2$3"+redactedPlaceholder+"$5")
	return urlUserinfo.ReplaceAllString(redacted, "$1"+redactedPlaceholder+"$3")
}

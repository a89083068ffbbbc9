// Package redaction masks credentials before they reach a log sink.
// The bot handles two kinds of secrets routinely: Telegram bot tokens and
// Anthropic API keys. Both leak easily through subprocess errors and HTTP
// failures, so every log line passes through here first.
package redaction

import (
	"regexp"
	"strings"
)

const replacement = "[REDACTED]"

var builtinPatterns = []*regexp.Regexp{
	// Telegram bot tokens: <numeric id>:<35 char secret>
	regexp.MustCompile(`\b\d{8,10}:[A-Za-z0-9_-]{35}\b`),
	// Anthropic API keys
	regexp.MustCompile(`sk-ant-[A-Za-z0-9\-_]{20,}`),
	// Generic key=value / key: value credential assignments
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)\s*[=:]\s*['"]?([A-Za-z0-9_\-\.]{16,})['"]?`),
	// Bearer headers
	regexp.MustCompile(`(?i)bearer\s+([A-Za-z0-9_\-\.]{16,})`),
}

var sensitiveKeys = []string{
	"token", "api_key", "apikey", "secret", "password", "credential",
}

// Redact masks credential material in a log message.
func Redact(input string) string {
	result := input
	for _, re := range builtinPatterns {
		result = re.ReplaceAllStringFunc(result, func(match string) string {
			sub := re.FindStringSubmatch(match)
			if len(sub) > 1 && sub[len(sub)-1] != "" {
				return strings.Replace(match, sub[len(sub)-1], replacement, 1)
			}
			return replacement
		})
	}
	return result
}

// RedactFields masks values whose key names suggest credential material and
// scrubs string values through Redact. Nested maps are handled recursively.
func RedactFields(fields map[string]any) map[string]any {
	result := make(map[string]any, len(fields))
	for k, v := range fields {
		if isSensitiveKey(strings.ToLower(k)) {
			result[k] = replacement
			continue
		}
		switch val := v.(type) {
		case string:
			result[k] = Redact(val)
		case map[string]any:
			result[k] = RedactFields(val)
		default:
			result[k] = v
		}
	}
	return result
}

func isSensitiveKey(key string) bool {
	for _, sk := range sensitiveKeys {
		if strings.Contains(key, sk) {
			return true
		}
	}
	return false
}

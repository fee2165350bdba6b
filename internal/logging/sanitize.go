package logging

import "regexp"

// Placeholder replaces redacted secrets in log output.
const Placeholder = "[REDACTED]"

var (
	authorizationBearerPattern = regexp.MustCompile(
		`(?i)((?:"|')?authorization(?:"|')?\s*(?:=|:)\s*)((?:bearer|bot)\s+)([^"'\s,;]+)`,
	)
	sensitiveKeyValuePattern = regexp.MustCompile(
		`(?i)((?:"|')?(?:api[_-]?key|access[_-]?token|bot[_-]?token|token|secret|password|credential)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;]+)((?:"|')?)`,
	)
	bearerTokenPattern = regexp.MustCompile(`(?i)\b((?:bearer|bot)\s+)([A-Za-z0-9\-\._~+/]{20,}=*)`)
	// Discord bot tokens: base64 user id, timestamp, hmac.
	discordTokenPattern = regexp.MustCompile(`[MN][A-Za-z\d_-]{23,25}\.[A-Za-z\d_-]{6}\.[A-Za-z\d_-]{27,38}`)
)

// Sanitize redacts credentials that commonly leak into log lines.
func Sanitize(line string) string {
	sanitized := authorizationBearerPattern.ReplaceAllString(line, "${1}${2}"+Placeholder)
	sanitized = sensitiveKeyValuePattern.ReplaceAllString(sanitized, "${1}"+Placeholder+"${3}")
	sanitized = bearerTokenPattern.ReplaceAllString(sanitized, "${1}"+Placeholder)
	sanitized = discordTokenPattern.ReplaceAllString(sanitized, Placeholder)
	return sanitized
}

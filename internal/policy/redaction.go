package policy

import "regexp"

var (
	bearerPattern     = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/\-]+=*`)
	tokenParamPattern = regexp.MustCompile(`(?i)\b(access_token|refresh_token|quiz_token|api[_-]?key)=[^&\s"']+`)
	authHeaderPattern = regexp.MustCompile(`(?i)\b(authorization|xi-api-key):\s*\S+`)
)

// RedactSecrets masks bearer tokens and credential-carrying parameters.
// Error strings from the provider clients can embed the request that failed,
// and those strings travel to the agent and the browser.
func RedactSecrets(input string) (redacted string, changed bool) {
	out := input

	next := bearerPattern.ReplaceAllString(out, "[REDACTED_TOKEN]")
	changed = changed || next != out
	out = next

	next = tokenParamPattern.ReplaceAllString(out, "$1=[REDACTED]")
	changed = changed || next != out
	out = next

	next = authHeaderPattern.ReplaceAllString(out, "$1: [REDACTED]")
	changed = changed || next != out
	out = next

	return out, changed
}

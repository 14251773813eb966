// Package redact scrubs sensitive values from log data before it is
// handed to the language model. Sanitize is a total function: it never
// fails, and applying it twice yields the same output because the
// replacement markers cannot match any rule.
package redact

import "regexp"

// rule pairs a pattern with its category marker. Rules run in declaration
// order; earlier replacements must never produce text a later pattern can
// match, which the bracketed marker format guarantees (no digits, dots,
// or separators that the patterns key on).
type rule struct {
	pattern *regexp.Regexp
	marker  string
}

var rules = []rule{
	// PEM blocks first so their base64 body is gone before the generic
	// token patterns see it.
	{regexp.MustCompile(`-----BEGIN [A-Z ]+-----[\s\S]*?-----END [A-Z ]+-----`), "[REDACTED:PEM-KEY]"},
	{regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{5,}\b`), "[REDACTED:JWT]"},
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}=*`), "[REDACTED:BEARER-TOKEN]"},
	{regexp.MustCompile(`\b(?:AKIA|ASIA|AGPA|AROA)[A-Z0-9]{16}\b`), "[REDACTED:ACCESS-KEY]"},
	{regexp.MustCompile(`(?i)\b(?:aws_secret_access_key|secret[_-]?key)\s*[=:]\s*\S{16,}`), "[REDACTED:SECRET-KEY]"},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[REDACTED:EMAIL]"},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[REDACTED:IPV4]"},
	{regexp.MustCompile(`\b(?:[0-9A-Fa-f]{1,4}:){6,7}[0-9A-Fa-f]{1,4}\b`), "[REDACTED:IPV6]"},
	{regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`), "[REDACTED:CARD-NUMBER]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED:SSN]"},
	{regexp.MustCompile(`\b\+?\d{1,3}[ .-]?\(?\d{2,4}\)?[ .-]?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:PHONE]"},
}

// Sanitize replaces sensitive values with category markers.
func Sanitize(text string) string {
	for _, r := range rules {
		text = r.pattern.ReplaceAllString(text, r.marker)
	}
	return text
}

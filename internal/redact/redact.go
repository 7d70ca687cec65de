// Package redact implements C9, the pattern-based secret redactor that every
// write path in pkg/datastore routes through before a byte reaches durable
// storage or an outbound comment to the hosting provider.
package redact

import (
	"regexp"
	"strings"
)

// pattern pairs a compiled matcher with the category name used in its
// replacement token, so a redacted log still hints at what was scrubbed
// without revealing the value.
type pattern struct {
	category string
	re       *regexp.Regexp
}

// patterns is deliberately ordered: more specific shapes (PEM blocks, JWTs)
// are tried before the generic key=value fallback so a matched substring
// isn't double-tagged by two categories.
var patterns = []pattern{
	{"github_token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`)},
	{"pem_private_key", regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)},
	{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)},
	{"bearer_token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{12,}`)},
	{"database_url", regexp.MustCompile(`(?i)\b(postgres|postgresql|mysql|redis|mongodb(?:\+srv)?)://[^:\s]+:[^@\s]+@[^\s'"]+`)},
	{"api_key", regexp.MustCompile(`(?i)\b(sk|pk|api)-[A-Za-z0-9]{16,}\b`)},
	{"webhook_secret", regexp.MustCompile(`(?i)\bwhsec_[A-Za-z0-9]{16,}\b`)},
	{"key_value_secret", regexp.MustCompile(`(?i)\b([A-Za-z0-9_]*(secret|password|passwd|token|api[_-]?key|private[_-]?key)[A-Za-z0-9_]*)\s*[:=]\s*['"]?[^\s'",}]{4,}['"]?`)},
}

var sensitiveKeyPattern = regexp.MustCompile(`(?i)(secret|password|passwd|token|key|private)`)

// RedactText replaces every matched secret-shaped substring in s with
// "[REDACTED:<category>]". Idempotent: a string already containing a
// redaction token is left unchanged on a second pass because the token
// itself matches none of the patterns above.
func RedactText(s string) string {
	if s == "" {
		return s
	}
	out := s
	for _, p := range patterns {
		out = p.re.ReplaceAllString(out, "[REDACTED:"+p.category+"]")
	}
	return out
}

// RedactStructured recurses through maps and slices, redacting text leaves
// with RedactText and replacing the entire value of any map key whose name
// looks sensitive, regardless of the value's shape.
func RedactStructured(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return RedactText(v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			if sensitiveKeyPattern.MatchString(k) {
				out[k] = "[REDACTED]"
				continue
			}
			out[k] = RedactStructured(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = RedactStructured(item)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = RedactText(item)
		}
		return out
	default:
		return value
	}
}

// LooksSensitiveKey is exported so callers building structured logs by hand
// (outside RedactStructured's recursion) can apply the same naming rule.
func LooksSensitiveKey(key string) bool {
	return sensitiveKeyPattern.MatchString(strings.ToLower(key))
}

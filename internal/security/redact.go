package security

import (
	"regexp"
	"strings"
)

// RedactionSentinel is the literal replacement text for any matched
// secret. It is a contract with clients, not an implementation detail —
// do not change it.
const RedactionSentinel = "[REDACTED]"

// defaultValuePatterns mirror the regexes original_source's SSH wrapper
// compiles by default: they match a key-like token followed by its value
// and redact only the value, preserving the key for readability.
var defaultValuePatterns = []string{
	`(?i)(password|passwd|pwd)\s*[:=]\s*(\S+)`,
	`(?i)(api[_-]?key|apikey)\s*[:=]\s*(\S+)`,
	`(?i)(token|secret)\s*[:=]\s*(\S+)`,
	`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
	`\b(?:\d[ -]*?){13,16}\b`,
}

// defaultSensitiveKeySubstrings flag a structured-payload key as sensitive
// if its lowercased form contains any of these, regardless of key casing
// or surrounding characters.
var defaultSensitiveKeySubstrings = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey", "credential",
}

// Redactor applies value-pattern and key-name redaction. It is built once
// per profile (patterns are profile patterns first, defaults last) and
// reused across calls so the pattern set never changes mid-session,
// keeping idempotence straightforward to reason about.
type Redactor struct {
	valuePatterns []*regexp.Regexp
	sensitiveKeys []string
}

// NewRedactor compiles profile-supplied patterns ahead of the built-in
// defaults. An invalid profile pattern is skipped rather than failing
// startup — a typo in one profile's redaction_rules should not take down
// the whole server.
func NewRedactor(profilePatterns []string) *Redactor {
	all := make([]string, 0, len(profilePatterns)+len(defaultValuePatterns))
	all = append(all, profilePatterns...)
	all = append(all, defaultValuePatterns...)

	compiled := make([]*regexp.Regexp, 0, len(all))
	for _, p := range all {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}

	return &Redactor{
		valuePatterns: compiled,
		sensitiveKeys: defaultSensitiveKeySubstrings,
	}
}

// RedactText replaces every pattern match in s with the sentinel. Matches
// are located across all patterns first, then replaced back-to-front so
// byte offsets of earlier matches are never invalidated by a
// shorter/longer replacement further along the string — mirroring the
// reverse-iteration rule original_source's ssh_wrapper.py.redact_secrets
// relies on for the same reason.
func (r *Redactor) RedactText(s string) string {
	type span struct{ start, end int }
	var spans []span

	for _, re := range r.valuePatterns {
		for _, loc := range re.FindAllStringSubmatchIndex(s, -1) {
			if len(loc) >= 4 && loc[2] >= 0 {
				// Pattern has a capture group for the value half; redact
				// only that half so the key token survives.
				spans = append(spans, span{loc[len(loc)-2], loc[len(loc)-1]})
			} else {
				spans = append(spans, span{loc[0], loc[1]})
			}
		}
	}
	if len(spans) == 0 {
		return s
	}

	// Sort descending by start so replacement proceeds back-to-front.
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j-1].start < spans[j].start; j-- {
			spans[j-1], spans[j] = spans[j], spans[j-1]
		}
	}

	out := s
	rightEdge := len(s) + 1
	for _, sp := range spans {
		if sp.end > rightEdge {
			continue // overlaps a span already replaced further right
		}
		out = out[:sp.start] + RedactionSentinel + out[sp.end:]
		rightEdge = sp.start
	}
	return out
}

// IsSensitiveKey reports whether a structured-payload key name should have
// its value redacted outright, regardless of the value's content.
func (r *Redactor) IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, substr := range r.sensitiveKeys {
		if strings.Contains(lower, substr) {
			return true
		}
	}
	return false
}

// RedactStructured recursively redacts string leaves of a JSON-shaped
// value (map[string]any / []any / string / other scalars), masking
// sensitive-key values outright and running RedactText over every other
// string leaf. The input is not mutated in place; a new value is returned.
func (r *Redactor) RedactStructured(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if r.IsSensitiveKey(k) {
				out[k] = RedactionSentinel
				continue
			}
			out[k] = r.RedactStructured(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = r.RedactStructured(child)
		}
		return out
	case string:
		return r.RedactText(val)
	default:
		return val
	}
}

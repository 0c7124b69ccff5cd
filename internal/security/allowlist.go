// Package security implements the policy layer: the pass-through command
// allowlist and dangerous-flag check, and the secret redactor applied to
// every outbound payload.
package security

import (
	"fmt"
	"strings"

	"github.com/ops-core/server/internal/config"
)

// PolicyError is a non-retryable refusal: scope violation, allowlist
// refusal, or dangerous-flag refusal. It is surfaced as a tool result with
// isError: true, never as a JSON-RPC error.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string { return e.Reason }

// Allowlist evaluates pass-through command admission for one profile.
type Allowlist struct {
	profile config.Profile
}

func NewAllowlist(p config.Profile) *Allowlist {
	return &Allowlist{profile: p}
}

// Check admits or refuses invoking `family verb args...` (e.g. family
// "kubectl", argv ["get", "pods"]). The first token of argv is the verb.
func (a *Allowlist) Check(family string, argv []string) error {
	if len(argv) == 0 {
		return &PolicyError{Reason: fmt.Sprintf("command %q requires at least a verb", family)}
	}
	verb := argv[0]

	verbs, wildcard := a.profile.AllowedVerbs(family)
	if !wildcard {
		admitted := false
		for _, v := range verbs {
			if v == verb {
				admitted = true
				break
			}
		}
		if !admitted {
			return &PolicyError{Reason: fmt.Sprintf("verb %q not permitted for %q under profile %q", verb, family, a.profile.Name)}
		}
	}

	if !a.profile.DangerousAllowed {
		if flag := a.firstDangerousFlag(argv); flag != "" {
			return &PolicyError{Reason: fmt.Sprintf("argument %q matches a dangerous-flag pattern and dangerous_allowed is false", flag)}
		}
	}

	return nil
}

func (a *Allowlist) firstDangerousFlag(argv []string) string {
	for _, arg := range argv {
		for _, pattern := range a.profile.DangerousFlags {
			if pattern == "" {
				continue
			}
			if strings.Contains(strings.ToLower(arg), strings.ToLower(pattern)) {
				return arg
			}
		}
	}
	return ""
}

package security

import (
	"errors"
	"testing"

	"github.com/ops-core/server/internal/config"
)

func TestAllowlist_Check(t *testing.T) {
	profile := config.Profile{
		Name: "staging",
		Allowlist: []config.AllowlistEntry{
			{Family: "kubectl", Verbs: []string{"get", "describe"}},
			{Family: "docker", Verbs: []string{"*"}},
		},
		DangerousFlags:   []string{"--force", "--grace-period=0"},
		DangerousAllowed: false,
	}
	a := NewAllowlist(profile)

	if err := a.Check("kubectl", []string{"get", "pods"}); err != nil {
		t.Errorf("unexpected refusal: %v", err)
	}

	if err := a.Check("kubectl", []string{"delete", "pods"}); err == nil {
		t.Error("expected refusal for non-allowlisted verb")
	}

	if err := a.Check("docker", []string{"anything"}); err != nil {
		t.Errorf("wildcard family should admit any verb: %v", err)
	}

	if err := a.Check("kubectl", []string{"delete", "deployment", "--force"}); err == nil {
		t.Error("expected refusal, verb not allowed regardless of flags")
	}

	if err := a.Check("docker", []string{"rm", "--force", "container"}); err == nil {
		t.Error("expected refusal for dangerous flag when dangerous_allowed is false")
	}

	var policyErr *PolicyError
	if err := a.Check("docker", []string{"rm", "--force"}); !errors.As(err, &policyErr) {
		t.Error("expected a *PolicyError")
	}
}

func TestAllowlist_DangerousAllowed(t *testing.T) {
	profile := config.Profile{
		Allowlist:        []config.AllowlistEntry{{Family: "docker", Verbs: []string{"*"}}},
		DangerousFlags:   []string{"--force"},
		DangerousAllowed: true,
	}
	a := NewAllowlist(profile)

	if err := a.Check("docker", []string{"rm", "--force"}); err != nil {
		t.Errorf("dangerous_allowed=true should admit dangerous flags: %v", err)
	}
}

func TestAllowlist_EmptyArgv(t *testing.T) {
	a := NewAllowlist(config.Profile{})
	if err := a.Check("kubectl", nil); err == nil {
		t.Error("expected refusal for empty argv")
	}
}

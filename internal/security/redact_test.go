package security

import "testing"

func TestRedactor_RedactText(t *testing.T) {
	r := NewRedactor(nil)

	tests := []struct {
		in   string
		want string
	}{
		{"API_TOKEN: abc123\nok", "API_TOKEN: [REDACTED]\nok"},
		{"password=s3cr3t done", "password=[REDACTED] done"},
		{"no secrets here", "no secrets here"},
		{"contact me at a@example.com please", "contact me at [REDACTED] please"},
	}

	for _, tt := range tests {
		got := r.RedactText(tt.in)
		if got != tt.want {
			t.Errorf("RedactText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactor_Idempotent(t *testing.T) {
	r := NewRedactor(nil)
	in := "token: xyz and password=abc"
	once := r.RedactText(in)
	twice := r.RedactText(once)
	if once != twice {
		t.Errorf("redaction not idempotent: %q != %q", once, twice)
	}
}

func TestRedactor_ProfilePatternsPrepended(t *testing.T) {
	r := NewRedactor([]string{`(?i)internal-id\s*[:=]\s*(\S+)`})
	got := r.RedactText("internal-id: 42")
	if got != "internal-id: [REDACTED]" {
		t.Errorf("profile pattern not applied: %q", got)
	}
}

func TestRedactor_RedactStructured(t *testing.T) {
	r := NewRedactor(nil)
	in := map[string]any{
		"exit_code": float64(0),
		"password":  "s3cr3t",
		"stdout":    "token: hunter2",
		"nested": map[string]any{
			"api_key": "zzz",
		},
	}

	out := r.RedactStructured(in).(map[string]any)
	if out["password"] != RedactionSentinel {
		t.Errorf("expected sensitive key fully masked, got %v", out["password"])
	}
	if out["stdout"] != "token: [REDACTED]" {
		t.Errorf("expected value-pattern redaction in stdout, got %v", out["stdout"])
	}
	nested := out["nested"].(map[string]any)
	if nested["api_key"] != RedactionSentinel {
		t.Errorf("expected nested sensitive key masked, got %v", nested["api_key"])
	}
	if out["exit_code"] != float64(0) {
		t.Errorf("non-string leaves must pass through unchanged, got %v", out["exit_code"])
	}
}

func TestRedactor_InvalidProfilePatternSkipped(t *testing.T) {
	r := NewRedactor([]string{"(unterminated["})
	// Should not panic, and built-in defaults still apply.
	got := r.RedactText("password=abc")
	if got != "password=[REDACTED]" {
		t.Errorf("expected default pattern to still apply: %q", got)
	}
}

package audit

import "testing"

func TestFingerprint_StableForEqualInput(t *testing.T) {
	args := map[string]any{"server": "h1", "command": "echo ok"}
	a := Fingerprint(args)
	b := Fingerprint(map[string]any{"server": "h1", "command": "echo ok"})
	if a != b {
		t.Errorf("fingerprint should be stable for equal input: %s != %s", a, b)
	}
	if a == "" {
		t.Error("expected non-empty fingerprint")
	}
}

func TestFingerprint_DiffersForDifferentInput(t *testing.T) {
	a := Fingerprint(map[string]any{"command": "echo ok"})
	b := Fingerprint(map[string]any{"command": "rm -rf /"})
	if a == b {
		t.Error("expected different fingerprints for different arguments")
	}
}

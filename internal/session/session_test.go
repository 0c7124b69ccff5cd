package session

import "testing"

func TestSession_Lifecycle(t *testing.T) {
	s := New()
	if s.State() != PreInit {
		t.Fatalf("expected PreInit, got %s", s.State())
	}

	if err := s.RequireReady(); err != ErrNotReady {
		t.Fatalf("expected ErrNotReady before init, got %v", err)
	}

	if err := s.BeginInitialize(ClientInfo{Name: "t", Version: "1"}, "2024-11-05"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State() != Initializing {
		t.Fatalf("expected Initializing, got %s", s.State())
	}

	if err := s.BeginInitialize(ClientInfo{}, ""); err != ErrAlreadyInitialized {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}

	view := &View{ProfileName: "default", ScopeFilter: map[string]bool{"ssh_execute": true}}
	if err := s.CommitReady(view); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State() != Ready {
		t.Fatalf("expected Ready, got %s", s.State())
	}
	if err := s.RequireReady(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	newView := &View{ProfileName: "staging", ScopeFilter: map[string]bool{"k8s_list_pods": true}}
	if err := s.SwapView(newView); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.View(); got.ProfileName != "staging" {
		t.Errorf("expected staging, got %s", got.ProfileName)
	}
	if s.View().Allows("ssh_execute") {
		t.Error("old scope entries must not survive a view swap")
	}

	s.Close()
	if s.State() != Closed {
		t.Fatalf("expected Closed, got %s", s.State())
	}
}

func TestSession_CommitReadyBeforeInitializing(t *testing.T) {
	s := New()
	if err := s.CommitReady(&View{}); err != ErrNotReady {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

type fakeCatalog struct {
	tags map[string]string
}

func (f fakeCatalog) ScopeTagOf(name string) (string, bool) {
	t, ok := f.tags[name]
	return t, ok
}

func (f fakeCatalog) Names() []string {
	names := make([]string, 0, len(f.tags))
	for n := range f.tags {
		names = append(names, n)
	}
	return names
}

func TestResolveScope(t *testing.T) {
	catalog := fakeCatalog{tags: map[string]string{
		"ssh_execute":           ScopeCore,
		"docker_list_containers": ScopeStandard,
		"k8s_scale_deployment":  ScopeAll,
	}}

	core, err := ResolveScope(ScopeCore, catalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(core) != 1 || !core["ssh_execute"] {
		t.Errorf("core scope mismatch: %v", core)
	}

	standard, err := ResolveScope(ScopeStandard, catalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(standard) != 2 {
		t.Errorf("standard should be a strict superset of core: %v", standard)
	}

	all, err := ResolveScope(ScopeAll, catalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all should include every tool: %v", all)
	}

	explicit, err := ResolveScope("ssh_execute, k8s_scale_deployment", catalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(explicit) != 2 {
		t.Errorf("explicit scope mismatch: %v", explicit)
	}

	if _, err := ResolveScope("nonexistent_tool", catalog); err == nil {
		t.Error("expected error for unknown tool name")
	}

	if _, err := ResolveScope(" , ", catalog); err == nil {
		t.Error("expected ErrEmptyScopeList for an explicit list with no real names")
	}
}

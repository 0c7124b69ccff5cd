package config

import (
	"errors"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name: "empty config is valid",
			cfg:  Config{},
		},
		{
			name: "duplicate host name",
			cfg: Config{
				Hosts: []HostEntry{{Name: "h1"}, {Name: "h1"}},
			},
			wantErr: ErrDuplicateHost,
		},
		{
			name: "duplicate cluster name",
			cfg: Config{
				Clusters: []ClusterEntry{{Name: "c1"}, {Name: "c1"}},
			},
			wantErr: ErrDuplicateCluster,
		},
		{
			name: "duplicate docker endpoint name",
			cfg: Config{
				DockerEndpoints: []DockerEndpointEntry{{Name: "d1"}, {Name: "d1"}},
			},
			wantErr: ErrDuplicateDocker,
		},
		{
			name: "empty profile name",
			cfg: Config{
				Profiles: []Profile{{Name: ""}},
			},
			wantErr: ErrEmptyProfileName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_ActiveProfile(t *testing.T) {
	t.Run("no profiles configured returns synthetic default", func(t *testing.T) {
		cfg := &Config{}
		p, err := cfg.ActiveProfile()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Name != "default" {
			t.Errorf("expected default profile, got %q", p.Name)
		}
	})

	t.Run("default profile name resolves", func(t *testing.T) {
		cfg := &Config{
			Profiles:       []Profile{{Name: "staging"}, {Name: "prod"}},
			DefaultProfile: "prod",
		}
		p, err := cfg.ActiveProfile()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Name != "prod" {
			t.Errorf("expected prod, got %q", p.Name)
		}
	})

	t.Run("unknown default profile errors", func(t *testing.T) {
		cfg := &Config{
			Profiles:       []Profile{{Name: "staging"}},
			DefaultProfile: "missing",
		}
		if _, err := cfg.ActiveProfile(); !errors.Is(err, ErrUnknownProfile) {
			t.Fatalf("expected ErrUnknownProfile, got %v", err)
		}
	})

	t.Run("falls back to first profile", func(t *testing.T) {
		cfg := &Config{Profiles: []Profile{{Name: "only"}}}
		p, err := cfg.ActiveProfile()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Name != "only" {
			t.Errorf("expected only, got %q", p.Name)
		}
	})
}

func TestProfile_AllowedVerbs(t *testing.T) {
	p := Profile{
		Allowlist: []AllowlistEntry{
			{Family: "kubectl", Verbs: []string{"get", "describe"}},
			{Family: "docker", Verbs: []string{"*"}},
		},
	}

	verbs, wildcard := p.AllowedVerbs("kubectl")
	if wildcard {
		t.Error("kubectl should not be wildcard")
	}
	if len(verbs) != 2 {
		t.Errorf("expected 2 verbs, got %d", len(verbs))
	}

	_, wildcard = p.AllowedVerbs("docker")
	if !wildcard {
		t.Error("docker should be wildcard")
	}

	verbs, wildcard = p.AllowedVerbs("nonexistent")
	if wildcard || verbs != nil {
		t.Error("unknown family should be neither wildcard nor have verbs")
	}
}

func TestConfig_LookupHelpers(t *testing.T) {
	cfg := &Config{
		Hosts:           []HostEntry{{Name: "h1", Address: "10.0.0.1"}},
		Clusters:        []ClusterEntry{{Name: "c1", Context: "ctx1"}},
		DockerEndpoints: []DockerEndpointEntry{{Name: "d1", Host: "unix:///var/run/docker.sock"}},
	}

	if h, ok := cfg.HostByName("h1"); !ok || h.Address != "10.0.0.1" {
		t.Errorf("HostByName failed: %+v, %v", h, ok)
	}
	if _, ok := cfg.HostByName("missing"); ok {
		t.Error("expected missing host to not be found")
	}
	if c, ok := cfg.ClusterByName("c1"); !ok || c.Context != "ctx1" {
		t.Errorf("ClusterByName failed: %+v, %v", c, ok)
	}
	if d, ok := cfg.DockerEndpointByName("d1"); !ok || d.Host == "" {
		t.Errorf("DockerEndpointByName failed: %+v, %v", d, ok)
	}
}

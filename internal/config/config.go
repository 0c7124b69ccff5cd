// Package config loads the declarative profile file that drives the
// control-plane: profiles, host/cluster/docker endpoint entries, redaction
// rules and audit settings. Priority is env > file > defaults, the same
// three-tier precedence the rest of this codebase uses for every setting.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	ErrConfigNil        = errors.New("config: nil config")
	ErrNoProfiles        = errors.New("config: no profiles defined")
	ErrUnknownProfile    = errors.New("config: unknown profile")
	ErrEmptyProfileName  = errors.New("config: profile name cannot be empty")
	ErrDuplicateHost     = errors.New("config: duplicate host entry name")
	ErrDuplicateCluster  = errors.New("config: duplicate cluster entry name")
	ErrDuplicateDocker   = errors.New("config: duplicate docker endpoint name")
	ErrInvalidScope      = errors.New("config: invalid tools scope")
)

// HostEntry is the connection material an SSH adapter needs to reach one
// managed host.
type HostEntry struct {
	Name           string `mapstructure:"name" json:"name"`
	Address        string `mapstructure:"address" json:"address"`
	User           string `mapstructure:"user" json:"user"`
	Port           int    `mapstructure:"port" json:"port"`
	KeyPath        string `mapstructure:"key_path" json:"key_path"`
	BastionAddress string `mapstructure:"bastion_address" json:"bastion_address,omitempty"`
	BastionUser    string `mapstructure:"bastion_user" json:"bastion_user,omitempty"`
	BastionKeyPath string `mapstructure:"bastion_key_path" json:"bastion_key_path,omitempty"`
}

// ClusterEntry is the connection material a Kubernetes adapter needs.
type ClusterEntry struct {
	Name           string `mapstructure:"name" json:"name"`
	KubeconfigPath string `mapstructure:"kubeconfig_path" json:"kubeconfig_path"`
	Context        string `mapstructure:"context" json:"context"`
	Namespace      string `mapstructure:"namespace" json:"namespace"`
}

// DockerEndpointEntry is the connection material a Docker adapter needs.
type DockerEndpointEntry struct {
	Name     string `mapstructure:"name" json:"name"`
	Host     string `mapstructure:"host" json:"host"` // "unix:///var/run/docker.sock" or "tcp://..."
	TLSCert  string `mapstructure:"tls_cert" json:"tls_cert,omitempty"`
	TLSKey   string `mapstructure:"tls_key" json:"tls_key,omitempty"`
	TLSCA    string `mapstructure:"tls_ca" json:"tls_ca,omitempty"`
}

// AllowlistEntry maps a pass-through command family to its permitted verbs.
// A single entry of "*" means the whole family is admitted.
type AllowlistEntry struct {
	Family string   `mapstructure:"family" json:"family"`
	Verbs  []string `mapstructure:"verbs" json:"verbs"`
}

// Profile is a named bundle of target-infrastructure defaults and a policy
// view (allowlist, redaction, dangerous-flag admission).
type Profile struct {
	Name             string           `mapstructure:"name" json:"name"`
	DefaultHost      string           `mapstructure:"default_host" json:"default_host,omitempty"`
	DefaultCluster   string           `mapstructure:"default_cluster" json:"default_cluster,omitempty"`
	DefaultNamespace string           `mapstructure:"default_namespace" json:"default_namespace,omitempty"`
	DefaultDocker    string           `mapstructure:"default_docker" json:"default_docker,omitempty"`
	// ComposeFiles is the profile's compose file set, carried through the
	// config so a "compose" allowlist entry has a project to bind against.
	// No compose_up/compose_down tool is registered yet (SPEC_FULL.md
	// Non-goals), so this is inert pass-through state today; the allowlist
	// already accepts "compose" as a family for when one is added.
	ComposeFiles     []string         `mapstructure:"compose_files" json:"compose_files,omitempty"`
	Allowlist        []AllowlistEntry `mapstructure:"allowlist" json:"allowlist"`
	DangerousFlags   []string         `mapstructure:"dangerous_flags" json:"dangerous_flags"`
	DangerousAllowed bool             `mapstructure:"dangerous_allowed" json:"dangerous_allowed"`
	RedactionRules   []string         `mapstructure:"redaction_rules" json:"redaction_rules,omitempty"`
}

// AllowedVerbs returns the verb set for a command family, and whether the
// family is wildcard-admitted.
func (p Profile) AllowedVerbs(family string) (verbs []string, wildcard bool) {
	for _, e := range p.Allowlist {
		if e.Family != family {
			continue
		}
		for _, v := range e.Verbs {
			if v == "*" {
				return nil, true
			}
		}
		return e.Verbs, false
	}
	return nil, false
}

// Config is the top-level configuration document.
type Config struct {
	Profiles       []Profile              `mapstructure:"profiles" json:"profiles"`
	DefaultProfile string                 `mapstructure:"default_profile" json:"default_profile"`
	Hosts          []HostEntry            `mapstructure:"hosts" json:"hosts"`
	Clusters       []ClusterEntry         `mapstructure:"clusters" json:"clusters"`
	DockerEndpoints []DockerEndpointEntry `mapstructure:"docker_endpoints" json:"docker_endpoints"`
	AuditLogPath   string                 `mapstructure:"audit_log_path" json:"audit_log_path"`
	AuditPostgresDSN string               `mapstructure:"audit_postgres_dsn" json:"-"`
	ToolsScope     string                 `mapstructure:"tools_scope" json:"tools_scope"`
	MaxConnsPerEndpoint int               `mapstructure:"max_conns_per_endpoint" json:"max_conns_per_endpoint"`
}

// MarshalJSON-equivalent masking isn't needed here: secrets live in
// key/cert files referenced by path, not embedded in this struct. The
// DSN is tagged json:"-" defensively in case Config is ever logged whole.

// Load reads the profile file from CONFIG_PATH (or the documented
// default), applies env overrides and defaults, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home dir: %w", err)
		}
		path = filepath.Join(home, ".config", "ops-core", "config.yaml")
	}
	v.SetConfigFile(path)

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.AuditLogPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home dir for default audit log path: %w", err)
		}
		cfg.AuditLogPath = filepath.Join(home, ".config", "ops-core", "audit.log")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.AuditLogPath), 0750); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tools_scope", "standard")
	v.SetDefault("max_conns_per_endpoint", 4)
	v.SetDefault("audit_log_path", "")
}

func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, env string) {
		if err := v.BindEnv(key, env); err != nil {
			panic(fmt.Sprintf("config: bad BindEnv(%s, %s): %v", key, env, err))
		}
	}
	mustBind("tools_scope", "TOOLS_SCOPE")
	mustBind("audit_log_path", "AUDIT_LOG_PATH")
	mustBind("audit_postgres_dsn", "AUDIT_POSTGRES_DSN")
}

// Validate fails fast on a structurally broken config: duplicate entry
// names, an empty profile name, or a default profile that doesn't exist.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	seenHosts := make(map[string]bool, len(c.Hosts))
	for _, h := range c.Hosts {
		if seenHosts[h.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateHost, h.Name)
		}
		seenHosts[h.Name] = true
	}

	seenClusters := make(map[string]bool, len(c.Clusters))
	for _, cl := range c.Clusters {
		if seenClusters[cl.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateCluster, cl.Name)
		}
		seenClusters[cl.Name] = true
	}

	seenDocker := make(map[string]bool, len(c.DockerEndpoints))
	for _, d := range c.DockerEndpoints {
		if seenDocker[d.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateDocker, d.Name)
		}
		seenDocker[d.Name] = true
	}

	for _, p := range c.Profiles {
		if strings.TrimSpace(p.Name) == "" {
			return ErrEmptyProfileName
		}
	}
	if c.DefaultProfile != "" && len(c.Profiles) > 0 {
		if _, err := c.ProfileByName(c.DefaultProfile); err != nil {
			return err
		}
	}

	switch strings.ToLower(c.ToolsScope) {
	case "core", "standard", "all", "":
	default:
		// An explicit comma-separated tool list is also legal; only reject
		// the empty-after-split case here, the registry validates names.
		empty := true
		for _, name := range strings.Split(c.ToolsScope, ",") {
			if strings.TrimSpace(name) != "" {
				empty = false
				break
			}
		}
		if empty {
			return ErrInvalidScope
		}
	}

	return nil
}

// ProfileByName returns the named profile, or ErrUnknownProfile.
func (c *Config) ProfileByName(name string) (*Profile, error) {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
}

// ActiveProfile resolves the profile to use at startup: DefaultProfile if
// set and found, the first defined profile otherwise, or a zero-value
// synthetic "default" profile if none are configured.
func (c *Config) ActiveProfile() (*Profile, error) {
	if len(c.Profiles) == 0 {
		return &Profile{Name: "default"}, nil
	}
	if c.DefaultProfile != "" {
		return c.ProfileByName(c.DefaultProfile)
	}
	return &c.Profiles[0], nil
}

func (c *Config) HostByName(name string) (*HostEntry, bool) {
	for i := range c.Hosts {
		if c.Hosts[i].Name == name {
			return &c.Hosts[i], true
		}
	}
	return nil, false
}

func (c *Config) ClusterByName(name string) (*ClusterEntry, bool) {
	for i := range c.Clusters {
		if c.Clusters[i].Name == name {
			return &c.Clusters[i], true
		}
	}
	return nil, false
}

func (c *Config) DockerEndpointByName(name string) (*DockerEndpointEntry, bool) {
	for i := range c.DockerEndpoints {
		if c.DockerEndpoints[i].Name == name {
			return &c.DockerEndpoints[i], true
		}
	}
	return nil, false
}

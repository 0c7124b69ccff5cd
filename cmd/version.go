package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ops-core/server/internal/config"
	"github.com/ops-core/server/internal/server"
)

// ServerVersion is the build-time version string, overridable via
// -ldflags "-X github.com/ops-core/server/cmd.ServerVersion=...".
var ServerVersion = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersion()
	},
}

func init() {
	server.ServerVersion = ServerVersion
}

func runVersion() error {
	fmt.Printf("ops-core %s\n", ServerVersion)

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("config: not loaded (%v)\n", err)
		return nil
	}

	fmt.Println("Configuration:")
	fmt.Printf("  Default profile: %s\n", cfg.DefaultProfile)
	fmt.Printf("  Tools scope: %s\n", cfg.ToolsScope)
	fmt.Printf("  Hosts: %d\n", len(cfg.Hosts))
	fmt.Printf("  Clusters: %d\n", len(cfg.Clusters))
	fmt.Printf("  Docker endpoints: %d\n", len(cfg.DockerEndpoints))
	fmt.Printf("  Audit log: %s\n", cfg.AuditLogPath)

	return nil
}

// Package cmd implements the ops-core CLI: a thin cobra wrapper that loads
// configuration, wires adapters and the tool catalog, and starts one of
// the two transports.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ops-core",
	Short: "ops-core is an MCP-style control-plane server for SSH, Docker and Kubernetes operations",
	Long: `ops-core exposes a fixed catalog of operational tools — SSH command
execution, log tailing, Docker container control, Kubernetes pod and
deployment operations — over JSON-RPC, gated by per-profile scope and
allowlist policy and recorded to an append-only audit log.

Run "ops-core serve" to start it.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

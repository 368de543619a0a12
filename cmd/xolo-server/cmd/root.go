// Package cmd implements xolo-server's cobra command tree.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "xolo-server",
	Short: "Xolo orchestrates third-party software titles across Catalog and Fleet",
	Long: `xolo-server is the admin API that owns Title/Version lifecycle state
and drives it through the Patch Catalog and Fleet Management services:
creating, updating, releasing, freezing, and deleting software titles and
their versions, with per-entity locking, an append-only changelog, and a
nightly cleanup cycle.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: none; built-in defaults and XOLO_* environment variables apply)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("xolo-server version %s\n", version)
		fmt.Printf("build time: %s\n", buildTime)
		fmt.Printf("git commit: %s\n", gitCommit)
	},
}

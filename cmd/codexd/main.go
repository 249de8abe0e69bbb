// Command codexd is the codex sync server and operator CLI: it serves
// the TCP and WebSocket peer protocol, exposes Prometheus metrics, and
// offers snapshot/query/audit maintenance subcommands against the same
// persistence store the running server uses.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "codexd",
		Short: "codexd - collaborative CRDT document sync server",
		Long: `codexd serves Codex, a CRDT-based collaborative document engine:
four independently-converging layers (metadata, references, text,
tree) per document, replicated over a small peer protocol and
queryable with CodexQL.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("codexd v%s (%s)\n", version, commit)
		},
	})
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSnapshotCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newAuditCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codexsync/codex/internal/types"
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <codex-id> <statement>",
		Short: "Run a CodexQL statement against a codex's current state",
		Args:  cobra.ExactArgs(2),
		RunE:  runQuery,
	}
	cmd.Flags().String("config", "", "path to a YAML config file (optional)")
	cmd.Flags().String("data-dir", "", "persistence data directory (overrides config/env)")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	id, err := types.ParseCodexId(args[0])
	if err != nil {
		return fmt.Errorf("parsing codex id %q: %w", args[0], err)
	}
	statement := args[1]

	engine, closeFn, err := openMaintenanceEngine(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := engine.Query(id, statement)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	fmt.Printf("%v\n", result)
	return nil
}

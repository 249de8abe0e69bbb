package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the hook dispatcher's audit log",
	}
	cmd.PersistentFlags().String("config", "", "path to a YAML config file (optional)")
	cmd.PersistentFlags().String("data-dir", "", "persistence data directory (overrides config/env)")

	tail := &cobra.Command{
		Use:   "tail [n]",
		Short: "Print the most recent n audited operations (default 20)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runAuditTail,
	}
	cmd.AddCommand(tail)
	return cmd
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	n := 20
	if len(args) == 1 {
		if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
			return fmt.Errorf("parsing count %q: %w", args[0], err)
		}
	}

	engine, closeFn, err := openMaintenanceEngine(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	entries := engine.Hooks().AuditTail(n)
	if len(entries) == 0 {
		fmt.Println("audit log is empty")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-8s  codex=%s  author=%s  op=%s\n",
			e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Layer, e.Codex, e.Author, e.OperationID)
	}
	return nil
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codexsync/codex/internal/config"
	"github.com/codexsync/codex/internal/types"
	"github.com/codexsync/codex/pkg/codex"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect and maintain persisted snapshots",
	}
	cmd.PersistentFlags().String("config", "", "path to a YAML config file (optional)")
	cmd.PersistentFlags().String("data-dir", "", "persistence data directory (overrides config/env)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List every persisted codex id",
		RunE:  runSnapshotList,
	}
	gc := &cobra.Command{
		Use:   "gc",
		Short: "Sweep stable tombstones from every open codex",
		RunE:  runSnapshotGC,
	}
	cmd.AddCommand(list, gc)
	return cmd
}

func openMaintenanceEngine(cmd *cobra.Command) (*codex.Engine, func(), error) {
	configPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if dataDir != "" {
		cfg.Persistence.DataDir = dataDir
	}

	opts := codex.DefaultOptions(types.UserId("codexd-cli"))
	opts.Config = cfg
	engine, err := codex.New(context.Background(), opts)
	if err != nil {
		return nil, nil, fmt.Errorf("opening engine: %w", err)
	}
	return engine, func() { engine.Close() }, nil
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	engine, closeFn, err := openMaintenanceEngine(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	ids, err := engine.List()
	if err != nil {
		return fmt.Errorf("listing snapshots: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("no persisted codices")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runSnapshotGC(cmd *cobra.Command, args []string) error {
	engine, closeFn, err := openMaintenanceEngine(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	stats := engine.GC()
	fmt.Printf("operations dropped:    %d\n", stats.OperationsDropped)
	fmt.Printf("bytes freed:           %d\n", stats.BytesFreed)
	fmt.Printf("metadata tombstones:   %d\n", stats.MetadataTombstones)
	fmt.Printf("reference tombstones:  %d\n", stats.ReferenceTombstones)
	fmt.Printf("text tombstones:       %d\n", stats.TextTombstones)
	return nil
}

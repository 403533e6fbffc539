package cmd

import (
	"fmt"
	"time"

	"github.com/pders01/snapsync/internal/config"
	"github.com/spf13/cobra"
)

var (
	sweepDryRun bool
	sweepForce  bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Discard captures that never matched a record",
	Long: `Discard pending captures older than the orphan age.

A capture stays pending when its upload succeeded but no record could be
bound to it. The orphan age is configured in ~/.config/snapsync/config.toml:
  [images]
  orphan_age = "24h"

Example:
  snapsync sweep              # Show what would be discarded
  snapsync sweep --force      # Actually discard captures`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", true, "Show what would be discarded without deleting")
	sweepCmd.Flags().BoolVar(&sweepForce, "force", false, "Actually discard captures (overrides dry-run)")
}

func runSweep(cmd *cobra.Command, args []string) error {
	maxAge := config.GetOrphanAge()

	e, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer e.Close()

	pending, err := e.Images().Pending()
	if err != nil {
		return fmt.Errorf("failed to list pending captures: %w", err)
	}
	orphans, err := e.Images().Orphans(maxAge)
	if err != nil {
		return fmt.Errorf("failed to find orphaned captures: %w", err)
	}

	fmt.Printf("Orphan age: %s\n", maxAge)
	fmt.Printf("Pending captures: %d\n\n", len(pending))

	if len(orphans) == 0 {
		fmt.Println("No orphaned captures")
		return nil
	}

	fmt.Printf("Orphaned (%d):\n", len(orphans))
	for _, c := range orphans {
		stored := time.UnixMilli(c.StoredAt)
		fmt.Printf("  %d  %6d bytes  stored %s (%s ago)\n",
			c.CaptureTimestamp, c.Size, stored.Format("2006-01-02 15:04"), time.Since(stored).Round(time.Minute))
	}
	fmt.Println()

	if sweepDryRun && !sweepForce {
		fmt.Println("Dry run - no captures discarded")
		fmt.Println("Use --force to actually discard these captures")
		return nil
	}

	swept, err := e.SweepOrphans()
	if err != nil {
		return fmt.Errorf("failed to sweep captures: %w", err)
	}
	fmt.Printf("✓ Discarded %d capture(s)\n", len(swept))
	return nil
}

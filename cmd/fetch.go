package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	fetchJSON bool
	fetchToon bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <dd-mm-yyyy>",
	Short: "Show the statistics of one day",
	Long: `Show the aggregated statistics of one day. A cached snapshot younger
than the cache TTL is used without contacting the server.

Examples:
  snapsync fetch 14-03-2024
  snapsync fetch 14-03-2024 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "Output as JSON")
	fetchCmd.Flags().BoolVar(&fetchToon, "toon", false, "Output in LLM-friendly toon format")
}

func runFetch(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one date")
	}

	e, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer e.Close()

	snap, err := e.FetchForDate(context.Background(), args[0])
	if err != nil {
		return userError(err)
	}

	if done, err := printStructured(snap, fetchJSON, fetchToon); done {
		return err
	}
	printSnapshot(snap)
	return nil
}

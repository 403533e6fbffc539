package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pders01/snapsync/internal/config"
	"github.com/pders01/snapsync/internal/engine"
	"github.com/spf13/cobra"
)

var (
	historyDays        int
	historyConcurrency int
	historyJSON        bool
	historyToon        bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show calorie history for the last days",
	Long: `Fetch the statistics of the last N days, reusing cached snapshots where
they are still valid, and show daily consumption.

Examples:
  snapsync history
  snapsync history --days 14
  snapsync history --toon`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyDays, "days", 0, "Number of days including today (default from config)")
	historyCmd.Flags().IntVar(&historyConcurrency, "concurrency", 0, "Parallel requests (default from config)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")
	historyCmd.Flags().BoolVar(&historyToon, "toon", false, "Output in LLM-friendly toon format")
}

type historyDay struct {
	Date      string `json:"date"`
	Consumed  int    `json:"consumed"`
	Remaining int    `json:"remaining"`
	Records   int    `json:"records"`
	Error     string `json:"error,omitempty"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	days := historyDays
	if days <= 0 {
		days = config.GetHistoryDays()
	}
	concurrency := historyConcurrency
	if concurrency <= 0 {
		concurrency = config.GetHistoryConcurrency()
	}

	e, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer e.Close()

	results := e.FetchHistory(context.Background(), days, concurrency)
	history := summarizeHistory(results)

	if done, err := printStructured(history, historyJSON, historyToon); done {
		return err
	}

	fmt.Println("Calorie History")
	fmt.Println("━━━━━━━━━━━━━━━")
	fmt.Println()

	peak := 0
	for _, d := range history {
		if d.Consumed > peak {
			peak = d.Consumed
		}
	}

	failed := 0
	for _, d := range history {
		if d.Error != "" {
			failed++
			fmt.Printf("  %s  %5s  %s\n", d.Date, "-", d.Error)
			continue
		}
		width := 0
		if peak > 0 {
			width = d.Consumed * 30 / peak
		}
		fmt.Printf("  %s  %5d  %s\n", d.Date, d.Consumed, strings.Repeat("█", width))
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "\nWarning: %d day(s) could not be fetched\n", failed)
	}
	return nil
}

func summarizeHistory(results []engine.DayResult) []historyDay {
	out := make([]historyDay, 0, len(results))
	for _, r := range results {
		d := historyDay{Date: r.DateKey}
		if r.Err != nil {
			d.Error = userError(r.Err).Error()
		} else {
			d.Consumed = r.Snapshot.CaloriesConsumed
			d.Remaining = r.Snapshot.RemainingCalories
			d.Records = r.Snapshot.RecordCount
		}
		out = append(out, d)
	}
	return out
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var recommendDays int

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Ask for a nutrition recommendation",
	Long: `Ask the server for a recommendation based on the last days of records.

Examples:
  snapsync recommend
  snapsync recommend --days 14`,
	RunE: runRecommend,
}

func init() {
	rootCmd.AddCommand(recommendCmd)

	recommendCmd.Flags().IntVar(&recommendDays, "days", 7, "Number of days to base the recommendation on")
}

func runRecommend(cmd *cobra.Command, args []string) error {
	if recommendDays < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	e, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer e.Close()

	text, err := e.RequestRecommendation(context.Background(), recommendDays)
	if err != nil {
		return userError(err)
	}

	fmt.Println(text)
	return nil
}

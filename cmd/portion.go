package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var portionCmd = &cobra.Command{
	Use:   "portion <record-id> <grams>",
	Short: "Correct the weight of a food record",
	Long: `Change how many grams a record weighs. The server recalculates its
calories.

Example:
  snapsync portion 1710489600000 180`,
	Args: cobra.ExactArgs(2),
	RunE: runPortion,
}

func init() {
	rootCmd.AddCommand(portionCmd)
}

func runPortion(cmd *cobra.Command, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected a record id and a weight in grams")
	}
	id, err := parseRecordID(args[0])
	if err != nil {
		return err
	}
	grams, err := strconv.Atoi(args[1])
	if err != nil || grams <= 0 {
		return fmt.Errorf("invalid portion %q (want grams > 0)", args[1])
	}

	e, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer e.Close()

	day, err := e.ModifyPortion(context.Background(), id, grams)
	if err != nil {
		return userError(err)
	}

	fmt.Printf("✓ Record %d set to %d g\n", id, grams)
	fmt.Printf("  %d kcal remaining today\n", day.RemainingCalories)
	return nil
}

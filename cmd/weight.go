package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var weightCmd = &cobra.Command{
	Use:   "weight <kg>",
	Short: "Record a body weight reading",
	Long: `Submit a body weight reading without a scale photo.

Example:
  snapsync weight 72.4`,
	Args: cobra.ExactArgs(1),
	RunE: runWeight,
}

func init() {
	rootCmd.AddCommand(weightCmd)
}

func runWeight(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one weight")
	}
	kg, err := strconv.ParseFloat(args[0], 64)
	if err != nil || kg <= 0 {
		return fmt.Errorf("invalid weight %q (want kilograms > 0)", args[0])
	}

	e, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer e.Close()

	day, err := e.SubmitWeight(context.Background(), kg)
	if err != nil {
		return userError(err)
	}

	fmt.Printf("✓ Recorded %.1f kg\n", kg)
	if day.RemainingCalories != 0 {
		fmt.Printf("  %d kcal remaining today\n", day.RemainingCalories)
	}
	return nil
}

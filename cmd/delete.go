package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <record-id>",
	Short: "Delete a food record",
	Long: `Delete a record on the server and drop its locally stored photo.

Example:
  snapsync delete 1710489600000`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one record id")
	}
	id, err := parseRecordID(args[0])
	if err != nil {
		return err
	}

	e, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer e.Close()

	day, err := e.DeleteRecord(context.Background(), id)
	if err != nil {
		return userError(err)
	}

	fmt.Printf("✓ Deleted record %d\n", id)
	fmt.Printf("  %d record(s) left today, %d kcal remaining\n", len(day.Records), day.RemainingCalories)
	return nil
}

func parseRecordID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", s)
	}
	return id, nil
}

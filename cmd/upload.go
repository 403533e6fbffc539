package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pders01/snapsync/internal/models"
	"github.com/spf13/cobra"
)

var (
	uploadScale     bool
	uploadTimestamp int64
)

var uploadCmd = &cobra.Command{
	Use:   "upload <image>",
	Short: "Upload a meal or scale photo",
	Long: `Upload a captured photo. A meal photo is kept locally as a pending
capture, uploaded, and bound to the record the server creates for it.

A scale photo (--scale) records a body weight reading instead.

Examples:
  snapsync upload lunch.jpg
  snapsync upload scale.jpg --scale`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().BoolVar(&uploadScale, "scale", false, "The photo shows a scale reading")
	uploadCmd.Flags().Int64Var(&uploadTimestamp, "timestamp", 0, "Capture time in Unix milliseconds (default now)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one image path")
	}

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	kind := models.KindFood
	if uploadScale {
		kind = models.KindScale
	}
	captured := uploadTimestamp
	if captured == 0 {
		captured = time.Now().UnixMilli()
	}

	e, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.UploadCapture(context.Background(), image, captured, kind)
	if err != nil {
		return userError(err)
	}

	switch {
	case kind == models.KindScale:
		fmt.Println("✓ Scale reading uploaded")
		if res.Day.BodyWeightKg > 0 {
			fmt.Printf("  Weight: %.1f kg\n", res.Day.BodyWeightKg)
		}
	case res.Reconciled:
		fmt.Printf("✓ Uploaded and linked to record %d\n", res.RecordID)
	default:
		fmt.Println("✓ Uploaded")
		fmt.Println("  The photo stays pending until its record shows up; run 'snapsync today' later")
	}
	fmt.Printf("  Remaining today: %d kcal\n", res.Day.RemainingCalories)
	return nil
}

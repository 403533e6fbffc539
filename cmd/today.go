package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/pders01/snapsync/internal/gateway"
	"github.com/pders01/snapsync/internal/models"
	"github.com/spf13/cobra"
)

var (
	todayJSON   bool
	todayToon   bool
	todayCached bool
)

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's food records",
	Long: `Fetch today's records from the server, bind any pending captures to
them and refresh today's cached statistics.

When the server cannot be reached, the cached statistics for today are
shown instead.

Examples:
  snapsync today
  snapsync today --cached
  snapsync today --json`,
	RunE: runToday,
}

func init() {
	rootCmd.AddCommand(todayCmd)

	todayCmd.Flags().BoolVar(&todayJSON, "json", false, "Output as JSON")
	todayCmd.Flags().BoolVar(&todayToon, "toon", false, "Output in LLM-friendly toon format")
	todayCmd.Flags().BoolVar(&todayCached, "cached", false, "Only show cached statistics, never contact the server")
}

func runToday(cmd *cobra.Command, args []string) error {
	e, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer e.Close()

	if todayCached {
		return showCachedToday(e.Cache().Get, e.TodayKey())
	}

	day, err := e.FetchToday(context.Background())
	if err != nil {
		if kind, ok := gateway.KindOf(err); ok && kind == gateway.KindNetworkExhausted {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", kind.UserMessage())
			return showCachedToday(e.Cache().Get, e.TodayKey())
		}
		return userError(err)
	}

	if done, err := printStructured(day, todayJSON, todayToon); done {
		return err
	}

	printDay(day, func(id int64) bool { return e.Images().HasImage(id) })
	return nil
}

func showCachedToday(get func(string) (models.DailySnapshot, bool), key string) error {
	snap, ok := get(key)
	if !ok {
		fmt.Println("No cached statistics for today")
		return nil
	}

	if done, err := printStructured(snap, todayJSON, todayToon); done {
		return err
	}
	printSnapshot(snap)
	return nil
}

func printDay(day models.DayRecords, hasImage func(int64) bool) {
	if len(day.Records) == 0 {
		fmt.Println("No records today")
	} else {
		records := append([]models.FoodRecord(nil), day.Records...)
		sort.Slice(records, func(i, j int) bool {
			return records[i].ServerTimestamp < records[j].ServerTimestamp
		})

		fmt.Printf("Found %d record(s):\n\n", len(records))
		for _, r := range records {
			photo := ""
			if hasImage(r.ID()) {
				photo = " [photo]"
			}
			fmt.Printf("  %d%s\n", r.ID(), photo)
			fmt.Printf("    Food:     %s\n", r.Name)
			fmt.Printf("    Time:     %s\n", time.UnixMilli(r.ServerTimestamp).Format("15:04"))
			fmt.Printf("    Calories: %d kcal\n", r.Calories)
			fmt.Printf("    Weight:   %d g\n", r.WeightGrams)
			if len(r.Ingredients) > 0 {
				fmt.Printf("    Contains: %v\n", r.Ingredients)
			}
			fmt.Println()
		}
	}

	fmt.Printf("Remaining: %d kcal\n", day.RemainingCalories)
	if day.BodyWeightKg > 0 {
		fmt.Printf("Weight:    %.1f kg\n", day.BodyWeightKg)
	}
}

func printSnapshot(s models.DailySnapshot) {
	fmt.Printf("%s\n", s.DateKey)
	fmt.Printf("  Records:   %d\n", s.RecordCount)
	fmt.Printf("  Consumed:  %d kcal\n", s.CaloriesConsumed)
	fmt.Printf("  Remaining: %d kcal\n", s.RemainingCalories)
	fmt.Printf("  Food:      %d g\n", s.FoodGrams)
	if s.BodyWeightKg > 0 {
		fmt.Printf("  Weight:    %.1f kg\n", s.BodyWeightKg)
	}
	fmt.Printf("  Cached:    %s\n", s.CachedAt.Local().Format("2006-01-02 15:04"))
}

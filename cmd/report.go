package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report <template>",
	Short: "Generate pre-defined reports",
	Long: `Generate formatted reports using pre-defined templates.

Available templates:
  daily   - Today's records plus the reminder settings
  weekly  - The last seven days of calories and a recommendation

Examples:
  snapsync report daily
  snapsync report weekly`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"daily", "weekly"},
	RunE:      runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one template")
	}

	switch args[0] {
	case "daily":
		return generateDailyReport()
	case "weekly":
		return generateWeeklyReport()
	default:
		return fmt.Errorf("unknown report template: %s (available: daily, weekly)", args[0])
	}
}

func generateDailyReport() error {
	fmt.Println("Daily Nutrition Report")
	fmt.Println("══════════════════════")
	fmt.Println()

	// Temporarily set today flags
	oldJSON, oldToon, oldCached := todayJSON, todayToon, todayCached
	todayJSON, todayToon, todayCached = false, false, false
	err := runToday(&cobra.Command{}, []string{})
	todayJSON, todayToon, todayCached = oldJSON, oldToon, oldCached
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Reminders")
	fmt.Println("─────────")
	return runNotify(&cobra.Command{}, []string{})
}

func generateWeeklyReport() error {
	fmt.Println("Weekly Nutrition Report")
	fmt.Println("═══════════════════════")
	fmt.Println()

	// Temporarily set history flags
	oldDays, oldJSON, oldToon := historyDays, historyJSON, historyToon
	historyDays, historyJSON, historyToon = 7, false, false
	err := runHistory(&cobra.Command{}, []string{})
	historyDays, historyJSON, historyToon = oldDays, oldJSON, oldToon
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Recommendation")
	fmt.Println("──────────────")

	oldRecommend := recommendDays
	recommendDays = 7
	err = runRecommend(&cobra.Command{}, []string{})
	recommendDays = oldRecommend
	return err
}

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:   "notify [on|off]",
	Short: "Turn meal reminders on or off",
	Long: `Show or change whether meal reminders are sent.

Reminders are only delivered while 'snapsync run' is active. Without an
argument the current setting and the configured windows are shown.

Examples:
  snapsync notify
  snapsync notify off`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runNotify,
}

func init() {
	rootCmd.AddCommand(notifyCmd)
}

func runNotify(cmd *cobra.Command, args []string) error {
	e, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer e.Close()

	if len(args) == 1 {
		var enabled bool
		switch args[0] {
		case "on":
			enabled = true
		case "off":
			enabled = false
		default:
			return fmt.Errorf("invalid argument %q (want on or off)", args[0])
		}
		if err := e.Planner().SetNotificationsEnabled(enabled); err != nil {
			return err
		}
		fmt.Printf("✓ Reminders %s\n", args[0])
		return nil
	}

	enabled, err := e.State().NotificationsEnabled()
	if err != nil {
		return err
	}
	st, err := e.State().Load()
	if err != nil {
		return err
	}

	status := "off"
	if enabled {
		status = "on"
	}
	fmt.Printf("Reminders: %s\n\n", status)
	for _, w := range e.Planner().Windows() {
		cutoff := w.CutoffOffset.Round(time.Minute)
		fmt.Printf("  %-10s %02d:%02d  (skipped once something is snapped after %02d:%02d)\n",
			w.Meal, w.Hour, w.Minute, int(cutoff.Hours()), int(cutoff.Minutes())%60)
	}
	if st.LastRefreshDateKey != "" {
		fmt.Printf("\nLast day refresh: %s\n", st.LastRefreshDateKey)
	}
	return nil
}

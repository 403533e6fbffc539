package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	cacheClear bool
	cacheEvict bool
	cacheJSON  bool
	cacheToon  bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the statistics cache",
	Long: `List the cached daily statistics and whether each entry is still valid.

Examples:
  snapsync cache
  snapsync cache --evict     # Drop expired entries
  snapsync cache --clear     # Remove every entry and the cache file`,
	RunE: runCache,
}

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheCmd.Flags().BoolVar(&cacheClear, "clear", false, "Remove every entry and delete the cache file")
	cacheCmd.Flags().BoolVar(&cacheEvict, "evict", false, "Remove expired entries")
	cacheCmd.Flags().BoolVar(&cacheJSON, "json", false, "Output as JSON")
	cacheCmd.Flags().BoolVar(&cacheToon, "toon", false, "Output in LLM-friendly toon format")
}

type cacheEntry struct {
	Date      string    `json:"date"`
	Consumed  int       `json:"consumed"`
	Remaining int       `json:"remaining"`
	CachedAt  time.Time `json:"cached_at"`
	Valid     bool      `json:"valid"`
}

type cacheReport struct {
	Path    string       `json:"path"`
	TTL     string       `json:"ttl"`
	Entries []cacheEntry `json:"entries"`
}

func runCache(cmd *cobra.Command, args []string) error {
	e, err := openEngine(nil)
	if err != nil {
		return err
	}
	defer e.Close()

	cache := e.Cache()

	if cacheClear {
		n := cache.Len()
		if err := cache.Clear(); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		fmt.Printf("✓ Cleared %d cached day(s)\n", n)
		return nil
	}

	if cacheEvict {
		n := cache.EvictExpired()
		fmt.Printf("✓ Evicted %d expired day(s)\n", n)
	}

	now := time.Now()
	report := cacheReport{Path: cache.Path(), TTL: cache.TTL().String()}
	for _, s := range cache.Snapshots() {
		report.Entries = append(report.Entries, cacheEntry{
			Date:      s.DateKey,
			Consumed:  s.CaloriesConsumed,
			Remaining: s.RemainingCalories,
			CachedAt:  s.CachedAt,
			Valid:     s.ValidAt(now, cache.TTL()),
		})
	}

	if done, err := printStructured(report, cacheJSON, cacheToon); done {
		return err
	}

	fmt.Printf("Cache: %s (TTL %s)\n", report.Path, report.TTL)
	if len(report.Entries) == 0 {
		fmt.Println("No cached days")
		return nil
	}
	fmt.Println()
	for _, entry := range report.Entries {
		status := "valid"
		if !entry.Valid {
			status = "expired"
		}
		fmt.Printf("  %s  %5d kcal  cached %s  %s\n",
			entry.Date, entry.Consumed, entry.CachedAt.Local().Format("2006-01-02 15:04"), status)
	}
	return nil
}

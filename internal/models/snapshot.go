package models

import (
	"fmt"
	"time"
)

const (
	// DateKeyLayout formats statistics keys as dd-mm-yyyy
	DateKeyLayout = "02-01-2006"
	// DayStampLayout formats day-boundary keys as yyyy-mm-dd
	DayStampLayout = "2006-01-02"
)

// DailySnapshot is the aggregated nutrition view of one calendar day.
// Snapshots are replaced whole, never mutated in place.
type DailySnapshot struct {
	DateKey           string    `json:"date_key"`
	CaloriesConsumed  int       `json:"calories_consumed"`
	RemainingCalories int       `json:"remaining_calories"`
	FoodGrams         int       `json:"food_grams"`
	BodyWeightKg      float64   `json:"body_weight,omitempty"`
	RecordCount       int       `json:"record_count"`
	CachedAt          time.Time `json:"cached_at"`
}

// ValidAt reports whether the snapshot is still fresh at now
func (s DailySnapshot) ValidAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CachedAt) < ttl
}

// Summarize aggregates a day's records into a snapshot stamped with cachedAt
func Summarize(dateKey string, day DayRecords, cachedAt time.Time) DailySnapshot {
	snap := DailySnapshot{
		DateKey:           dateKey,
		RemainingCalories: day.RemainingCalories,
		BodyWeightKg:      day.BodyWeightKg,
		RecordCount:       len(day.Records),
		CachedAt:          cachedAt,
	}
	for _, r := range day.Records {
		snap.CaloriesConsumed += r.Calories
		snap.FoodGrams += r.WeightGrams
	}
	return snap
}

// DateKey returns the statistics key for the day containing t.
// Format: dd-mm-yyyy
func DateKey(t time.Time) string {
	return t.Format(DateKeyLayout)
}

// ParseDateKey parses a dd-mm-yyyy key in the given location
func ParseDateKey(key string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateKeyLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %q (want dd-mm-yyyy): %w", key, err)
	}
	return t, nil
}

// DayStamp returns the day-boundary key for the day containing t.
// Format: yyyy-mm-dd
func DayStamp(t time.Time) string {
	return t.Format(DayStampLayout)
}

package models

import (
	"fmt"
	"time"
)

// ScheduleState is the persisted bookkeeping shared by the day-boundary
// scheduler and the reminder planner. Timestamps are Unix milliseconds.
type ScheduleState struct {
	LastRefreshDateKey      string `json:"last_refresh_date_key"`
	LastSnapTimestamp       int64  `json:"last_snap_timestamp"`
	FirstSnapTodayTimestamp int64  `json:"first_snap_today_timestamp"`
}

// MealType identifies one of the daily reminder checkpoints
type MealType string

const (
	Breakfast MealType = "breakfast"
	Lunch     MealType = "lunch"
	Dinner    MealType = "dinner"
)

// Meals lists the meal types in the order they occur during a day
var Meals = []MealType{Breakfast, Lunch, Dinner}

// ReminderWindow is a static reminder checkpoint. CutoffOffset is measured
// from the start of the day: a reminder fires only when the reference snap
// happened before dayStart+CutoffOffset.
type ReminderWindow struct {
	Meal         MealType
	Hour         int
	Minute       int
	CutoffOffset time.Duration
}

// DefaultCutoffOffset treats snaps taken in the small hours as belonging to the previous evening
const DefaultCutoffOffset = 4 * time.Hour

// DefaultReminderWindows returns the breakfast, lunch and dinner checkpoints
func DefaultReminderWindows() []ReminderWindow {
	return []ReminderWindow{
		{Meal: Breakfast, Hour: 12, Minute: 0, CutoffOffset: DefaultCutoffOffset},
		{Meal: Lunch, Hour: 17, Minute: 0, CutoffOffset: DefaultCutoffOffset},
		{Meal: Dinner, Hour: 21, Minute: 0, CutoffOffset: DefaultCutoffOffset},
	}
}

// ParseClock parses an "HH:MM" wall-clock time
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q (want HH:MM): %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

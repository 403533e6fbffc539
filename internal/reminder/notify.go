package reminder

import (
	"context"
	"log/slog"

	"github.com/pders01/snapsync/internal/logging"
	"github.com/pders01/snapsync/internal/models"
)

// Notifier delivers a reminder to the user
type Notifier interface {
	Notify(ctx context.Context, window models.ReminderWindow) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, window models.ReminderWindow) error

func (f NotifierFunc) Notify(ctx context.Context, window models.ReminderWindow) error {
	return f(ctx, window)
}

// LogNotifier writes reminders to a logger
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, window models.ReminderWindow) error {
	logging.OrDefault(n.Logger).Info("meal reminder", "meal", string(window.Meal), "message", Message(window.Meal))
	return nil
}

// Message returns the text shown for a meal reminder
func Message(meal models.MealType) string {
	switch meal {
	case models.Breakfast:
		return "Don't forget to snap your breakfast"
	case models.Lunch:
		return "Don't forget to snap your lunch"
	case models.Dinner:
		return "Don't forget to snap your dinner"
	default:
		return "Don't forget to snap your meal"
	}
}

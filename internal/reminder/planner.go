// Package reminder schedules the daily meal reminders and decides at fire
// time whether the user still needs one.
//
// Tasks carry no state of their own. Each one re-reads the persisted
// schedule state when it fires, so a snap recorded after a task was armed
// is always seen.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pders01/snapsync/internal/dayboundary"
	"github.com/pders01/snapsync/internal/logging"
	"github.com/pders01/snapsync/internal/metrics"
	"github.com/pders01/snapsync/internal/models"
)

// StateStore is the persisted schedule state the planner reads and writes
type StateStore interface {
	Load() (models.ScheduleState, error)
	RecordSnap(ts int64, dayStart time.Time) (models.ScheduleState, error)
	ResetFirstSnap() error
	NotificationsEnabled() (bool, error)
	SetNotificationsEnabled(enabled bool) error
}

// TaskName is the host task name of a meal's reminder
func TaskName(meal models.MealType) string {
	return "reminder:" + string(meal)
}

// ShouldNotify reports whether a reminder with the given cutoff fires. The
// reference snap is the first snap of today when there is one, otherwise
// the last snap ever; the reminder fires when it predates todayStart+cutoff.
func ShouldNotify(st models.ScheduleState, todayStart time.Time, cutoff time.Duration) bool {
	start := todayStart.UnixMilli()
	ref := st.LastSnapTimestamp
	if st.FirstSnapTodayTimestamp >= start {
		ref = st.FirstSnapTodayTimestamp
	}
	return ref < todayStart.Add(cutoff).UnixMilli()
}

// Planner keeps one task per reminder window armed on a TaskHost
type Planner struct {
	store    StateStore
	host     TaskHost
	notifier Notifier
	windows  []models.ReminderWindow
	calendar dayboundary.Calendar
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option customises a Planner
type Option func(*Planner)

// WithWindows overrides the default breakfast, lunch and dinner windows
func WithWindows(w []models.ReminderWindow) Option {
	return func(p *Planner) { p.windows = w }
}

// WithCalendar sets the calendar reminder times are local to
func WithCalendar(c dayboundary.Calendar) Option {
	return func(p *Planner) { p.calendar = c }
}

// WithClock replaces the clock
func WithClock(c clockwork.Clock) Option {
	return func(p *Planner) { p.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Planner) { p.metrics = m }
}

// New creates a planner. Nothing is scheduled until Arm.
func New(store StateStore, host TaskHost, notifier Notifier, opts ...Option) *Planner {
	p := &Planner{
		store:    store,
		host:     host,
		notifier: notifier,
		windows:  models.DefaultReminderWindows(),
		calendar: dayboundary.UTC(),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrDefault(p.logger)
	return p
}

// Windows returns the configured reminder windows
func (p *Planner) Windows() []models.ReminderWindow {
	return p.windows
}

// Arm schedules every window at its next occurrence, unless notifications
// are disabled.
func (p *Planner) Arm() error {
	enabled, err := p.store.NotificationsEnabled()
	if err != nil {
		return fmt.Errorf("read notifications setting: %w", err)
	}
	if !enabled {
		p.cancelAll()
		return nil
	}

	now := p.clock.Now()
	for _, w := range p.windows {
		p.schedule(w, p.nextOccurrence(w, now))
	}
	return nil
}

// UpdateLastSnapTime records a snap taken at ts (Unix milliseconds) and
// skips the next upcoming reminder when it is due later the same local day.
func (p *Planner) UpdateLastSnapTime(ts int64) error {
	now := p.clock.Now()
	if _, err := p.store.RecordSnap(ts, p.calendar.StartOfDay(now)); err != nil {
		return err
	}

	enabled, err := p.store.NotificationsEnabled()
	if err != nil {
		return fmt.Errorf("read notifications setting: %w", err)
	}
	if !enabled || len(p.windows) == 0 {
		return nil
	}

	next, at := p.upcoming(now)
	if p.calendar.Key(at) != p.calendar.Key(now) {
		return nil
	}
	skipTo := p.calendar.At(at.AddDate(0, 0, 1), next.Hour, next.Minute)
	p.logger.Debug("snap recorded, skipping next reminder", "meal", string(next.Meal), "until", skipTo)
	p.schedule(next, skipTo)
	return nil
}

// SetNotificationsEnabled persists the setting. Disabling cancels every
// reminder; enabling re-arms them.
func (p *Planner) SetNotificationsEnabled(enabled bool) error {
	if err := p.store.SetNotificationsEnabled(enabled); err != nil {
		return fmt.Errorf("save notifications setting: %w", err)
	}
	if !enabled {
		p.cancelAll()
		return nil
	}
	return p.Arm()
}

// OnNewDay resets the first snap of the day and re-arms every window. It is
// a dayboundary.Subscriber.
func (p *Planner) OnNewDay(_ context.Context, day dayboundary.Day) error {
	if err := p.store.ResetFirstSnap(); err != nil {
		return fmt.Errorf("reset first snap: %w", err)
	}
	p.logger.Debug("re-arming reminders", "day", day.Key)
	return p.Arm()
}

// Evaluate decides whether the reminder for w fires right now and, if so,
// delivers it.
func (p *Planner) Evaluate(ctx context.Context, w models.ReminderWindow) (bool, error) {
	enabled, err := p.store.NotificationsEnabled()
	if err != nil {
		return false, fmt.Errorf("read notifications setting: %w", err)
	}
	if !enabled {
		p.metrics.Reminder(string(w.Meal), "disabled")
		return false, nil
	}

	st, err := p.store.Load()
	if err != nil {
		return false, fmt.Errorf("load schedule state: %w", err)
	}

	todayStart := p.calendar.StartOfDay(p.clock.Now())
	if !ShouldNotify(st, todayStart, w.CutoffOffset) {
		p.metrics.Reminder(string(w.Meal), "suppressed")
		return false, nil
	}

	if err := p.notifier.Notify(ctx, w); err != nil {
		p.metrics.Reminder(string(w.Meal), "error")
		return false, fmt.Errorf("deliver %s reminder: %w", w.Meal, err)
	}
	p.metrics.Reminder(string(w.Meal), "sent")
	return true, nil
}

// Pending lists the armed reminder tasks
func (p *Planner) Pending() []Task {
	return p.host.Pending()
}

func (p *Planner) schedule(w models.ReminderWindow, at time.Time) {
	p.host.Schedule(TaskName(w.Meal), at, func() { p.fire(w) })
}

func (p *Planner) fire(w models.ReminderWindow) {
	sent, err := p.Evaluate(context.Background(), w)
	if err != nil {
		p.logger.Warn("reminder failed", "meal", string(w.Meal), "error", err)
	} else {
		p.logger.Debug("reminder evaluated", "meal", string(w.Meal), "sent", sent)
	}

	// stays armed for tomorrow even if the day-boundary loop is not running
	enabled, err := p.store.NotificationsEnabled()
	if err == nil && enabled {
		p.schedule(w, p.nextOccurrence(w, p.clock.Now()))
	}
}

func (p *Planner) nextOccurrence(w models.ReminderWindow, now time.Time) time.Time {
	at := p.calendar.At(now, w.Hour, w.Minute)
	if !at.After(now) {
		at = p.calendar.At(now.AddDate(0, 0, 1), w.Hour, w.Minute)
	}
	return at
}

// upcoming returns the window that fires next after now
func (p *Planner) upcoming(now time.Time) (models.ReminderWindow, time.Time) {
	var next models.ReminderWindow
	var nextAt time.Time
	for i, w := range p.windows {
		at := p.nextOccurrence(w, now)
		if i == 0 || at.Before(nextAt) {
			next, nextAt = w, at
		}
	}
	return next, nextAt
}

func (p *Planner) cancelAll() {
	for _, w := range p.windows {
		p.host.Cancel(TaskName(w.Meal))
	}
}

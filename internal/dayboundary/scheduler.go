// Package dayboundary runs the once-per-UTC-day refresh loop and tells the
// rest of the engine when a new day begins.
package dayboundary

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pders01/snapsync/internal/logging"
	"github.com/pders01/snapsync/internal/metrics"
)

// DefaultCooldown is the wait after a failed cycle
const DefaultCooldown = 5 * time.Minute

// StateStore persists the key of the last refreshed day
type StateStore interface {
	LastRefreshDateKey() (string, error)
	SetLastRefreshDateKey(key string) error
}

// Scheduler refreshes once per calendar day
type Scheduler struct {
	store    StateStore
	notifier *Notifier
	calendar Calendar
	cooldown time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu   sync.Mutex
	done chan struct{}
}

// Option customises a Scheduler
type Option func(*Scheduler)

// WithClock replaces the clock used for midnight and cooldown waits
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithCalendar overrides the UTC calendar
func WithCalendar(c Calendar) Option {
	return func(s *Scheduler) { s.calendar = c }
}

// WithCooldown overrides DefaultCooldown
func WithCooldown(d time.Duration) Option {
	return func(s *Scheduler) { s.cooldown = d }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a scheduler that publishes refreshed days on notifier
func New(store StateStore, notifier *Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		notifier: notifier,
		calendar: UTC(),
		cooldown: DefaultCooldown,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger)
	return s
}

// Calendar returns the calendar the scheduler runs on
func (s *Scheduler) Calendar() Calendar {
	return s.calendar
}

// StartDailyRefreshMonitoring runs the loop in a new goroutine until ctx is
// cancelled. The returned channel is closed when the loop exits. Calling it
// while a loop is running returns that loop's channel.
func (s *Scheduler) StartDailyRefreshMonitoring(ctx context.Context) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
		default:
			return s.done
		}
	}

	done := make(chan struct{})
	s.done = done
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	return done
}

// Run blocks until ctx is cancelled, refreshing whenever the current day
// differs from the last refreshed one. Failed cycles are logged and retried
// after the cooldown.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		wait, err := s.cycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Error("day refresh cycle failed", "error", err, "retry_in", s.cooldown)
			s.metrics.DayRefresh("error")
			wait = s.cooldown
		}
		if wait <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(wait):
		}
	}
}

// cycle refreshes if the day changed and returns how long to wait before the
// next check.
func (s *Scheduler) cycle(ctx context.Context) (wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in refresh cycle: %v", r)
		}
	}()

	now := s.clock.Now()
	day := s.calendar.Day(now)

	last, err := s.store.LastRefreshDateKey()
	if err != nil {
		return 0, fmt.Errorf("load last refresh key: %w", err)
	}

	if last != day.Key {
		if err := s.refresh(ctx, day, last); err != nil {
			return 0, err
		}
	}
	return s.calendar.NextMidnight(now).Sub(now), nil
}

func (s *Scheduler) refresh(ctx context.Context, day Day, previous string) error {
	s.logger.Info("new day", "day", day.Key, "previous", previous)

	if err := s.notifier.Publish(ctx, day); err != nil {
		s.logger.Warn("day refresh subscriber failed", "day", day.Key, "error", err)
		s.metrics.DayRefresh("subscriber_error")
	}

	if err := s.store.SetLastRefreshDateKey(day.Key); err != nil {
		return fmt.Errorf("persist refresh key: %w", err)
	}
	s.metrics.DayRefresh("refreshed")
	return nil
}

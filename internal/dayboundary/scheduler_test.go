package dayboundary

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pders01/snapsync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	key      string
	loadErrs int
}

func (m *memStore) LastRefreshDateKey() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErrs > 0 {
		m.loadErrs--
		return "", errors.New("store unavailable")
	}
	return m.key, nil
}

func (m *memStore) SetLastRefreshDateKey(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.key = key
	return nil
}

func (m *memStore) get() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key
}

func collect(n *Notifier) <-chan Day {
	days := make(chan Day, 8)
	n.Subscribe(func(_ context.Context, d Day) error {
		days <- d
		return nil
	})
	return days
}

func start(t *testing.T, s *Scheduler) (context.Context, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := s.StartDailyRefreshMonitoring(ctx)
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ctx, done
}

func expectDay(t *testing.T, days <-chan Day, key string) {
	t.Helper()
	select {
	case d := <-days:
		assert.Equal(t, key, d.Key)
	case <-time.After(2 * time.Second):
		t.Fatalf("no refresh for %s", key)
	}
}

func expectNone(t *testing.T, days <-chan Day) {
	t.Helper()
	select {
	case d := <-days:
		t.Fatalf("unexpected refresh for %s", d.Key)
	default:
	}
}

func TestRefreshesImmediatelyOnMissedDay(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC))
	store := &memStore{key: "2024-01-01"}
	notifier := NewNotifier()
	days := collect(notifier)

	s := New(store, notifier, WithClock(clock), WithLogger(logging.Discard()))
	ctx, _ := start(t, s)

	expectDay(t, days, "2024-01-02")
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, "2024-01-02", store.get())
}

func TestWaitsForMidnightWhenUpToDate(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 2, 22, 0, 0, 0, time.UTC))
	store := &memStore{key: "2024-01-02"}
	notifier := NewNotifier()
	days := collect(notifier)

	s := New(store, notifier, WithClock(clock), WithLogger(logging.Discard()))
	ctx, _ := start(t, s)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	expectNone(t, days)

	clock.Advance(2 * time.Hour)
	expectDay(t, days, "2024-01-03")

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, "2024-01-03", store.get())
}

func TestCooldownAfterFailure(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	store := &memStore{key: "2024-01-01", loadErrs: 1}
	notifier := NewNotifier()
	days := collect(notifier)

	s := New(store, notifier, WithClock(clock), WithLogger(logging.Discard()))
	ctx, _ := start(t, s)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(DefaultCooldown - time.Second)
	expectNone(t, days)

	clock.Advance(time.Second)
	expectDay(t, days, "2024-01-02")
}

func TestPanickingSubscriberIsRetriedAfterCooldown(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	store := &memStore{key: "2024-01-01"}
	notifier := NewNotifier()

	var mu sync.Mutex
	calls := 0
	notifier.Subscribe(func(context.Context, Day) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("boom")
		}
		return nil
	})
	days := collect(notifier)

	s := New(store, notifier, WithClock(clock), WithLogger(logging.Discard()))
	ctx, _ := start(t, s)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, "2024-01-01", store.get())

	clock.Advance(DefaultCooldown)
	expectDay(t, days, "2024-01-02")
}

func TestSubscriberErrorIsSwallowed(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	store := &memStore{key: "2024-01-01"}
	notifier := NewNotifier()
	notifier.Subscribe(func(context.Context, Day) error { return errors.New("fetch failed") })
	days := collect(notifier)

	s := New(store, notifier, WithClock(clock), WithLogger(logging.Discard()))
	ctx, _ := start(t, s)

	expectDay(t, days, "2024-01-02")
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, "2024-01-02", store.get())
}

func TestRunStopsOnCancel(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	s := New(&memStore{key: "2024-01-02"}, NewNotifier(), WithClock(clock), WithLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRestartAfterCancelCatchesUp(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	store := &memStore{key: "2024-01-02"}
	notifier := NewNotifier()
	days := collect(notifier)
	s := New(store, notifier, WithClock(clock), WithLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	done := s.StartDailyRefreshMonitoring(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	cancel()
	<-done

	clock.Advance(48 * time.Hour)
	start(t, s)
	expectDay(t, days, "2024-01-04")
}

func TestCalendar(t *testing.T) {
	cal := UTC()
	ts := time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC)

	assert.Equal(t, "2024-02-29", cal.Key(ts))
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), cal.StartOfDay(ts))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), cal.NextMidnight(ts))
	assert.Equal(t, time.Date(2024, 2, 29, 17, 30, 0, 0, time.UTC), cal.At(ts, 17, 30))

	berlin := time.FixedZone("CET", 3600)
	local := NewCalendar(berlin)
	assert.Equal(t, "2024-03-01", local.Key(ts))
}

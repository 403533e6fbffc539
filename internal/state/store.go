// Package state persists the schedule bookkeeping shared by the day-boundary
// scheduler and the reminder planner, plus the notifications setting.
//
// Every accessor reads through to the backing store so that reminder tasks
// woken by the host see what the foreground process last wrote.
package state

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/pders01/snapsync/internal/logging"
	"github.com/pders01/snapsync/internal/models"
	"github.com/pders01/snapsync/internal/storage"
)

const (
	keyLastRefresh   = "schedule/last_refresh_date_key"
	keyLastSnap      = "schedule/last_snap_timestamp"
	keyFirstSnap     = "schedule/first_snap_today_timestamp"
	keyNotifications = "settings/notifications_enabled"
)

// KV is the backend the store writes to
type KV interface {
	Get(key string) ([]byte, error)
	Apply(set map[string][]byte, del []string) error
}

// Store reads and writes ScheduleState
type Store struct {
	mu     sync.Mutex
	kv     KV
	logger *slog.Logger
}

// New creates a store over kv
func New(kv KV, logger *slog.Logger) *Store {
	return &Store{kv: kv, logger: logging.OrDefault(logger)}
}

// Load returns the persisted schedule state. Unparseable fields read as zero.
func (s *Store) Load() (models.ScheduleState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (models.ScheduleState, error) {
	var st models.ScheduleState
	var err error

	if st.LastRefreshDateKey, err = s.getString(keyLastRefresh); err != nil {
		return models.ScheduleState{}, err
	}
	if st.LastSnapTimestamp, err = s.getInt(keyLastSnap); err != nil {
		return models.ScheduleState{}, err
	}
	if st.FirstSnapTodayTimestamp, err = s.getInt(keyFirstSnap); err != nil {
		return models.ScheduleState{}, err
	}
	return st, nil
}

// LastRefreshDateKey returns the last day the scheduler refreshed on
func (s *Store) LastRefreshDateKey() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getString(keyLastRefresh)
}

// SetLastRefreshDateKey records the day the scheduler refreshed on
func (s *Store) SetLastRefreshDateKey(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Apply(map[string][]byte{keyLastRefresh: []byte(key)}, nil)
}

// RecordSnap stores ts as the last snap and, if no snap has been recorded
// since dayStart, as the first snap of today. The first write of a day wins.
func (s *Store) RecordSnap(ts int64, dayStart time.Time) (models.ScheduleState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return models.ScheduleState{}, err
	}

	set := map[string][]byte{keyLastSnap: formatInt(ts)}
	st.LastSnapTimestamp = ts
	if st.FirstSnapTodayTimestamp < dayStart.UnixMilli() {
		st.FirstSnapTodayTimestamp = ts
		set[keyFirstSnap] = formatInt(ts)
	}

	if err := s.kv.Apply(set, nil); err != nil {
		return models.ScheduleState{}, fmt.Errorf("record snap: %w", err)
	}
	return st, nil
}

// ResetFirstSnap zeroes the first-snap-today marker for a new day
func (s *Store) ResetFirstSnap() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Apply(map[string][]byte{keyFirstSnap: formatInt(0)}, nil)
}

// NotificationsEnabled returns the notifications setting; it defaults to on
func (s *Store) NotificationsEnabled() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.kv.Get(keyNotifications)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read notifications setting: %w", err)
	}
	enabled, err := strconv.ParseBool(string(raw))
	if err != nil {
		s.logger.Warn("corrupt notifications setting, using default", "value", string(raw))
		return true, nil
	}
	return enabled, nil
}

// SetNotificationsEnabled stores the notifications setting
func (s *Store) SetNotificationsEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Apply(map[string][]byte{keyNotifications: []byte(strconv.FormatBool(enabled))}, nil)
}

func (s *Store) getString(key string) (string, error) {
	raw, err := s.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return string(raw), nil
}

func (s *Store) getInt(key string) (int64, error) {
	raw, err := s.getString(key)
	if err != nil || raw == "" {
		return 0, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Warn("corrupt schedule value, treating as zero", "key", key, "value", raw)
		return 0, nil
	}
	return v, nil
}

func formatInt(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}

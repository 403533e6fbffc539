// Package statcache is a TTL-bounded, file-backed map from calendar-day key
// to the aggregated nutrition snapshot of that day.
//
// The whole map is loaded on open and rewritten on every change. Reads never
// touch the network; callers fetch and Put on a miss.
package statcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pders01/snapsync/internal/logging"
	"github.com/pders01/snapsync/internal/metrics"
	"github.com/pders01/snapsync/internal/models"
)

const (
	// DefaultTTL is how long a snapshot stays valid
	DefaultTTL = 2 * time.Hour
	// DefaultFileName is the cache file inside the data directory
	DefaultFileName = "stats-cache.json"
)

// Cache holds day snapshots in memory and mirrors them to one file
type Cache struct {
	mu      sync.RWMutex
	path    string
	ttl     time.Duration
	entries map[string]models.DailySnapshot
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option customises a Cache
type Option func(*Cache)

// WithTTL overrides DefaultTTL
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock replaces the clock used for expiry
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Open loads the cache file at path and evicts expired entries. A missing,
// unreadable or corrupt file yields an empty cache; Open never fails.
func Open(path string, opts ...Option) *Cache {
	c := &Cache{
		path:    path,
		ttl:     DefaultTTL,
		entries: make(map[string]models.DailySnapshot),
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDefault(c.logger)

	entries, err := readFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		c.logger.Warn("statistics cache unreadable, starting empty", "path", path, "error", err)
	default:
		c.entries = entries
	}

	c.EvictExpired()
	return c
}

// Path returns the backing file
func (c *Cache) Path() string {
	return c.path
}

// TTL returns the validity window
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the snapshot for key if present and still valid
func (c *Cache) Get(key string) (models.DailySnapshot, bool) {
	c.mu.RLock()
	snap, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.metrics.CacheLookup("miss")
		return models.DailySnapshot{}, false
	}
	if !snap.ValidAt(c.clock.Now(), c.ttl) {
		c.metrics.CacheLookup("expired")
		return models.DailySnapshot{}, false
	}
	c.metrics.CacheLookup("hit")
	return snap, true
}

// Put stores snap under key, replacing any previous value, and rewrites the
// file. A zero CachedAt is stamped with the current time. A failed write is
// logged and the in-memory value is kept.
func (c *Cache) Put(key string, snap models.DailySnapshot) models.DailySnapshot {
	snap.DateKey = key
	if snap.CachedAt.IsZero() {
		snap.CachedAt = c.clock.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = snap
	c.persistLocked()
	return snap
}

// EvictExpired removes every invalid entry and rewrites the file if any
// were removed. It returns the number of evicted entries.
func (c *Cache) EvictExpired() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, snap := range c.entries {
		if !snap.ValidAt(now, c.ttl) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("evicted expired statistics", "count", removed)
		c.persistLocked()
	}
	return removed
}

// Clear empties the cache and removes the file
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]models.DailySnapshot)
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}

// Len returns the number of entries, valid or not
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshots returns every entry sorted by key, including expired ones
func (c *Cache) Snapshots() []models.DailySnapshot {
	c.mu.RLock()
	out := make([]models.DailySnapshot, 0, len(c.entries))
	for _, snap := range c.entries {
		out = append(out, snap)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].DateKey < out[j].DateKey
	})
	return out
}

// persistLocked writes the whole map; c.mu must be held
func (c *Cache) persistLocked() {
	if err := writeFile(c.path, c.entries); err != nil {
		c.logger.Error("failed to persist statistics cache", "path", c.path, "error", err)
	}
}

// writeFile replaces path atomically with the JSON encoding of entries
func writeFile(path string, entries map[string]models.DailySnapshot) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}

// readFile loads the persisted map
func readFile(path string) (map[string]models.DailySnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]models.DailySnapshot)
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("corrupt cache file: %w", err)
	}
	return entries, nil
}

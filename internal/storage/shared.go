package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultLockTimeout bounds how long an operation waits for another process
// to release the database
const DefaultLockTimeout = 10 * time.Second

const lockRetryInterval = 25 * time.Millisecond

var (
	// ErrLocked is returned when another process kept the database past the lock timeout
	ErrLocked = errors.New("database is in use by another process")
	// ErrClosed is returned by operations on a closed Shared
	ErrClosed = errors.New("database is closed")
)

// IsLocked reports whether err is badger refusing to open a directory that
// another process holds. Badger formats the underlying flock error into the
// message, so the text is all there is to match on.
func IsLocked(err error) bool {
	return err != nil && (errors.Is(err, ErrLocked) || strings.Contains(err.Error(), "Cannot acquire directory lock"))
}

// Shared is an on-disk database that stays open only while somebody holds
// it. Badger takes an exclusive directory lock for as long as a database is
// open, so a long-running process that kept it open would lock every other
// command out of the same data directory. Each operation opens the
// database, waiting for a lock held elsewhere, and closes it again once
// the last holder releases it.
type Shared struct {
	cfg     Config
	timeout time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger

	mu     sync.Mutex
	kv     *KV
	holds  int
	closed bool
}

// SharedOption customises a Shared
type SharedOption func(*Shared)

// WithLockTimeout sets how long to wait for another process. Zero fails at
// once when the directory is locked.
func WithLockTimeout(d time.Duration) SharedOption {
	return func(s *Shared) { s.timeout = d }
}

// WithLogger sets the logger for close failures. Badger's own logging is
// still controlled by Config.Logger.
func WithLogger(l *slog.Logger) SharedOption {
	return func(s *Shared) { s.logger = l }
}

// OpenShared checks that cfg describes a usable on-disk database and
// returns a handle that opens it on demand
func OpenShared(cfg Config, opts ...SharedOption) (*Shared, error) {
	if cfg.InMemory {
		return nil, errors.New("an in-memory database cannot be shared")
	}
	if cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	s := &Shared{
		cfg:     cfg,
		timeout: DefaultLockTimeout,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}

	release, err := s.Hold()
	if err != nil {
		return nil, err
	}
	release()
	return s, nil
}

// Hold keeps the database open until the returned func is called, so a
// batch of operations pays for one open. Do not hold it across network
// calls: other processes wait for as long as it is held.
func (s *Shared) Hold() (func(), error) {
	_, release, err := s.acquire()
	return release, err
}

func (s *Shared) acquire() (*KV, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrClosed
	}
	if s.kv == nil {
		kv, err := s.open()
		if err != nil {
			return nil, nil, err
		}
		s.kv = kv
	}
	s.holds++

	var once sync.Once
	return s.kv, func() { once.Do(s.release) }, nil
}

func (s *Shared) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.holds--
	if s.holds > 0 || s.kv == nil {
		return
	}
	if err := s.kv.Close(); err != nil && s.logger != nil {
		s.logger.Warn("failed to close database", "path", s.cfg.Path, "error", err)
	}
	s.kv = nil
}

// open retries while another process holds the directory lock
func (s *Shared) open() (*KV, error) {
	deadline := s.clock.Now().Add(s.timeout)
	for {
		kv, err := Open(s.cfg)
		if err == nil {
			return kv, nil
		}
		if !IsLocked(err) {
			return nil, err
		}
		if !s.clock.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, s.cfg.Path)
		}
		s.clock.Sleep(lockRetryInterval)
	}
}

func (s *Shared) with(fn func(kv *KV) error) error {
	kv, release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()
	return fn(kv)
}

// Get returns a copy of the value stored at key
func (s *Shared) Get(key string) ([]byte, error) {
	var val []byte
	err := s.with(func(kv *KV) error {
		var err error
		val, err = kv.Get(key)
		return err
	})
	return val, err
}

// Set stores value at key
func (s *Shared) Set(key string, value []byte) error {
	return s.Apply(map[string][]byte{key: value}, nil)
}

// Apply writes set and removes del in one transaction
func (s *Shared) Apply(set map[string][]byte, del []string) error {
	return s.with(func(kv *KV) error {
		return kv.Apply(set, del)
	})
}

// Scan returns every key/value pair whose key starts with prefix
func (s *Shared) Scan(prefix string) (map[string][]byte, error) {
	var out map[string][]byte
	err := s.with(func(kv *KV) error {
		var err error
		out, err = kv.Scan(prefix)
		return err
	})
	return out, err
}

// Close closes the database if it is open. Later operations fail with ErrClosed.
func (s *Shared) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.kv == nil {
		return nil
	}
	err := s.kv.Close()
	s.kv = nil
	return err
}

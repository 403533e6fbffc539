// Package images keeps locally captured photos until the server confirms a
// food record for them, then rebinds each photo to that record.
//
// A capture is stored under a temporary key derived from its capture
// timestamp. Reconciliation moves the bytes to a permanent key derived from
// the record's server timestamp. Captures that never find a record are swept
// once they are older than a bounded age.
package images

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pders01/snapsync/internal/logging"
	"github.com/pders01/snapsync/internal/metrics"
	"github.com/pders01/snapsync/internal/models"
	"github.com/pders01/snapsync/internal/storage"
)

// DefaultOrphanAge is how long a capture may stay pending before it is swept
const DefaultOrphanAge = 24 * time.Hour

const (
	pendingPrefix = "pending/"
	recordPrefix  = "record/"
	capturePrefix = "capture/"
)

var (
	// ErrNoCapture is returned when no capture exists for a timestamp
	ErrNoCapture = errors.New("no such capture")
	// ErrNoImage is returned when a record has no image
	ErrNoImage = errors.New("no image for record")
)

// Store is the key/value backend for images and capture bookkeeping
type Store interface {
	Get(key string) ([]byte, error)
	Scan(prefix string) (map[string][]byte, error)
	Apply(set map[string][]byte, del []string) error
}

// PendingKey is the temporary key of a capture's bytes
func PendingKey(captureTimestamp int64) string {
	return pendingPrefix + strconv.FormatInt(captureTimestamp, 10)
}

// RecordKey is the permanent key of a record's image
func RecordKey(recordID int64) string {
	return recordPrefix + strconv.FormatInt(recordID, 10)
}

func captureKey(captureTimestamp int64) string {
	return capturePrefix + strconv.FormatInt(captureTimestamp, 10)
}

// Reconciler binds captures to server records
type Reconciler struct {
	mu      sync.Mutex
	store   Store
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option customises a Reconciler
type Option func(*Reconciler)

// WithClock replaces the clock used to stamp and age captures
func WithClock(c clockwork.Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// NewReconciler creates a reconciler over store
func NewReconciler(store Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store: store,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDefault(r.logger)
	return r
}

// StorePending saves a freshly captured image under its temporary key.
// Storing the same timestamp twice replaces the earlier bytes.
func (r *Reconciler) StorePending(captureTimestamp int64, image []byte) error {
	if len(image) == 0 {
		return fmt.Errorf("image cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	capture := models.PendingCapture{
		CaptureTimestamp: captureTimestamp,
		State:            models.CapturePending,
		StoredAt:         r.clock.Now().UnixMilli(),
		Size:             len(image),
	}
	meta, err := json.Marshal(capture)
	if err != nil {
		return fmt.Errorf("encode capture: %w", err)
	}

	if err := r.store.Apply(map[string][]byte{
		PendingKey(captureTimestamp): image,
		captureKey(captureTimestamp): meta,
	}, nil); err != nil {
		return fmt.Errorf("store pending capture %d: %w", captureTimestamp, err)
	}
	return nil
}

// Reconcile binds the pending capture to the newest candidate record and
// promotes its image to the record's permanent key. With no candidates the
// capture is left untouched and ok is false.
func (r *Reconciler) Reconcile(pendingTimestamp int64, candidates []models.FoodRecord) (recordID int64, ok bool, err error) {
	newest, found := models.Newest(candidates)
	if !found {
		r.metrics.Reconciliation("no_candidates")
		return 0, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	capture, err := r.loadCapture(pendingTimestamp)
	if err != nil {
		r.metrics.Reconciliation("error")
		return 0, false, err
	}
	if capture.State != models.CapturePending {
		r.metrics.Reconciliation("not_pending")
		return capture.RecordID, capture.State == models.CaptureReconciled, nil
	}

	image, err := r.store.Get(PendingKey(pendingTimestamp))
	if err != nil {
		r.metrics.Reconciliation("error")
		return 0, false, fmt.Errorf("read pending image %d: %w", pendingTimestamp, err)
	}

	capture.State = models.CaptureReconciled
	capture.RecordID = newest.ID()
	meta, err := json.Marshal(capture)
	if err != nil {
		return 0, false, fmt.Errorf("encode capture: %w", err)
	}

	if err := r.store.Apply(map[string][]byte{
		RecordKey(newest.ID()):       image,
		captureKey(pendingTimestamp): meta,
	}, []string{PendingKey(pendingTimestamp)}); err != nil {
		r.metrics.Reconciliation("error")
		return 0, false, fmt.Errorf("promote capture %d: %w", pendingTimestamp, err)
	}

	r.metrics.Reconciliation("bound")
	r.logger.Debug("capture reconciled",
		"capture_timestamp", pendingTimestamp,
		"record_id", newest.ID(),
	)
	return newest.ID(), true, nil
}

// DiscardPending drops a capture and its temporary image
func (r *Reconciler) DiscardPending(captureTimestamp int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Apply(nil, []string{
		PendingKey(captureTimestamp),
		captureKey(captureTimestamp),
	}); err != nil {
		return fmt.Errorf("discard capture %d: %w", captureTimestamp, err)
	}
	return nil
}

// Capture returns the bookkeeping of one capture
func (r *Reconciler) Capture(captureTimestamp int64) (models.PendingCapture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadCapture(captureTimestamp)
}

// Captures lists every known capture, oldest first
func (r *Reconciler) Captures() ([]models.PendingCapture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.captures()
}

func (r *Reconciler) captures() ([]models.PendingCapture, error) {
	entries, err := r.store.Scan(capturePrefix)
	if err != nil {
		return nil, err
	}

	out := make([]models.PendingCapture, 0, len(entries))
	for key, raw := range entries {
		var c models.PendingCapture
		if err := json.Unmarshal(raw, &c); err != nil {
			r.logger.Warn("skipping unreadable capture", "key", key, "error", err)
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CaptureTimestamp < out[j].CaptureTimestamp
	})
	return out, nil
}

// Pending lists captures still waiting for a record, oldest first
func (r *Reconciler) Pending() ([]models.PendingCapture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.captures()
	if err != nil {
		return nil, err
	}
	var out []models.PendingCapture
	for _, c := range all {
		if c.State == models.CapturePending {
			out = append(out, c)
		}
	}
	return out, nil
}

// Image returns the image bound to a record
func (r *Reconciler) Image(recordID int64) ([]byte, error) {
	img, err := r.store.Get(RecordKey(recordID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoImage
	}
	return img, err
}

// HasImage reports whether a record already has an image bound
func (r *Reconciler) HasImage(recordID int64) bool {
	_, err := r.store.Get(RecordKey(recordID))
	return err == nil
}

// Forget removes the image of a deleted record
func (r *Reconciler) Forget(recordID int64) error {
	if err := r.store.Apply(nil, []string{RecordKey(recordID)}); err != nil {
		return fmt.Errorf("forget image %d: %w", recordID, err)
	}
	return nil
}

// Orphans returns pending captures stored longer ago than maxAge, marked orphaned
func (r *Reconciler) Orphans(maxAge time.Duration) ([]models.PendingCapture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.captures()
	if err != nil {
		return nil, err
	}
	orphans, _ := r.expired(all, maxAge)
	return orphans, nil
}

// expired splits captures stored at least maxAge ago into pending ones,
// returned marked orphaned, and the keys of reconciled bookkeeping
func (r *Reconciler) expired(all []models.PendingCapture, maxAge time.Duration) ([]models.PendingCapture, []string) {
	cutoff := r.clock.Now().Add(-maxAge).UnixMilli()

	var orphans []models.PendingCapture
	var stale []string
	for _, c := range all {
		if c.StoredAt > cutoff {
			continue
		}
		switch c.State {
		case models.CapturePending:
			c.State = models.CaptureOrphaned
			orphans = append(orphans, c)
		case models.CaptureReconciled:
			stale = append(stale, captureKey(c.CaptureTimestamp))
		}
	}
	return orphans, stale
}

// SweepOrphans discards every pending capture older than maxAge and returns
// what it removed. Reconciled bookkeeping older than maxAge is dropped too;
// the record images themselves are kept.
func (r *Reconciler) SweepOrphans(maxAge time.Duration) ([]models.PendingCapture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.captures()
	if err != nil {
		return nil, err
	}

	orphans, del := r.expired(all, maxAge)
	for _, c := range orphans {
		del = append(del, PendingKey(c.CaptureTimestamp), captureKey(c.CaptureTimestamp))
	}
	if len(del) == 0 {
		return nil, nil
	}

	if err := r.store.Apply(nil, del); err != nil {
		return nil, fmt.Errorf("sweep orphans: %w", err)
	}

	for _, c := range orphans {
		r.metrics.Reconciliation("orphaned")
		r.logger.Info("discarded orphaned capture",
			"capture_timestamp", c.CaptureTimestamp,
			"age", r.clock.Now().Sub(time.UnixMilli(c.StoredAt)).Round(time.Minute),
		)
	}
	return orphans, nil
}

func (r *Reconciler) loadCapture(captureTimestamp int64) (models.PendingCapture, error) {
	raw, err := r.store.Get(captureKey(captureTimestamp))
	if errors.Is(err, storage.ErrNotFound) {
		return models.PendingCapture{}, fmt.Errorf("%w: %d", ErrNoCapture, captureTimestamp)
	}
	if err != nil {
		return models.PendingCapture{}, err
	}

	var c models.PendingCapture
	if err := json.Unmarshal(raw, &c); err != nil {
		return models.PendingCapture{}, fmt.Errorf("decode capture %d: %w", captureTimestamp, err)
	}
	return c, nil
}

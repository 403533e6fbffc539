// Package engine wires the sync components into one application context:
// the gateway and its retrying transport, the image reconciler, the
// statistics cache, the schedule state, the day-boundary loop and the
// reminder planner.
//
// The CLI talks to the engine only. Every operation returns a typed
// *gateway.Failure on remote failure; successful fetches are also published
// on the Records channel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pders01/snapsync/internal/dayboundary"
	"github.com/pders01/snapsync/internal/gateway"
	"github.com/pders01/snapsync/internal/images"
	"github.com/pders01/snapsync/internal/logging"
	"github.com/pders01/snapsync/internal/metrics"
	"github.com/pders01/snapsync/internal/models"
	"github.com/pders01/snapsync/internal/reminder"
	"github.com/pders01/snapsync/internal/state"
	"github.com/pders01/snapsync/internal/statcache"
	"github.com/pders01/snapsync/internal/storage"
	"github.com/pders01/snapsync/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"
)

// DatabaseDir is the badger directory inside the data directory
const DatabaseDir = "db"

const orphanSweepTask = "sweep:orphans"

// Config describes how to build an Engine
type Config struct {
	// ServerURL is the backend base address
	ServerURL string
	// DataDir holds the badger database and the statistics cache file
	DataDir string
	// InMemory keeps the database in RAM; the cache file still lives in DataDir
	InMemory bool
	// LockTimeout is how long to wait for another process using DataDir
	LockTimeout time.Duration

	Token      gateway.TokenProvider
	HTTPClient transport.Doer
	Transport  transport.Config

	CacheTTL  time.Duration
	OrphanAge time.Duration

	// Windows overrides the default reminder windows
	Windows []models.ReminderWindow
	// Location is the user's timezone for statistics keys and reminder times
	Location *time.Location
	// Notifier delivers reminders; nil logs them
	Notifier reminder.Notifier

	// Registerer receives the engine metrics; nil disables them
	Registerer prometheus.Registerer
	Logger     *slog.Logger
	Clock      clockwork.Clock
}

// Engine is the application context shared by every command
type Engine struct {
	gateway   *gateway.Client
	images    *images.Reconciler
	cache     *statcache.Cache
	state     *state.Store
	days      *dayboundary.Notifier
	scheduler *dayboundary.Scheduler
	planner   *reminder.Planner
	host      *reminder.TimerHost
	sweeps    *reminder.TimerHost
	db        database

	calendar  dayboundary.Calendar
	orphanAge time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics

	flights singleflight.Group
	records chan []models.FoodRecord
	loading chan bool
}

// Open builds an engine from cfg, opening the database and cache file
func Open(cfg Config) (*Engine, error) {
	logger := logging.OrDefault(cfg.Logger)
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.DataDir == "" {
		return nil, errors.New("data directory is required")
	}
	if cfg.Transport == (transport.Config{}) {
		cfg.Transport = transport.DefaultConfig()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = statcache.DefaultTTL
	}
	if cfg.OrphanAge <= 0 {
		cfg.OrphanAge = images.DefaultOrphanAge
	}
	if cfg.Notifier == nil {
		cfg.Notifier = reminder.LogNotifier{Logger: logger}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	var m *metrics.Metrics
	if cfg.Registerer != nil {
		m = metrics.New(cfg.Registerer)
	}

	tr, err := transport.New(cfg.HTTPClient, cfg.Transport,
		transport.WithClock(clock),
		transport.WithLogger(logger),
		transport.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid retry settings: %w", err)
	}
	gw, err := gateway.NewClient(cfg.ServerURL, tr, cfg.Token, logger)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	calendar := dayboundary.NewCalendar(cfg.Location)
	states := state.New(db, logger)
	days := dayboundary.NewNotifier()
	host := reminder.NewTimerHost(clock)

	plannerOpts := []reminder.Option{
		reminder.WithCalendar(calendar),
		reminder.WithClock(clock),
		reminder.WithLogger(logger),
		reminder.WithMetrics(m),
	}
	if len(cfg.Windows) > 0 {
		plannerOpts = append(plannerOpts, reminder.WithWindows(cfg.Windows))
	}

	e := &Engine{
		gateway: gw,
		images: images.NewReconciler(db,
			images.WithClock(clock),
			images.WithLogger(logger),
			images.WithMetrics(m),
		),
		cache: statcache.Open(filepath.Join(cfg.DataDir, statcache.DefaultFileName),
			statcache.WithTTL(cfg.CacheTTL),
			statcache.WithClock(clock),
			statcache.WithLogger(logger),
			statcache.WithMetrics(m),
		),
		state: states,
		days:  days,
		scheduler: dayboundary.New(states, days,
			dayboundary.WithClock(clock),
			dayboundary.WithLogger(logger),
			dayboundary.WithMetrics(m),
		),
		planner:   reminder.New(states, host, cfg.Notifier, plannerOpts...),
		host:      host,
		sweeps:    reminder.NewTimerHost(clock),
		db:        db,
		calendar:  calendar,
		orphanAge: cfg.OrphanAge,
		clock:     clock,
		logger:    logger,
		metrics:   m,
		records:   make(chan []models.FoodRecord, 1),
		loading:   make(chan bool, 1),
	}

	days.Subscribe(e.planner.OnNewDay)
	days.Subscribe(e.onNewDay)
	return e, nil
}

// database is the badger handle shared by the state store and the images
type database interface {
	images.Store
	Hold() (func(), error)
	Close() error
}

// openDatabase keeps an in-memory database open for the engine's lifetime.
// An on-disk one is opened per operation so other processes can use it too.
func openDatabase(cfg Config, logger *slog.Logger) (database, error) {
	dbConfig := storage.DefaultConfig(filepath.Join(cfg.DataDir, DatabaseDir))
	if cfg.InMemory {
		dbConfig.InMemory = true
		kv, err := storage.Open(dbConfig)
		if err != nil {
			return nil, err
		}
		return kv, nil
	}

	timeout := cfg.LockTimeout
	if timeout <= 0 {
		timeout = storage.DefaultLockTimeout
	}
	shared, err := storage.OpenShared(dbConfig,
		storage.WithLockTimeout(timeout),
		storage.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return shared, nil
}

// Close stops pending reminders and sweeps and closes the database
func (e *Engine) Close() error {
	e.host.Close()
	e.sweeps.Close()
	return e.db.Close()
}

// Start arms the reminders and the orphan sweep and starts the day-boundary
// loop. The returned channel is closed once the loop has stopped after ctx
// is cancelled.
func (e *Engine) Start(ctx context.Context) (<-chan struct{}, error) {
	if err := e.planner.Arm(); err != nil {
		return nil, fmt.Errorf("arm reminders: %w", err)
	}
	e.armOrphanSweep()
	return e.scheduler.StartDailyRefreshMonitoring(ctx), nil
}

// Records delivers the latest record list after every successful fetch.
// Only the newest list is buffered.
func (e *Engine) Records() <-chan []models.FoodRecord {
	return e.records
}

// Loading reports when a remote operation starts and finishes.
// Only the newest value is buffered.
func (e *Engine) Loading() <-chan bool {
	return e.loading
}

// Gateway returns the remote backend client
func (e *Engine) Gateway() *gateway.Client {
	return e.gateway
}

// Images returns the image reconciler
func (e *Engine) Images() *images.Reconciler {
	return e.images
}

// Cache returns the statistics cache
func (e *Engine) Cache() *statcache.Cache {
	return e.cache
}

// State returns the schedule state store
func (e *Engine) State() *state.Store {
	return e.state
}

// Planner returns the reminder planner
func (e *Engine) Planner() *reminder.Planner {
	return e.planner
}

// Calendar returns the calendar statistics keys and reminders use
func (e *Engine) Calendar() dayboundary.Calendar {
	return e.calendar
}

// TodayKey returns the statistics key of the current day
func (e *Engine) TodayKey() string {
	return models.DateKey(e.clock.Now().In(e.calendar.Location()))
}

// FetchToday fetches today's records, retries binding any captures still
// pending, refreshes today's cached snapshot and publishes the records.
func (e *Engine) FetchToday(ctx context.Context) (models.DayRecords, error) {
	e.setLoading(true)
	defer e.setLoading(false)

	day, err := e.gateway.FetchToday(ctx)
	if err != nil {
		return models.DayRecords{}, err
	}

	release := e.hold()
	e.reconcilePending(day.Records)
	release()

	e.storeToday(day)
	return day, nil
}

// FetchForDate returns the snapshot of one day, from the cache when it is
// still valid. Concurrent calls for the same key share one request.
func (e *Engine) FetchForDate(ctx context.Context, dateKey string) (models.DailySnapshot, error) {
	if _, err := models.ParseDateKey(dateKey, e.calendar.Location()); err != nil {
		return models.DailySnapshot{}, err
	}
	if snap, ok := e.cache.Get(dateKey); ok {
		return snap, nil
	}

	v, err, _ := e.flights.Do(dateKey, func() (interface{}, error) {
		if snap, ok := e.cache.Get(dateKey); ok {
			return snap, nil
		}

		e.setLoading(true)
		defer e.setLoading(false)

		day, err := e.gateway.FetchForDate(ctx, dateKey)
		if err != nil {
			return nil, err
		}
		return e.cache.Put(dateKey, models.Summarize(dateKey, day, e.clock.Now())), nil
	})
	if err != nil {
		return models.DailySnapshot{}, err
	}
	return v.(models.DailySnapshot), nil
}

// DayResult is one day of a history fetch
type DayResult struct {
	DateKey  string
	Snapshot models.DailySnapshot
	Err      error
}

// FetchHistory fetches the last n days ending today with at most
// concurrency requests in flight. Results are ordered oldest first.
func (e *Engine) FetchHistory(ctx context.Context, n, concurrency int) []DayResult {
	if n < 1 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	today := e.clock.Now().In(e.calendar.Location())
	p := pool.NewWithResults[DayResult]().WithMaxGoroutines(concurrency)
	for i := 0; i < n; i++ {
		key := models.DateKey(today.AddDate(0, 0, -i))
		p.Go(func() DayResult {
			snap, err := e.FetchForDate(ctx, key)
			return DayResult{DateKey: key, Snapshot: snap, Err: err}
		})
	}

	results := p.Wait()
	sort.Slice(results, func(i, j int) bool {
		a, _ := models.ParseDateKey(results[i].DateKey, time.UTC)
		b, _ := models.ParseDateKey(results[j].DateKey, time.UTC)
		return a.Before(b)
	})
	return results
}

// UploadResult is the outcome of a successful capture upload
type UploadResult struct {
	Day        models.DayRecords
	RecordID   int64
	Reconciled bool
}

// UploadCapture stores a food capture as pending, uploads it, binds it to
// the newest record returned and records the snap for the reminders. A
// failed upload discards the pending capture. Scale captures are uploaded
// without image bookkeeping.
func (e *Engine) UploadCapture(ctx context.Context, image []byte, captureTimestamp int64, kind models.CaptureKind) (UploadResult, error) {
	if kind == "" {
		kind = models.KindFood
	}
	food := kind == models.KindFood

	if food {
		if err := e.images.StorePending(captureTimestamp, image); err != nil {
			return UploadResult{}, err
		}
		e.armOrphanSweep()
	}

	e.setLoading(true)
	day, err := e.gateway.UploadPhoto(ctx, image, captureTimestamp, kind)
	e.setLoading(false)
	if err != nil {
		if food {
			if derr := e.images.DiscardPending(captureTimestamp); derr != nil {
				e.logger.Warn("failed to discard pending capture", "capture_timestamp", captureTimestamp, "error", derr)
			}
		}
		return UploadResult{}, err
	}

	result := UploadResult{Day: day}
	if food {
		release := e.hold()
		defer release()

		id, ok, err := e.images.Reconcile(captureTimestamp, day.Records)
		if err != nil {
			e.logger.Warn("reconciliation failed, capture stays pending", "capture_timestamp", captureTimestamp, "error", err)
		}
		result.RecordID, result.Reconciled = id, ok

		if err := e.planner.UpdateLastSnapTime(captureTimestamp); err != nil {
			e.logger.Warn("failed to record snap time", "error", err)
		}
	}

	e.storeToday(day)
	return result, nil
}

// DeleteRecord removes a record remotely, drops its local image and
// fetches today again.
func (e *Engine) DeleteRecord(ctx context.Context, recordID int64) (models.DayRecords, error) {
	e.setLoading(true)
	err := e.gateway.Delete(ctx, recordID)
	e.setLoading(false)
	if err != nil {
		return models.DayRecords{}, err
	}

	if err := e.images.Forget(recordID); err != nil {
		e.logger.Warn("failed to remove record image", "record_id", recordID, "error", err)
	}
	return e.FetchToday(ctx)
}

// ModifyPortion changes a record's weight and fetches today again
func (e *Engine) ModifyPortion(ctx context.Context, recordID int64, grams int) (models.DayRecords, error) {
	e.setLoading(true)
	err := e.gateway.ModifyPortion(ctx, recordID, grams)
	e.setLoading(false)
	if err != nil {
		return models.DayRecords{}, err
	}
	return e.FetchToday(ctx)
}

// SubmitWeight records a manual body weight reading and fetches today again
func (e *Engine) SubmitWeight(ctx context.Context, kilograms float64) (models.DayRecords, error) {
	e.setLoading(true)
	err := e.gateway.SubmitWeight(ctx, kilograms)
	e.setLoading(false)
	if err != nil {
		return models.DayRecords{}, err
	}
	return e.FetchToday(ctx)
}

// RequestRecommendation asks the backend for advice covering the last days
func (e *Engine) RequestRecommendation(ctx context.Context, days int) (string, error) {
	e.setLoading(true)
	defer e.setLoading(false)
	return e.gateway.Recommendation(ctx, days)
}

// SweepOrphans discards pending captures older than the configured age
func (e *Engine) SweepOrphans() ([]models.PendingCapture, error) {
	return e.images.SweepOrphans(e.orphanAge)
}

// onNewDay drops stale cache entries and orphaned captures. It never
// touches the network.
func (e *Engine) onNewDay(_ context.Context, day dayboundary.Day) error {
	release := e.hold()
	defer release()

	evicted := e.cache.EvictExpired()
	swept, err := e.SweepOrphans()
	if err != nil {
		return err
	}
	e.armOrphanSweep()
	e.logger.Info("day refreshed", "day", day.Key, "evicted", evicted, "orphans", len(swept))
	return nil
}

// armOrphanSweep schedules a sweep for the moment the oldest pending
// capture reaches the orphan age, so none outlives it by waiting for the
// next day refresh. A due sweep runs at once.
func (e *Engine) armOrphanSweep() {
	pending, err := e.images.Pending()
	if err != nil {
		e.logger.Warn("failed to list pending captures", "error", err)
		return
	}
	if len(pending) == 0 {
		e.sweeps.Cancel(orphanSweepTask)
		return
	}

	oldest := pending[0].StoredAt
	for _, c := range pending[1:] {
		oldest = min(oldest, c.StoredAt)
	}
	at := time.UnixMilli(oldest).Add(e.orphanAge)
	e.sweeps.Schedule(orphanSweepTask, at, e.sweepDue)
}

func (e *Engine) sweepDue() {
	release := e.hold()
	defer release()

	swept, err := e.SweepOrphans()
	if err != nil {
		retry := e.clock.Now().Add(dayboundary.DefaultCooldown)
		e.logger.Warn("orphan sweep failed", "error", err, "retry_at", retry)
		e.sweeps.Schedule(orphanSweepTask, retry, e.sweepDue)
		return
	}
	if len(swept) > 0 {
		e.logger.Info("swept orphaned captures", "count", len(swept))
	}
	e.armOrphanSweep()
}

// hold keeps the database open across a local batch. Failing to hold is
// not fatal: each operation then opens the database itself.
func (e *Engine) hold() func() {
	release, err := e.db.Hold()
	if err != nil {
		e.logger.Debug("could not hold database", "error", err)
		return func() {}
	}
	return release
}

// reconcilePending binds leftover pending captures to records without an
// image, newest capture to newest record.
func (e *Engine) reconcilePending(records []models.FoodRecord) {
	pending, err := e.images.Pending()
	if err != nil {
		e.logger.Warn("failed to list pending captures", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	var candidates []models.FoodRecord
	for _, r := range records {
		if !e.images.HasImage(r.ID()) {
			candidates = append(candidates, r)
		}
	}

	for i := len(pending) - 1; i >= 0 && len(candidates) > 0; i-- {
		id, ok, err := e.images.Reconcile(pending[i].CaptureTimestamp, candidates)
		if err != nil {
			e.logger.Warn("reconciliation failed", "capture_timestamp", pending[i].CaptureTimestamp, "error", err)
			continue
		}
		if !ok {
			continue
		}
		for j, r := range candidates {
			if r.ID() == id {
				candidates = append(candidates[:j], candidates[j+1:]...)
				break
			}
		}
	}
}

func (e *Engine) storeToday(day models.DayRecords) {
	key := e.TodayKey()
	e.cache.Put(key, models.Summarize(key, day, e.clock.Now()))
	offer(e.records, day.Records)
}

func (e *Engine) setLoading(v bool) {
	offer(e.loading, v)
}

// offer replaces whatever is buffered in ch with v
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

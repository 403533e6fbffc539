package statcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pders01/snapsync/internal/logging"
	"github.com/pders01/snapsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)

func openTestCache(t *testing.T, path string) (*Cache, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(now)
	return Open(path, WithClock(clock), WithLogger(logging.Discard())), clock
}

func snapshot(calories int) models.DailySnapshot {
	return models.DailySnapshot{CaloriesConsumed: calories, RemainingCalories: 2000 - calories, RecordCount: 2}
}

func TestPutThenGetRoundTrip(t *testing.T) {
	c, _ := openTestCache(t, filepath.Join(t.TempDir(), DefaultFileName))

	stored := c.Put("15-03-2024", snapshot(850))

	got, ok := c.Get("15-03-2024")
	require.True(t, ok)
	assert.Equal(t, stored, got)
	assert.Equal(t, "15-03-2024", got.DateKey)
	assert.Equal(t, now, got.CachedAt)
}

func TestGetReturnsNothingOnceTTLPassed(t *testing.T) {
	c, clock := openTestCache(t, filepath.Join(t.TempDir(), DefaultFileName))
	c.Put("15-03-2024", snapshot(850))

	clock.Advance(DefaultTTL - time.Second)
	_, ok := c.Get("15-03-2024")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("15-03-2024")
	assert.False(t, ok, "an entry exactly TTL old is invalid")

	// still physically present until evicted
	assert.Equal(t, 1, c.Len())
}

func TestThreeHourOldSnapshotForcesRefetch(t *testing.T) {
	c, _ := openTestCache(t, filepath.Join(t.TempDir(), DefaultFileName))

	snap := snapshot(1200)
	snap.CachedAt = now.Add(-3 * time.Hour)
	c.Put("15-03-2024", snap)

	_, ok := c.Get("15-03-2024")
	assert.False(t, ok)
}

func TestPutPersistsWholeMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)
	c, _ := openTestCache(t, path)

	c.Put("14-03-2024", snapshot(1000))
	c.Put("15-03-2024", snapshot(500))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var onDisk map[string]models.DailySnapshot
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Len(t, onDisk, 2)
	assert.Equal(t, 500, onDisk["15-03-2024"].CaloriesConsumed)

	reopened, _ := openTestCache(t, path)
	got, ok := reopened.Get("14-03-2024")
	require.True(t, ok)
	assert.Equal(t, 1000, got.CaloriesConsumed)
}

func TestPutOverwritesWholeValue(t *testing.T) {
	c, _ := openTestCache(t, filepath.Join(t.TempDir(), DefaultFileName))

	first := snapshot(100)
	first.BodyWeightKg = 80
	c.Put("15-03-2024", first)
	c.Put("15-03-2024", snapshot(200))

	got, ok := c.Get("15-03-2024")
	require.True(t, ok)
	assert.Equal(t, 200, got.CaloriesConsumed)
	assert.Zero(t, got.BodyWeightKg)
}

func TestEvictExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	c, clock := openTestCache(t, path)

	c.Put("14-03-2024", snapshot(1))
	clock.Advance(90 * time.Minute)
	c.Put("15-03-2024", snapshot(2))
	clock.Advance(45 * time.Minute)

	assert.Equal(t, 1, c.EvictExpired())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.EvictExpired())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "14-03-2024")
}

func TestOpenEvictsExpiredEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	entries := map[string]models.DailySnapshot{
		"13-03-2024": {DateKey: "13-03-2024", CachedAt: now.Add(-5 * time.Hour)},
		"15-03-2024": {DateKey: "15-03-2024", CachedAt: now.Add(-10 * time.Minute)},
	}
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	c, _ := openTestCache(t, path)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("15-03-2024")
	assert.True(t, ok)
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	c, _ := openTestCache(t, path)
	assert.Equal(t, 0, c.Len())

	c.Put("15-03-2024", snapshot(10))
	_, ok := c.Get("15-03-2024")
	assert.True(t, ok)
}

func TestFailedPersistKeepsMemory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	// the parent of the cache path is a regular file, so every write fails
	c, _ := openTestCache(t, filepath.Join(blocker, DefaultFileName))
	c.Put("15-03-2024", snapshot(10))

	_, ok := c.Get("15-03-2024")
	assert.True(t, ok)
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	c, _ := openTestCache(t, path)
	c.Put("15-03-2024", snapshot(10))

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Len())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, c.Clear(), "clearing twice is fine")
}

func TestCustomTTL(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	c := Open(filepath.Join(t.TempDir(), DefaultFileName), WithClock(clock), WithTTL(time.Minute), WithLogger(logging.Discard()))
	c.Put("k", snapshot(1))

	clock.Advance(time.Minute)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, c.TTL())
}

func TestSnapshotsSorted(t *testing.T) {
	c, _ := openTestCache(t, filepath.Join(t.TempDir(), DefaultFileName))
	c.Put("b", snapshot(1))
	c.Put("a", snapshot(2))

	snaps := c.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "a", snaps[0].DateKey)
}

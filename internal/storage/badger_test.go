package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInMemoryRoundTrip(t *testing.T) {
	kv, err := OpenInMemory()
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Set("key", []byte("value")))

	got, err := kv.Get("key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)
}

func TestGetMissingKey(t *testing.T) {
	kv, err := OpenInMemory()
	require.NoError(t, err)
	defer kv.Close()

	_, err = kv.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyMovesKeyAtomically(t *testing.T) {
	kv, err := OpenInMemory()
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Set("pending/1", []byte("img")))
	require.NoError(t, kv.Apply(map[string][]byte{"record/9": []byte("img")}, []string{"pending/1"}))

	_, err = kv.Get("pending/1")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := kv.Get("record/9")
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), got)
}

func TestScanPrefix(t *testing.T) {
	kv, err := OpenInMemory()
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Apply(map[string][]byte{
		"capture/1": []byte("a"),
		"capture/2": []byte("b"),
		"record/3":  []byte("c"),
	}, nil))

	got, err := kv.Scan("capture/")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []byte("b"), got["capture/2"])
}

func TestPersistentReopen(t *testing.T) {
	dir := t.TempDir()

	kv, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, kv.Set("schedule/last_refresh", []byte("2024-01-01")))
	require.NoError(t, kv.Close())

	kv, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer kv.Close()

	got, err := kv.Get("schedule/last_refresh")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", string(got))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

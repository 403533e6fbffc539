package config

import (
	"context"
	"testing"
	"time"

	"github.com/pders01/snapsync/internal/models"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	SetDefaults()
	t.Cleanup(viper.Reset)
}

func TestDefaults(t *testing.T) {
	resetViper(t)

	assert.Equal(t, DefaultServerURL, GetServerURL())
	assert.Equal(t, 10*time.Second, GetBaseDelay())
	assert.Equal(t, 10, GetMaxAttempts())
	assert.Equal(t, 2*time.Hour, GetCacheTTL())
	assert.Equal(t, 24*time.Hour, GetOrphanAge())
	assert.Equal(t, 10*time.Second, GetLockTimeout())

	windows, err := GetReminderWindows()
	require.NoError(t, err)
	assert.Equal(t, models.DefaultReminderWindows(), windows)

	loc, err := GetLocation()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestReminderWindowsOverride(t *testing.T) {
	resetViper(t)
	viper.Set("reminders.lunch", "13:30")
	viper.Set("reminders.cutoff", "6h")

	windows, err := GetReminderWindows()
	require.NoError(t, err)
	require.Len(t, windows, 3)
	assert.Equal(t, 13, windows[1].Hour)
	assert.Equal(t, 30, windows[1].Minute)
	assert.Equal(t, 6*time.Hour, windows[0].CutoffOffset)

	viper.Set("reminders.dinner", "late")
	_, err = GetReminderWindows()
	assert.Error(t, err)
}

func TestInvalidTimezone(t *testing.T) {
	resetViper(t)
	viper.Set("reminders.timezone", "Mars/Olympus")

	_, err := GetLocation()
	assert.Error(t, err)
}

func TestDataDirOverride(t *testing.T) {
	resetViper(t)
	viper.Set("data.dir", "/tmp/snapsync-data")

	dir, err := GetDataDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/snapsync-data", dir)
}

func TestTokenSourceRequiresRefreshToken(t *testing.T) {
	resetViper(t)

	_, ok := TokenSource(context.Background())
	assert.False(t, ok)

	viper.Set("auth.token_url", "https://auth.example.com/token")
	viper.Set("auth.refresh_token", "r1")
	ts, ok := TokenSource(context.Background())
	assert.True(t, ok)
	assert.NotNil(t, ts)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   any
		wantErr bool
	}{
		{"defaults", "", nil, false},
		{"bad url", "server.url", "not a url", true},
		{"zero attempts", "retry.max_attempts", 0, true},
		{"zero ttl", "cache.ttl", "0s", true},
		{"unknown log level", "log.level", "chatty", true},
		{"bad reminder", "reminders.breakfast", "25:00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			if tt.key != "" {
				viper.Set(tt.key, tt.value)
			}
			err := Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

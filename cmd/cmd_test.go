package cmd

import (
	"testing"

	"github.com/pders01/snapsync/internal/config"
	"github.com/pders01/snapsync/internal/testutil"
	"github.com/spf13/viper"
)

// setupCLI points the configuration at a fake backend and a fresh data dir
func setupCLI(t *testing.T) *testutil.Backend {
	t.Helper()

	viper.Reset()
	config.SetDefaults()
	t.Cleanup(viper.Reset)

	backend := testutil.NewBackend(t)
	viper.Set("server.url", backend.URL())
	viper.Set("data.dir", t.TempDir())
	viper.Set("retry.max_attempts", 1)
	viper.Set("retry.base_delay", "1ms")
	return backend
}

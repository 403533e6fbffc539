package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alpkeskin/gotoon"
	"github.com/pders01/snapsync/internal/config"
	"github.com/pders01/snapsync/internal/engine"
	"github.com/pders01/snapsync/internal/gateway"
	"github.com/pders01/snapsync/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
)

// openEngine builds the engine from the current configuration. reg may be
// nil when the command does not expose metrics.
func openEngine(reg prometheus.Registerer) (*engine.Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dataDir, err := config.GetDataDir()
	if err != nil {
		return nil, err
	}
	loc, err := config.GetLocation()
	if err != nil {
		return nil, err
	}
	windows, err := config.GetReminderWindows()
	if err != nil {
		return nil, err
	}

	token := gateway.StaticToken(config.GetToken())
	if ts, ok := config.TokenSource(context.Background()); ok {
		token = gateway.FromTokenSource(ts, slog.Default())
	}

	e, err := engine.Open(engine.Config{
		ServerURL:   config.GetServerURL(),
		DataDir:     dataDir,
		LockTimeout: config.GetLockTimeout(),
		Token:       token,
		HTTPClient:  &http.Client{Timeout: config.GetServerTimeout()},
		Transport: transport.Config{
			BaseDelay:   config.GetBaseDelay(),
			MaxAttempts: config.GetMaxAttempts(),
		},
		CacheTTL:   config.GetCacheTTL(),
		OrphanAge:  config.GetOrphanAge(),
		Windows:    windows,
		Location:   loc,
		Registerer: reg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return e, nil
}

// userError turns a gateway failure into the message shown to the user
func userError(err error) error {
	if kind, ok := gateway.KindOf(err); ok {
		return fmt.Errorf("%s: %w", kind.UserMessage(), err)
	}
	return err
}

// printStructured writes v as JSON or toon when requested. It reports
// whether anything was written.
func printStructured(v any, asJSON, asToon bool) (bool, error) {
	if asJSON {
		output, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return true, nil
	}

	if asToon {
		output, err := gotoon.Encode(v)
		if err != nil {
			return true, fmt.Errorf("failed to encode Toon: %w", err)
		}
		fmt.Println(output)
		return true, nil
	}

	return false, nil
}

package cmd

import (
	"testing"
)

func TestNotifyToggle(t *testing.T) {
	setupCLI(t)

	if err := runNotify(nil, []string{"off"}); err != nil {
		t.Fatalf("notify off failed: %v", err)
	}
	if enabled := notificationsEnabled(t); enabled {
		t.Error("reminders still enabled after 'notify off'")
	}

	if err := runNotify(nil, []string{"on"}); err != nil {
		t.Fatalf("notify on failed: %v", err)
	}
	if enabled := notificationsEnabled(t); !enabled {
		t.Error("reminders disabled after 'notify on'")
	}

	if err := runNotify(nil, []string{}); err != nil {
		t.Fatalf("notify status failed: %v", err)
	}
	if err := runNotify(nil, []string{"maybe"}); err == nil {
		t.Error("expected error for invalid argument")
	}
}

func notificationsEnabled(t *testing.T) bool {
	t.Helper()

	e, err := openEngine(nil)
	if err != nil {
		t.Fatalf("failed to open engine: %v", err)
	}
	defer e.Close()

	enabled, err := e.State().NotificationsEnabled()
	if err != nil {
		t.Fatalf("failed to read setting: %v", err)
	}
	return enabled
}

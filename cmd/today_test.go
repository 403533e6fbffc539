package cmd

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pders01/snapsync/internal/models"
	"github.com/pders01/snapsync/internal/testutil"
)

func TestTodayFetchesAndCaches(t *testing.T) {
	backend := setupCLI(t)
	backend.Day("/today", models.DayRecords{
		Records:           testutil.Records(time.Now().UnixMilli(), 2),
		RemainingCalories: 1700,
	})

	todayJSON, todayToon, todayCached = false, false, false

	if err := runToday(nil, []string{}); err != nil {
		t.Fatalf("today command failed: %v", err)
	}
	if backend.Hits("/today") != 1 {
		t.Errorf("expected 1 request to /today, got %d", backend.Hits("/today"))
	}

	// Cached mode must not touch the server
	todayCached = true
	defer func() { todayCached = false }()

	if err := runToday(nil, []string{}); err != nil {
		t.Fatalf("today --cached failed: %v", err)
	}
	if backend.Hits("/today") != 1 {
		t.Errorf("--cached contacted the server")
	}
}

func TestTodayFallsBackToCacheWhenOffline(t *testing.T) {
	backend := setupCLI(t)
	backend.Status("/today", http.StatusServiceUnavailable)

	todayJSON, todayToon, todayCached = false, false, false

	if err := runToday(nil, []string{}); err != nil {
		t.Fatalf("today should fall back to cache when offline: %v", err)
	}
}

func TestFetchRejectsBadDate(t *testing.T) {
	setupCLI(t)

	err := runFetch(nil, []string{"2024-03-14"})
	if err == nil {
		t.Fatal("expected error for yyyy-mm-dd date")
	}
	if !strings.Contains(err.Error(), "dd-mm-yyyy") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestUploadRejectedPhoto(t *testing.T) {
	backend := setupCLI(t)
	backend.Text("/photo", "ERROR: no food detected")

	path := testutil.WriteFile(t, t.TempDir(), "meal.jpg", []byte("jpeg"))
	uploadScale, uploadTimestamp = false, 0

	err := runUpload(nil, []string{path})
	if err == nil {
		t.Fatal("expected upload to fail")
	}
	if !strings.Contains(err.Error(), "couldn't recognise any food") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestUploadScalePhoto(t *testing.T) {
	backend := setupCLI(t)
	backend.Text("/photo", "ok")
	backend.Day("/today", models.DayRecords{BodyWeightKg: 71.8})

	path := testutil.WriteFile(t, t.TempDir(), "scale.jpg", []byte("jpeg"))
	uploadScale, uploadTimestamp = true, 0
	defer func() { uploadScale = false }()

	if err := runUpload(nil, []string{path}); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	req, ok := backend.Last("/photo")
	if !ok {
		t.Fatal("photo was not uploaded")
	}
	if req.Query != "kind=scale" {
		t.Errorf("expected kind=scale, got %q", req.Query)
	}
}

func TestRecordArgumentValidation(t *testing.T) {
	setupCLI(t)

	tests := []struct {
		name string
		run  func() error
	}{
		{"delete non-numeric", func() error { return runDelete(nil, []string{"abc"}) }},
		{"portion zero grams", func() error { return runPortion(nil, []string{"1", "0"}) }},
		{"weight negative", func() error { return runWeight(nil, []string{"-3"}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

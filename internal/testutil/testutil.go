package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pders01/snapsync/internal/models"
)

// Backend is a fake sync backend serving canned answers per endpoint path
type Backend struct {
	Server *httptest.Server
	T      *testing.T

	mu       sync.Mutex
	requests []Request
	answers  map[string]http.HandlerFunc
}

// Request is one recorded call to the fake backend
type Request struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// NewBackend starts a fake backend that answers 404 until configured
func NewBackend(t *testing.T) *Backend {
	t.Helper()

	b := &Backend{T: t, answers: make(map[string]http.HandlerFunc)}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Server.Close)
	return b
}

// URL returns the backend base address
func (b *Backend) URL() string {
	return b.Server.URL
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	b.requests = append(b.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	answer, ok := b.answers[r.URL.Path]
	b.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	answer(w, r)
}

// Handle sets the answer for a path
func (b *Backend) Handle(path string, h http.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers[path] = h
}

// Text answers path with a fixed body
func (b *Backend) Text(path, body string) {
	b.Handle(path, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	})
}

// Day answers path with day encoded as JSON
func (b *Backend) Day(path string, day models.DayRecords) {
	b.Handle(path, func(w http.ResponseWriter, _ *http.Request) {
		if err := json.NewEncoder(w).Encode(day); err != nil {
			b.T.Errorf("failed to encode day: %v", err)
		}
	})
}

// Status answers path with an empty response of the given status
func (b *Backend) Status(path string, code int) {
	b.Handle(path, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	})
}

// Hits returns how many requests reached path
func (b *Backend) Hits(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, r := range b.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

// Last returns the most recent request to path
func (b *Backend) Last(path string) (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(b.requests) - 1; i >= 0; i-- {
		if b.requests[i].Path == path {
			return b.requests[i], true
		}
	}
	return Request{}, false
}

// WriteFile creates a file under dir and returns its path
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	return path
}

// Records builds n records whose timestamps end at last, one second apart,
// oldest first
func Records(last int64, n int) []models.FoodRecord {
	out := make([]models.FoodRecord, n)
	for i := 0; i < n; i++ {
		ts := last - int64(n-1-i)*1000
		out[i] = models.FoodRecord{
			ServerTimestamp: ts,
			Name:            "item",
			Calories:        100 * (i + 1),
			WeightGrams:     50 * (i + 1),
		}
	}
	return out
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/pders01/snapsync/internal/logging"
	"github.com/pders01/snapsync/internal/models"
	"github.com/pders01/snapsync/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeBackend records requests and answers per endpoint
type fakeBackend struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   map[string][]byte
	answers  map[string]func(w http.ResponseWriter)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		bodies:  map[string][]byte{},
		answers: map[string]func(w http.ResponseWriter){},
	}
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.requests = append(b.requests, r)
	b.bodies[r.URL.Path] = body
	answer, ok := b.answers[r.URL.Path]
	b.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	answer(w)
}

func (b *fakeBackend) hits(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.requests {
		if r.URL.Path == path {
			n++
		}
	}
	return n
}

func (b *fakeBackend) last(path string) *http.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.requests) - 1; i >= 0; i-- {
		if b.requests[i].URL.Path == path {
			return b.requests[i]
		}
	}
	return nil
}

func text(s string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { _, _ = io.WriteString(w, s) }
}

func jsonDay(day models.DayRecords) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { _ = json.NewEncoder(w).Encode(day) }
}

func newTestClient(t *testing.T, backend *fakeBackend, token TokenProvider, attempts int) *Client {
	t.Helper()
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	tr, err := transport.New(server.Client(), transport.Config{BaseDelay: 0, MaxAttempts: attempts},
		transport.WithLogger(logging.Discard()))
	require.NoError(t, err)

	c, err := NewClient(server.URL, tr, token, logging.Discard())
	require.NoError(t, err)
	return c
}

func sampleDay() models.DayRecords {
	return models.DayRecords{
		Records: []models.FoodRecord{
			{ServerTimestamp: 100, Name: "oats", Calories: 300, WeightGrams: 80},
			{ServerTimestamp: 200, Name: "apple", Calories: 95, WeightGrams: 180},
		},
		RemainingCalories: 1605,
		BodyWeightKg:      71.5,
	}
}

func TestNewClientValidation(t *testing.T) {
	tr, err := transport.New(nil, transport.DefaultConfig())
	require.NoError(t, err)

	_, err = NewClient("not a url", tr, nil, nil)
	assert.Error(t, err)

	_, err = NewClient("http://localhost:9000", nil, nil, nil)
	assert.Error(t, err)

	c, err := NewClient("", tr, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultURL, c.BaseURL())
}

func TestFetchTodayAttachesBearerToken(t *testing.T) {
	backend := newFakeBackend()
	backend.answers[EndpointToday] = jsonDay(sampleDay())
	c := newTestClient(t, backend, StaticToken("secret"), 1)

	day, err := c.FetchToday(context.Background())
	require.NoError(t, err)
	assert.Len(t, day.Records, 2)
	assert.Equal(t, 1605, day.RemainingCalories)

	req := backend.last(EndpointToday)
	require.NotNil(t, req)
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
	assert.NotEmpty(t, req.Header.Get("X-Request-ID"))
}

func TestMissingTokenStillSendsRequest(t *testing.T) {
	backend := newFakeBackend()
	backend.answers[EndpointToday] = jsonDay(sampleDay())
	c := newTestClient(t, backend, StaticToken(""), 1)

	_, err := c.FetchToday(context.Background())
	require.NoError(t, err)
	assert.Empty(t, backend.last(EndpointToday).Header.Get("Authorization"))
}

func TestFromTokenSource(t *testing.T) {
	provider := FromTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "abc"}), logging.Discard())
	assert.Equal(t, "abc", provider(context.Background()))

	empty := FromTokenSource(oauth2.StaticTokenSource(&oauth2.Token{}), logging.Discard())
	assert.Equal(t, "", empty(context.Background()))

	assert.Equal(t, "", FromTokenSource(nil, nil)(context.Background()))
}

func TestUploadPhotoRefetchesToday(t *testing.T) {
	backend := newFakeBackend()
	backend.answers[EndpointPhoto] = text(`{"status":"ok"}`)
	backend.answers[EndpointToday] = jsonDay(sampleDay())
	c := newTestClient(t, backend, nil, 1)

	day, err := c.UploadPhoto(context.Background(), []byte("jpeg"), 1700000000123, models.KindFood)
	require.NoError(t, err)
	assert.Len(t, day.Records, 2)
	assert.Equal(t, 1, backend.hits(EndpointToday))

	req := backend.last(EndpointPhoto)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, ContentType, req.Header.Get("Content-Type"))
	assert.Equal(t, "1700000000123", req.Header.Get("X-Capture-Timestamp"))
	assert.Equal(t, "food", req.URL.Query().Get("kind"))
	assert.Equal(t, []byte("jpeg"), backend.bodies[EndpointPhoto])
}

func TestUploadPhotoDomainRejection(t *testing.T) {
	tests := []struct {
		name     string
		kind     models.CaptureKind
		response string
		want     FailureKind
	}{
		{name: "food photo", kind: models.KindFood, response: "Error: no food detected", want: KindNotAFood},
		{name: "scale photo", kind: models.KindScale, response: "INVALID reading", want: KindScaleError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			backend.answers[EndpointPhoto] = text(tt.response)
			c := newTestClient(t, backend, nil, 1)

			_, err := c.UploadPhoto(context.Background(), []byte("img"), 1, tt.kind)
			require.Error(t, err)

			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, kind)
			assert.Equal(t, 0, backend.hits(EndpointToday))
		})
	}
}

func TestUploadPhotoRejectsEmptyImage(t *testing.T) {
	c := newTestClient(t, newFakeBackend(), nil, 1)
	_, err := c.UploadPhoto(context.Background(), nil, 1, models.KindFood)
	assert.Error(t, err)
}

func TestNetworkExhausted(t *testing.T) {
	backend := newFakeBackend()
	backend.answers[EndpointToday] = func(w http.ResponseWriter) { w.WriteHeader(http.StatusServiceUnavailable) }
	c := newTestClient(t, backend, nil, 3)

	_, err := c.FetchToday(context.Background())
	require.Error(t, err)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindNetworkExhausted, kind)
	assert.Equal(t, 3, backend.hits(EndpointToday))

	var tf *transport.Failure
	require.True(t, errors.As(err, &tf))
	assert.True(t, tf.Exhausted)
	assert.Equal(t, http.StatusServiceUnavailable, tf.StatusCode)
}

func TestCancelledIsNotExhausted(t *testing.T) {
	backend := newFakeBackend()
	backend.answers[EndpointToday] = jsonDay(sampleDay())
	c := newTestClient(t, backend, nil, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchToday(ctx)
	require.Error(t, err)

	_, ok := KindOf(err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, backend.hits(EndpointToday))
}

func TestSubmitWeightScaleError(t *testing.T) {
	backend := newFakeBackend()
	backend.answers[EndpointManualWeight] = text("invalid weight")
	c := newTestClient(t, backend, nil, 1)

	err := c.SubmitWeight(context.Background(), 72.4)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindScaleError, kind)
	assert.Equal(t, KindScaleError.UserMessage(), "couldn't read the scale")
}

func TestCommandsSendStructuredBodies(t *testing.T) {
	backend := newFakeBackend()
	backend.answers[EndpointDelete] = text("ok")
	backend.answers[EndpointModifyPortion] = text("ok")
	c := newTestClient(t, backend, nil, 1)

	require.NoError(t, c.Delete(context.Background(), 200))
	require.NoError(t, c.ModifyPortion(context.Background(), 200, 150))

	var del map[string]int64
	require.NoError(t, json.Unmarshal(backend.bodies[EndpointDelete], &del))
	assert.Equal(t, int64(200), del["id"])

	var mod map[string]int
	require.NoError(t, json.Unmarshal(backend.bodies[EndpointModifyPortion], &mod))
	assert.Equal(t, 150, mod["weight"])

	assert.Error(t, c.ModifyPortion(context.Background(), 200, 0))
}

func TestFetchForDateFillsKey(t *testing.T) {
	backend := newFakeBackend()
	backend.answers[EndpointStatistics] = jsonDay(sampleDay())
	c := newTestClient(t, backend, nil, 1)

	day, err := c.FetchForDate(context.Background(), "15-03-2024")
	require.NoError(t, err)
	assert.Equal(t, "15-03-2024", day.DateKey)

	var req map[string]string
	require.NoError(t, json.Unmarshal(backend.bodies[EndpointStatistics], &req))
	assert.Equal(t, "15-03-2024", req["date"])
}

func TestRecommendation(t *testing.T) {
	backend := newFakeBackend()
	backend.answers[EndpointRecommendation] = text("  Eat more greens.\n")
	c := newTestClient(t, backend, nil, 1)

	got, err := c.Recommendation(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Eat more greens.", got)

	_, err = c.Recommendation(context.Background(), 0)
	assert.Error(t, err)
}

func TestIsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	assert.True(t, IsAvailable(server.URL))
	assert.False(t, IsAvailable("http://localhost:99999"))
}

func TestContainsErrorMarker(t *testing.T) {
	assert.True(t, containsErrorMarker("ERROR"))
	assert.True(t, containsErrorMarker("image invalid"))
	assert.False(t, containsErrorMarker(`{"status":"ok"}`))
	// known false positive: a food literally named after a marker
	assert.True(t, containsErrorMarker(`{"name":"error cake"}`))
}

// Package gateway exposes the nutrition backend's operations as typed Go
// calls on top of the retrying transport.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pders01/snapsync/internal/logging"
	"github.com/pders01/snapsync/internal/models"
	"github.com/pders01/snapsync/internal/transport"
	"golang.org/x/oauth2"
)

const (
	// DefaultURL is the default backend address
	DefaultURL = "http://localhost:8080"

	// ContentType is sent with every request body
	ContentType = "application/octet-stream"

	EndpointToday          = "/today"
	EndpointPhoto          = "/photo"
	EndpointDelete         = "/delete"
	EndpointRecommendation = "/recommendation"
	EndpointModifyPortion  = "/modify-portion"
	EndpointManualWeight   = "/manual-weight"
	EndpointStatistics     = "/statistics-for-date"

	maxResponseBody = 8 << 20
)

// TokenProvider returns the current bearer token, or "" when signed out
type TokenProvider func(ctx context.Context) string

// StaticToken always returns token
func StaticToken(token string) TokenProvider {
	return func(context.Context) string { return token }
}

// FromTokenSource adapts an oauth2 token source. Errors and invalid tokens
// yield no token; the request then goes out unauthenticated.
func FromTokenSource(ts oauth2.TokenSource, logger *slog.Logger) TokenProvider {
	logger = logging.OrDefault(logger)
	return func(context.Context) string {
		if ts == nil {
			return ""
		}
		tok, err := ts.Token()
		if err != nil {
			logger.Warn("token source failed, sending unauthenticated", "error", err)
			return ""
		}
		if !tok.Valid() {
			return ""
		}
		return tok.AccessToken
	}
}

// Sender delivers a request with retry
type Sender interface {
	Send(ctx context.Context, req transport.Request) transport.Result
}

// Client wraps the remote backend
type Client struct {
	baseURL string
	sender  Sender
	token   TokenProvider
	logger  *slog.Logger
}

// NewClient creates a gateway client
func NewClient(baseURL string, sender Sender, token TokenProvider, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}
	if token == nil {
		token = StaticToken("")
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		sender:  sender,
		token:   token,
		logger:  logging.OrDefault(logger),
	}, nil
}

// BaseURL returns the backend address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IsAvailable checks if the backend answers at all
func IsAvailable(baseURL string) bool {
	if baseURL == "" {
		baseURL = DefaultURL
	}

	client := &http.Client{
		Timeout: 2 * time.Second,
	}

	resp, err := client.Get(strings.TrimRight(baseURL, "/") + EndpointToday)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}

// FetchToday returns today's records, remaining calories and weight
func (c *Client) FetchToday(ctx context.Context) (models.DayRecords, error) {
	text, err := c.call(ctx, http.MethodGet, EndpointToday, nil, nil, nil)
	if err != nil {
		return models.DayRecords{}, err
	}
	return decodeDay(EndpointToday, text)
}

// FetchForDate returns the records of one day identified by a dd-mm-yyyy key
func (c *Client) FetchForDate(ctx context.Context, dateKey string) (models.DayRecords, error) {
	body, err := json.Marshal(map[string]string{"date": dateKey})
	if err != nil {
		return models.DayRecords{}, fmt.Errorf("encode date request: %w", err)
	}
	text, err := c.call(ctx, http.MethodPost, EndpointStatistics, nil, nil, body)
	if err != nil {
		return models.DayRecords{}, err
	}
	day, err := decodeDay(EndpointStatistics, text)
	if err != nil {
		return models.DayRecords{}, err
	}
	if day.DateKey == "" {
		day.DateKey = dateKey
	}
	return day, nil
}

// UploadPhoto sends a captured image. On success the day's records are
// fetched again so the caller can reconcile the capture.
func (c *Client) UploadPhoto(ctx context.Context, image []byte, captureTimestamp int64, kind models.CaptureKind) (models.DayRecords, error) {
	if len(image) == 0 {
		return models.DayRecords{}, fmt.Errorf("image cannot be empty")
	}
	if kind == "" {
		kind = models.KindFood
	}

	query := url.Values{"kind": {string(kind)}}
	header := http.Header{"X-Capture-Timestamp": {strconv.FormatInt(captureTimestamp, 10)}}

	text, err := c.call(ctx, http.MethodPost, EndpointPhoto, query, header, image)
	if err != nil {
		return models.DayRecords{}, err
	}
	if containsErrorMarker(text) {
		return models.DayRecords{}, &Failure{
			Kind:     rejectionKind(EndpointPhoto, kind),
			Endpoint: EndpointPhoto,
			Message:  text,
		}
	}

	return c.FetchToday(ctx)
}

// Delete removes a record
func (c *Client) Delete(ctx context.Context, recordID int64) error {
	return c.command(ctx, EndpointDelete, map[string]any{"id": recordID})
}

// ModifyPortion changes the recorded weight of a record
func (c *Client) ModifyPortion(ctx context.Context, recordID int64, grams int) error {
	if grams <= 0 {
		return fmt.Errorf("portion must be positive, got %d", grams)
	}
	return c.command(ctx, EndpointModifyPortion, map[string]any{"id": recordID, "weight": grams})
}

// SubmitWeight records a body weight reading without a photo
func (c *Client) SubmitWeight(ctx context.Context, kilograms float64) error {
	if kilograms <= 0 {
		return fmt.Errorf("weight must be positive, got %v", kilograms)
	}
	return c.command(ctx, EndpointManualWeight, map[string]any{"weight": kilograms})
}

// Recommendation asks for a text recommendation covering the last days
func (c *Client) Recommendation(ctx context.Context, days int) (string, error) {
	if days < 1 {
		return "", fmt.Errorf("days must be at least 1, got %d", days)
	}
	body, err := json.Marshal(map[string]int{"days": days})
	if err != nil {
		return "", fmt.Errorf("encode recommendation request: %w", err)
	}
	text, err := c.call(ctx, http.MethodPost, EndpointRecommendation, nil, nil, body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// command posts a small structured body and applies the error-marker check
func (c *Client) command(ctx context.Context, endpoint string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", endpoint, err)
	}
	text, err := c.call(ctx, http.MethodPost, endpoint, nil, nil, body)
	if err != nil {
		return err
	}
	if containsErrorMarker(text) {
		return &Failure{
			Kind:     rejectionKind(endpoint, ""),
			Endpoint: endpoint,
			Message:  text,
		}
	}
	return nil
}

// call sends one request through the transport and returns the body text
func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, header http.Header, body []byte) (string, error) {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	h := http.Header{}
	for k, vs := range header {
		h[k] = append([]string(nil), vs...)
	}
	h.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		h.Set("Content-Type", ContentType)
	}
	if tok := c.token(ctx); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}

	res := c.sender.Send(ctx, transport.Request{
		Method:   method,
		URL:      target,
		Header:   h,
		Body:     body,
		Endpoint: endpoint,
	})
	if !res.OK() {
		if transport.IsCancelled(res.Failure) {
			return "", fmt.Errorf("%s: %w", endpoint, res.Failure.Err)
		}
		f := &Failure{Kind: KindNetworkExhausted, Endpoint: endpoint}
		if res.Failure != nil {
			f.StatusCode = res.Failure.StatusCode
			f.Err = res.Failure
		}
		return "", f
	}
	defer res.Response.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Response.Body, maxResponseBody))
	if err != nil {
		return "", &Failure{Kind: KindNetworkExhausted, Endpoint: endpoint, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("request completed",
		"endpoint", endpoint,
		"attempts", res.Attempts,
		"bytes", len(data),
	)
	return string(data), nil
}

func decodeDay(endpoint, text string) (models.DayRecords, error) {
	var day models.DayRecords
	if err := json.Unmarshal([]byte(text), &day); err != nil {
		return models.DayRecords{}, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return day, nil
}

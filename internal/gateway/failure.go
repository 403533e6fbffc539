package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pders01/snapsync/internal/models"
)

// FailureKind classifies why a remote operation did not succeed
type FailureKind string

const (
	// KindNotAFood means the server did not recognise the photo as food
	KindNotAFood FailureKind = "NOT_A_FOOD"
	// KindScaleError means the server could not read a scale value
	KindScaleError FailureKind = "SCALE_ERROR"
	// KindNetworkExhausted means every transport attempt failed
	KindNetworkExhausted FailureKind = "NETWORK_EXHAUSTED"
)

// UserMessage returns the text shown to the user for this kind
func (k FailureKind) UserMessage() string {
	switch k {
	case KindNotAFood:
		return "couldn't recognise any food in that photo"
	case KindScaleError:
		return "couldn't read the scale"
	case KindNetworkExhausted:
		return "couldn't reach server, showing cached data"
	default:
		return "something went wrong"
	}
}

// Failure is the typed error returned by every Client operation
type Failure struct {
	Kind       FailureKind
	Endpoint   string
	StatusCode int
	Message    string // response text that triggered a domain rejection
	Err        error
}

func (f *Failure) Error() string {
	switch {
	case f.Err != nil:
		return fmt.Sprintf("%s %s: %v", f.Endpoint, f.Kind, f.Err)
	case f.Message != "":
		return fmt.Sprintf("%s %s: %s", f.Endpoint, f.Kind, truncate(f.Message, 120))
	default:
		return fmt.Sprintf("%s %s", f.Endpoint, f.Kind)
	}
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf extracts the failure kind from err
func KindOf(err error) (FailureKind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

// errorMarkers are matched case-insensitively against response text.
// A payload that merely mentions one of these words is misread as a failure;
// the backend has no structured error code to use instead.
var errorMarkers = []string{"error", "invalid"}

func containsErrorMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range errorMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// rejectionKind picks the domain failure for an endpoint
func rejectionKind(endpoint string, kind models.CaptureKind) FailureKind {
	switch {
	case endpoint == EndpointManualWeight:
		return KindScaleError
	case endpoint == EndpointPhoto && kind == models.KindScale:
		return KindScaleError
	default:
		return KindNotAFood
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

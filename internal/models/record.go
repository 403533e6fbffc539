package models

// FoodRecord is the server-confirmed record of one logged food item.
// The client only ever holds a read-only copy.
type FoodRecord struct {
	ServerTimestamp int64    `json:"timestamp"` // also the record identifier
	Name            string   `json:"name"`
	Calories        int      `json:"calories"`
	WeightGrams     int      `json:"weight"`
	Ingredients     []string `json:"ingredients,omitempty"`
}

// ID returns the server-assigned identifier of the record
func (r FoodRecord) ID() int64 {
	return r.ServerTimestamp
}

// DayRecords is the payload of the today and statistics-for-date endpoints
type DayRecords struct {
	DateKey           string       `json:"date,omitempty"`
	Records           []FoodRecord `json:"records"`
	RemainingCalories int          `json:"remaining_calories"`
	BodyWeightKg      float64      `json:"body_weight,omitempty"`
}

// Newest returns the record with the greatest server timestamp.
// ok is false when there are no records.
func Newest(records []FoodRecord) (newest FoodRecord, ok bool) {
	for i, r := range records {
		if i == 0 || r.ServerTimestamp > newest.ServerTimestamp {
			newest = r
			ok = true
		}
	}
	return newest, ok
}

// CaptureKind tells the server what a photo shows
type CaptureKind string

const (
	KindFood  CaptureKind = "food"
	KindScale CaptureKind = "scale"
)

// CaptureState is the lifecycle state of a locally captured photo
type CaptureState string

const (
	CapturePending    CaptureState = "pending"
	CaptureReconciled CaptureState = "reconciled"
	CaptureOrphaned   CaptureState = "orphaned"
)

// PendingCapture describes a photo captured on this device. The image bytes
// live in the image store; this is the bookkeeping that travels with them.
type PendingCapture struct {
	CaptureTimestamp int64        `json:"capture_timestamp"`
	State            CaptureState `json:"state"`
	StoredAt         int64        `json:"stored_at"`
	RecordID         int64        `json:"record_id,omitempty"`
	Size             int          `json:"size"`
}

package models

import "time"

// DeliveryStatus is the outbound webhook state of a persisted event.
type DeliveryStatus string

const (
	DeliveryPending      DeliveryStatus = "pending"
	DeliverySuccess      DeliveryStatus = "success"
	DeliveryFailed       DeliveryStatus = "failed"
	DeliverySkipped      DeliveryStatus = "skipped"
	DeliverySkippedNoAPI DeliveryStatus = "skipped_no_api"
)

// SyncOrigin tells whether an event was observed close to its occurrence.
type SyncOrigin string

const (
	OriginRealtime SyncOrigin = "realtime"
	OriginCatchUp  SyncOrigin = "catch-up"
)

// Sentinel values stored when a terminal event carries no usable timestamp.
const (
	SentinelDate = "0000-00-00"
	SentinelTime = "00:00:00"
)

// Layouts for the stored calendar date and time-of-day columns.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Event is one terminal-reported occurrence persisted for audit and delivery.
type Event struct {
	ID               int64          `json:"id"`
	DeviceName       string         `json:"device_name"`
	Seq              int64          `json:"seq"`
	SubjectID        *int64         `json:"subject_id,omitempty"`
	SubjectName      string         `json:"subject_name"`
	Date             string         `json:"date"`
	Time             string         `json:"time"`
	Description      string         `json:"description"`
	PictureURL       string         `json:"picture_url,omitempty"`
	LocalImagePath   string         `json:"local_image_path,omitempty"`
	Origin           SyncOrigin     `json:"origin"`
	DeliveryStatus   DeliveryStatus `json:"delivery_status"`
	DeliveryAttempts int            `json:"delivery_attempts"`
	CreatedAt        time.Time      `json:"created_at"`
}

// OccurredAt parses the stored date and time in loc. It returns false for
// sentinel or malformed values.
func (e Event) OccurredAt(loc *time.Location) (time.Time, bool) {
	if e.Date == SentinelDate {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, e.Date+" "+e.Time, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

package testutil

import (
	"time"

	"github.com/HerbHall/gatesync/pkg/models"
)

// NewDevice returns an active device with credentials and a webhook.
// Override fields with options.
func NewDevice(opts ...func(*models.Device)) models.Device {
	d := models.Device{
		Address:    "192.168.1.100",
		Name:       "Gate-A",
		Location:   "Main entrance",
		WebhookURL: "http://webhook.invalid/events",
		Username:   "admin",
		Password:   "secret",
		Active:     true,
		Status:     models.DeviceStatusOnline,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithAddress sets the device address.
func WithAddress(addr string) func(*models.Device) {
	return func(d *models.Device) { d.Address = addr }
}

// WithName sets the device display name.
func WithName(name string) func(*models.Device) {
	return func(d *models.Device) { d.Name = name }
}

// WithWebhook sets the delivery target; empty disables delivery.
func WithWebhook(url string) func(*models.Device) {
	return func(d *models.Device) { d.WebhookURL = url }
}

// WithStatus sets the device status.
func WithStatus(s models.DeviceStatus) func(*models.Device) {
	return func(d *models.Device) { d.Status = s }
}

// WithCursor sets the last-sync cursor.
func WithCursor(t time.Time) func(*models.Device) {
	return func(d *models.Device) { d.LastSync = &t }
}

// Inactive marks the device inactive.
func Inactive() func(*models.Device) {
	return func(d *models.Device) { d.Active = false }
}

// NewEvent returns a pending "Face Recognized" event for Gate-A.
func NewEvent(seq int64, opts ...func(*models.Event)) models.Event {
	subject := int64(1001)
	e := models.Event{
		DeviceName:     "Gate-A",
		Seq:            seq,
		SubjectID:      &subject,
		SubjectName:    "Budi",
		Date:           "2025-01-01",
		Time:           "08:00:00",
		Description:    "Face Recognized",
		Origin:         models.OriginRealtime,
		DeliveryStatus: models.DeliveryPending,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// WithDate sets the event's calendar date.
func WithDate(date string) func(*models.Event) {
	return func(e *models.Event) { e.Date = date }
}

// WithDelivery sets the delivery status and attempt count.
func WithDelivery(s models.DeliveryStatus, attempts int) func(*models.Event) {
	return func(e *models.Event) {
		e.DeliveryStatus = s
		e.DeliveryAttempts = attempts
	}
}

// WithImage sets the local snapshot path.
func WithImage(path string) func(*models.Event) {
	return func(e *models.Event) { e.LocalImagePath = path }
}

// OnDevice sets the owning device name.
func OnDevice(name string) func(*models.Event) {
	return func(e *models.Event) { e.DeviceName = name }
}

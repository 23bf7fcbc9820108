// Package ingest turns raw terminal events into persisted rows: it
// classifies them, fetches the snapshot of eligible ones and assigns the
// initial delivery status.
package ingest

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/gatesync/internal/eventlog"
	"github.com/HerbHall/gatesync/internal/metrics"
	"github.com/HerbHall/gatesync/internal/retry"
	"github.com/HerbHall/gatesync/internal/services"
	"github.com/HerbHall/gatesync/internal/snapshot"
	"github.com/HerbHall/gatesync/internal/terminal"
	"github.com/HerbHall/gatesync/pkg/models"
)

// SnapshotFetcher downloads an event image from its terminal.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, pictureURL string) ([]byte, error)
}

// Outcome reports what Ingest did with one raw event.
type Outcome struct {
	// Inserted is false when the event was already stored.
	Inserted bool
	Event    models.Event
	// OccurredAt is the parsed event time; zero for undated events.
	OccurredAt time.Time
}

// Ingestor persists raw events exactly once per (device, sequence).
type Ingestor struct {
	events    services.EventRepository
	snapshots *snapshot.Store
	tunables  *services.Tunables
	logs      *eventlog.Logs
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithClock overrides the wall clock used for origin classification.
func WithClock(now func() time.Time) Option {
	return func(in *Ingestor) { in.now = now }
}

// WithEventLogs writes one clean log line per stored event.
func WithEventLogs(l *eventlog.Logs) Option {
	return func(in *Ingestor) { in.logs = l }
}

// WithMetrics records ingestion counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(in *Ingestor) { in.metrics = m }
}

// New creates an Ingestor.
func New(events services.EventRepository, snapshots *snapshot.Store, tunables *services.Tunables, logger *zap.Logger, opts ...Option) *Ingestor {
	in := &Ingestor{
		events:    events,
		snapshots: snapshots,
		tunables:  tunables,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Ingest stores raw as an event of device. A duplicate is reported through
// Outcome.Inserted and is not an error. fetcher downloads the snapshot of
// eligible events.
func (in *Ingestor) Ingest(ctx context.Context, device models.Device, fetcher SnapshotFetcher, raw terminal.RawEvent) (Outcome, error) {
	label := device.Label()

	exists, err := in.events.Exists(ctx, label, raw.SerialNo)
	if err != nil {
		return Outcome{}, err
	}
	if exists {
		in.metrics.Duplicate()
		return Outcome{}, nil
	}

	_, loc := in.tunables.DeviceTimezone(ctx)
	occurred, dated := ParseEventTime(raw.Time, loc)

	class := Classify(raw.Major, raw.Minor)
	ev := models.Event{
		DeviceName:  label,
		Seq:         raw.SerialNo,
		SubjectID:   parseSubject(raw.EmployeeNoString),
		SubjectName: subjectName(raw.Name),
		Date:        models.SentinelDate,
		Time:        models.SentinelTime,
		Description: class.Description,
		PictureURL:  raw.PictureURL,
		Origin:      models.OriginCatchUp,
	}
	if dated {
		ev.Date = occurred.Format(models.DateLayout)
		ev.Time = occurred.Format(models.TimeLayout)
		tolerance := in.tunables.Seconds(ctx, services.KeyRealtimeTolerance)
		if age := in.now().Sub(occurred).Abs(); age <= tolerance {
			ev.Origin = models.OriginRealtime
		}
	}

	imageOK := false
	if class.Eligible {
		imageOK = in.acquireSnapshot(ctx, fetcher, &ev, dated)
	}

	switch {
	case !class.Eligible:
		ev.DeliveryStatus = models.DeliverySkipped
	case !device.HasWebhook():
		ev.DeliveryStatus = models.DeliverySkippedNoAPI
	case ev.SubjectID == nil:
		ev.DeliveryStatus = models.DeliverySkipped
	case !imageOK:
		ev.DeliveryStatus = models.DeliveryFailed
	default:
		ev.DeliveryStatus = models.DeliveryPending
	}

	inserted, err := in.events.Insert(ctx, &ev)
	if err != nil {
		return Outcome{}, err
	}
	if !inserted {
		in.metrics.Duplicate()
		return Outcome{}, nil
	}

	in.metrics.Ingested(string(ev.DeliveryStatus))
	if in.logs != nil {
		in.logs.Device(label).Info("event stored",
			zap.Int64("seq", ev.Seq),
			zap.String("subject", ev.SubjectName),
			zap.String("description", ev.Description),
			zap.String("at", ev.Date+" "+ev.Time),
			zap.String("origin", string(ev.Origin)),
			zap.String("delivery_status", string(ev.DeliveryStatus)),
		)
	}

	out := Outcome{Inserted: true, Event: ev}
	if dated {
		out.OccurredAt = occurred
	}
	return out, nil
}

// acquireSnapshot downloads and stores the event image, with the configured
// retry policy. It sets ev.LocalImagePath on success.
func (in *Ingestor) acquireSnapshot(ctx context.Context, fetcher SnapshotFetcher, ev *models.Event, dated bool) bool {
	log := in.logger.With(zap.String("device", ev.DeviceName), zap.Int64("seq", ev.Seq))
	if fetcher == nil || strings.TrimSpace(ev.PictureURL) == "" {
		log.Warn("eligible event has no snapshot to download")
		return false
	}

	policy := retry.Fixed(
		in.tunables.Int(ctx, services.KeySnapshotRetries),
		in.tunables.Millis(ctx, services.KeySnapshotRetryDelay),
	)
	data, err := retry.Do(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return fetcher.FetchSnapshot(ctx, ev.PictureURL)
	})
	if err != nil {
		log.Warn("snapshot download failed", zap.Error(err))
		return false
	}

	date := ""
	if dated {
		date = ev.Date
	}
	rel := snapshot.RelPath(ev.DeviceName, date, ev.SubjectName, ev.Seq)
	if err := in.snapshots.Save(rel, data); err != nil {
		log.Error("snapshot save failed", zap.Error(err))
		return false
	}
	ev.LocalImagePath = rel
	return true
}

// ParseEventTime reads the first 19 characters of a terminal timestamp as
// local time in loc. Any zone suffix the terminal appends is ignored.
func ParseEventTime(s string, loc *time.Location) (time.Time, bool) {
	if len(s) < len(terminal.TimeLayout) {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(terminal.TimeLayout, s[:len(terminal.TimeLayout)], loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseSubject(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func subjectName(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

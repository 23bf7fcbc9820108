// Package poller fetches access events from every reachable terminal,
// catching up on missed time in bounded chunks, and hands them to the
// ingestor in sequence order while advancing each device's sync cursor.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HerbHall/gatesync/internal/eventlog"
	"github.com/HerbHall/gatesync/internal/fleet"
	"github.com/HerbHall/gatesync/internal/ingest"
	"github.com/HerbHall/gatesync/internal/metrics"
	"github.com/HerbHall/gatesync/internal/schedule"
	"github.com/HerbHall/gatesync/internal/services"
	"github.com/HerbHall/gatesync/internal/terminal"
	"github.com/HerbHall/gatesync/pkg/models"
	"github.com/HerbHall/gatesync/pkg/plugin"
)

// Source is the device API the poller consumes.
type Source interface {
	SearchEvents(ctx context.Context, w terminal.Window, pageSize int) ([]terminal.RawEvent, error)
	ingest.SnapshotFetcher
}

// SourceFactory builds a Source for one device.
type SourceFactory func(d models.Device, timeout time.Duration) Source

// Deps are the collaborators the poller needs.
type Deps struct {
	Devices   services.DeviceRepository
	Fleet     *fleet.State
	Ingestor  *ingest.Ingestor
	Tunables  *services.Tunables
	EventLogs *eventlog.Logs
	Metrics   *metrics.Metrics
}

// Poller is the event polling plugin.
type Poller struct {
	devices   services.DeviceRepository
	fleet     *fleet.State
	ingestor  *ingest.Ingestor
	tunables  *services.Tunables
	logs      *eventlog.Logs
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
	newSource SourceFactory
	loop      *schedule.Loop
}

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Poller)(nil)
	_ plugin.HealthChecker = (*Poller)(nil)
)

// Option configures a Poller.
type Option func(*Poller)

// WithClock overrides the wall clock that closes each fetch window.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// WithSourceFactory replaces the terminal HTTP client.
func WithSourceFactory(f SourceFactory) Option {
	return func(p *Poller) { p.newSource = f }
}

// New creates the poller.
func New(deps Deps, opts ...Option) *Poller {
	p := &Poller{
		devices:  deps.Devices,
		fleet:    deps.Fleet,
		ingestor: deps.Ingestor,
		tunables: deps.Tunables,
		logs:     deps.EventLogs,
		metrics:  deps.Metrics,
		logger:   zap.NewNop(),
		now:      time.Now,
		newSource: func(d models.Device, timeout time.Duration) Source {
			return terminal.New(d, timeout)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) Info() plugin.Info {
	return plugin.Info{
		Name:        "poller",
		Version:     "0.1.0",
		Description: "Fetches access events from terminals and advances sync cursors",
	}
}

func (p *Poller) Init(_ *viper.Viper, logger *zap.Logger) error {
	p.logger = logger
	return nil
}

func (p *Poller) Start(ctx context.Context) error {
	p.loop = schedule.New("poller", func(ctx context.Context) time.Duration {
		return p.tunables.Seconds(ctx, services.KeyPollInterval)
	}, p.RunCycle, p.logger, p.metrics)
	p.loop.Start(ctx)
	return nil
}

func (p *Poller) Stop() error {
	if p.loop != nil {
		p.loop.Stop()
	}
	return nil
}

// Health reports the number of tracked devices.
func (p *Poller) Health(_ context.Context) plugin.HealthStatus {
	return plugin.HealthStatus{
		Status:  "ok",
		Details: map[string]string{"tracked_devices": fmt.Sprint(len(p.fleet.Snapshot()))},
	}
}

// RunCycle polls every active device in parallel. One device's failure
// never affects another.
func (p *Poller) RunCycle(ctx context.Context) {
	devices, err := p.devices.ListActive(ctx)
	if err != nil {
		p.logger.Error("list active devices", zap.Error(err))
		return
	}
	if len(devices) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(len(devices))
	for _, d := range devices {
		g.Go(func() error {
			if !d.HasCredentials() {
				p.logger.Warn("device has no API credentials, skipping", zap.String("device", d.Label()))
				return nil
			}
			if p.fleet.Suspended(d.Address) {
				p.logger.Debug("device suspended, skipping poll", zap.String("device", d.Label()))
				return nil
			}
			if err := p.PollDevice(ctx, d); err != nil {
				p.logger.Warn("poll failed", zap.String("device", d.Label()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// PollDevice fetches [cursor, now) from one device, ingests the events in
// sequence order and advances the cursor to the newest processed event.
// A fetch error leaves the cursor untouched.
func (p *Poller) PollDevice(ctx context.Context, device models.Device) error {
	now := p.now()
	start := now.Add(-p.tunables.Hours(ctx, services.KeyInitialLookback))
	if device.LastSync != nil {
		start = *device.LastSync
	}
	if !start.Before(now) {
		return nil
	}

	spans := []Span{{Start: start, End: now}}
	if gap := now.Sub(start); gap > p.tunables.Seconds(ctx, services.KeyCatchUpThreshold) {
		spans = SplitWindow(start, now, p.tunables.Minutes(ctx, services.KeyCatchUpChunk))
		p.logger.Info("catching up",
			zap.String("device", device.Label()),
			zap.Duration("gap", gap),
			zap.Int("chunks", len(spans)),
		)
	}

	src := p.newSource(device, p.tunables.Seconds(ctx, services.KeyRequestTimeout))
	suffix, loc := p.tunables.DeviceTimezone(ctx)
	pageSize := p.tunables.Int(ctx, services.KeyEventPageSize)

	var raws []terminal.RawEvent
	for _, span := range spans {
		w := terminal.Window{Start: span.Start, End: span.End, Location: loc, Suffix: suffix}
		events, err := p.fetch(ctx, src, w, pageSize)
		if err != nil {
			p.metrics.Poll(false, 0)
			p.pollFailed(ctx, device)
			return fmt.Errorf("fetch events %s..%s: %w", w.Format(span.Start), w.Format(span.End), err)
		}
		raws = append(raws, events...)
	}
	p.metrics.Poll(true, len(raws))
	p.pollSucceeded(ctx, device)

	return p.process(ctx, device, src, loc, now, raws)
}

// fetch searches one window. Some terminals reject zone-qualified
// timestamps with a 4xx, so a client error is retried once with naive ones.
func (p *Poller) fetch(ctx context.Context, src Source, w terminal.Window, pageSize int) ([]terminal.RawEvent, error) {
	events, err := src.SearchEvents(ctx, w, pageSize)
	if err == nil || w.Suffix == "" || !terminal.IsClientError(err) {
		return events, err
	}
	p.logger.Debug("retrying window without zone suffix", zap.Error(err))
	w.Suffix = ""
	return src.SearchEvents(ctx, w, pageSize)
}

func (p *Poller) process(ctx context.Context, device models.Device, src Source, loc *time.Location, windowEnd time.Time, raws []terminal.RawEvent) error {
	sort.SliceStable(raws, func(i, j int) bool { return raws[i].SerialNo < raws[j].SerialNo })

	label := device.Label()
	lastSeen := p.fleet.LastSeen(device.Address)
	var (
		seen     = lastSeen
		cursor   time.Time
		failedAt time.Time
		blocked  bool
		errs     []error
	)
	for _, raw := range raws {
		if p.logs != nil {
			if err := p.logs.Raw(label, raw); err != nil {
				p.logger.Warn("write raw event log", zap.String("device", label), zap.Error(err))
			}
		}
		if raw.SerialNo <= lastSeen {
			continue
		}
		t, dated := ingest.ParseEventTime(raw.Time, loc)
		if _, err := p.ingestor.Ingest(ctx, device, src, raw); err != nil {
			errs = append(errs, fmt.Errorf("ingest seq %d: %w", raw.SerialNo, err))
			// Later events still go in; the failed one must be fetched again.
			blocked = true
			if dated && (failedAt.IsZero() || t.Before(failedAt)) {
				failedAt = t
			}
			continue
		}
		if !blocked {
			seen = raw.SerialNo
		}
		if dated && t.After(cursor) {
			cursor = t
		}
	}

	// The next window must still contain every event that failed.
	if !failedAt.IsZero() && failedAt.Before(cursor) {
		cursor = failedAt
	}
	if cursor.After(windowEnd) {
		cursor = windowEnd
	}

	p.fleet.MarkSeen(device.Address, seen)
	if !cursor.IsZero() {
		if err := p.devices.AdvanceCursor(ctx, device.Address, cursor); err != nil {
			errs = append(errs, fmt.Errorf("advance cursor: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (p *Poller) pollFailed(ctx context.Context, device models.Device) {
	p.persist(ctx, device, p.fleet.PollFailed(device.Address))
}

func (p *Poller) pollSucceeded(ctx context.Context, device models.Device) {
	p.persist(ctx, device, p.fleet.PollSucceeded(device.Address))
}

func (p *Poller) persist(ctx context.Context, device models.Device, status models.DeviceStatus) {
	if status == "" {
		return
	}
	if err := p.devices.UpdateStatus(ctx, device.Address, status); err != nil {
		p.logger.Error("persist device status", zap.String("device", device.Label()), zap.Error(err))
		return
	}
	p.metrics.Transition(string(status))
}

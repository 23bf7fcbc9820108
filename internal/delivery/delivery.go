// Package delivery forwards eligible events to their device's webhook. It
// works from the persisted queue on its own interval, retries failed
// events on later passes and escalates once when an event is abandoned.
package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HerbHall/gatesync/internal/ingest"
	"github.com/HerbHall/gatesync/internal/metrics"
	"github.com/HerbHall/gatesync/internal/notify"
	"github.com/HerbHall/gatesync/internal/retry"
	"github.com/HerbHall/gatesync/internal/schedule"
	"github.com/HerbHall/gatesync/internal/services"
	"github.com/HerbHall/gatesync/internal/snapshot"
	"github.com/HerbHall/gatesync/internal/terminal"
	"github.com/HerbHall/gatesync/internal/version"
	"github.com/HerbHall/gatesync/pkg/models"
	"github.com/HerbHall/gatesync/pkg/plugin"
)

// idempotencyNamespace seeds the per-event Idempotency-Key so every
// attempt for one event carries the same key.
var idempotencyNamespace = uuid.MustParse("3f1c2a8e-6d4b-4e0f-9a57-2b8c1d0e7f61")

// Payload is the JSON body posted to a webhook.
type Payload struct {
	Device  string  `json:"device"`
	AuthID  *int64  `json:"authId"`
	Date    *string `json:"date"`
	Picture *string `json:"picture"`
}

// StatusError is a non-2xx webhook answer.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "webhook answered HTTP " + strconv.Itoa(e.StatusCode)
}

// FetcherFactory builds the snapshot downloader for one device.
type FetcherFactory func(d models.Device, timeout time.Duration) ingest.SnapshotFetcher

// Deps are the collaborators the worker needs.
type Deps struct {
	Events    services.EventRepository
	Snapshots *snapshot.Store
	Tunables  *services.Tunables
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
}

// Worker is the delivery plugin.
type Worker struct {
	events     services.EventRepository
	snapshots  *snapshot.Store
	tunables   *services.Tunables
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	client     *http.Client
	newFetcher FetcherFactory
	logger     *zap.Logger
	loop       *schedule.Loop
}

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Worker)(nil)
	_ plugin.HTTPProvider  = (*Worker)(nil)
	_ plugin.HealthChecker = (*Worker)(nil)
)

// Option configures a Worker.
type Option func(*Worker)

// WithHTTPClient replaces the webhook client.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Worker) { w.client = c }
}

// WithFetcherFactory replaces the terminal client used to re-download
// missing snapshots.
func WithFetcherFactory(f FetcherFactory) Option {
	return func(w *Worker) { w.newFetcher = f }
}

// New creates the delivery worker.
func New(deps Deps, opts ...Option) *Worker {
	w := &Worker{
		events:    deps.Events,
		snapshots: deps.Snapshots,
		tunables:  deps.Tunables,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		client:    &http.Client{},
		newFetcher: func(d models.Device, timeout time.Duration) ingest.SnapshotFetcher {
			return terminal.New(d, timeout)
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Info() plugin.Info {
	return plugin.Info{
		Name:        "delivery",
		Version:     "0.1.0",
		Description: "Forwards recognized events to per-device webhooks",
	}
}

func (w *Worker) Init(_ *viper.Viper, logger *zap.Logger) error {
	w.logger = logger
	return nil
}

func (w *Worker) Start(ctx context.Context) error {
	w.loop = schedule.New("delivery", func(ctx context.Context) time.Duration {
		return w.tunables.Seconds(ctx, services.KeyDeliveryInterval)
	}, w.RunCycle, w.logger, w.metrics)
	w.loop.Start(ctx)
	return nil
}

func (w *Worker) Stop() error {
	if w.loop != nil {
		w.loop.Stop()
	}
	return nil
}

// Health reports the queue depth by delivery status.
func (w *Worker) Health(ctx context.Context) plugin.HealthStatus {
	counts, err := w.events.CountByStatus(ctx)
	if err != nil {
		return plugin.HealthStatus{Status: "degraded", Message: err.Error()}
	}
	details := make(map[string]string, len(counts))
	for status, n := range counts {
		details[string(status)] = strconv.Itoa(n)
	}
	return plugin.HealthStatus{Status: "ok", Details: details}
}

// RunCycle delivers one bounded batch of due events on a bounded pool.
func (w *Worker) RunCycle(ctx context.Context) {
	maxAttempts := w.tunables.Int(ctx, services.KeyDeliveryMaxAttempts)
	items, err := w.events.DeliveryBatch(ctx, maxAttempts, w.tunables.Int(ctx, services.KeyDeliveryBatchSize))
	if err != nil {
		w.logger.Error("select delivery batch", zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(w.tunables.Int(ctx, services.KeyDeliveryWorkers))
	for _, it := range items {
		g.Go(func() error {
			if err := w.Deliver(ctx, it); err != nil {
				w.logger.Warn("delivery failed",
					zap.Int64("event_id", it.Event.ID),
					zap.String("device", it.Device.Label()),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Deliver posts one event to its device's webhook. A 2xx answer marks it
// success; anything else counts a failed attempt, and the attempt that
// reaches the cap raises the abandonment alert.
func (w *Worker) Deliver(ctx context.Context, item services.DeliveryItem) error {
	ev, dev := item.Event, item.Device
	timeout := w.tunables.Seconds(ctx, services.KeyRequestTimeout)

	body, err := json.Marshal(w.payload(ctx, item, timeout))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	key := uuid.NewSHA1(idempotencyNamespace, []byte(ev.DeviceName+"/"+strconv.FormatInt(ev.Seq, 10))).String()

	sendErr := w.post(ctx, dev.WebhookURL, body, key, timeout)
	w.metrics.Delivery(sendErr == nil)
	if sendErr == nil {
		if err := w.events.MarkSuccess(ctx, ev.ID); err != nil {
			return fmt.Errorf("mark event %d delivered: %w", ev.ID, err)
		}
		w.logger.Info("event delivered",
			zap.Int64("event_id", ev.ID),
			zap.String("device", dev.Label()),
			zap.Int64("seq", ev.Seq))
		return nil
	}

	attempts, applied, err := w.events.RecordFailure(ctx, ev.ID, ev.DeliveryAttempts)
	if err != nil {
		return errors.Join(sendErr, err)
	}
	if !applied {
		w.logger.Debug("attempt already recorded elsewhere", zap.Int64("event_id", ev.ID))
		return sendErr
	}
	if maxAttempts := w.tunables.Int(ctx, services.KeyDeliveryMaxAttempts); attempts >= maxAttempts {
		w.metrics.Abandoned()
		w.logger.Error("delivery abandoned",
			zap.Int64("event_id", ev.ID),
			zap.String("device", dev.Label()),
			zap.Int("attempts", attempts))
		w.notifier.Notify(ctx, services.KeyNotifyDeliveryFailure, notify.DeliveryAbandoned(
			dev.Label(), dev.Location, ev.SubjectName, ev.SubjectID, ev.Date+" "+ev.Time, attempts))
	}
	return fmt.Errorf("attempt %d: %w", attempts, sendErr)
}

func (w *Worker) payload(ctx context.Context, item services.DeliveryItem, timeout time.Duration) Payload {
	p := Payload{
		Device: item.Device.Label(),
		AuthID: item.Event.SubjectID,
	}
	// Undated events carry the sentinel date, which is not a timestamp.
	if item.Event.Date != models.SentinelDate {
		date := item.Event.Date + "T" + item.Event.Time
		p.Date = &date
	}
	if img := w.image(ctx, item, timeout); img != nil {
		enc := base64.StdEncoding.EncodeToString(img)
		p.Picture = &enc
	}
	return p
}

// image returns the stored snapshot, else a fresh download, else nil.
func (w *Worker) image(ctx context.Context, item services.DeliveryItem, timeout time.Duration) []byte {
	ev := item.Event
	log := w.logger.With(zap.Int64("event_id", ev.ID))

	if ev.LocalImagePath != "" {
		data, err := w.snapshots.Read(ev.LocalImagePath)
		if err == nil {
			return data
		}
		log.Debug("stored snapshot unavailable", zap.Error(err))
	}
	if ev.PictureURL == "" {
		return nil
	}

	fetcher := w.newFetcher(item.Device, timeout)
	policy := retry.Fixed(
		w.tunables.Int(ctx, services.KeySnapshotRetries),
		w.tunables.Millis(ctx, services.KeySnapshotRetryDelay),
	)
	data, err := retry.Do(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return fetcher.FetchSnapshot(ctx, ev.PictureURL)
	})
	if err != nil {
		log.Warn("sending without picture", zap.Error(err))
		return nil
	}
	return data
}

func (w *Worker) post(ctx context.Context, url string, body []byte, key string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

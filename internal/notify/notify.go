// Package notify fans operator alerts out to every configured recipient
// through an HTTP messaging gateway. Delivery is fire-and-forget: failures
// are logged and counted, never returned to the caller.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/gatesync/internal/metrics"
	"github.com/HerbHall/gatesync/internal/services"
	"github.com/HerbHall/gatesync/internal/version"
)

// GatewayPath is appended to the configured gateway URL.
const GatewayPath = "/send-message"

// Notifier is what the pipeline stages depend on.
type Notifier interface {
	Notify(ctx context.Context, enabledKey, message string)
}

// Dispatcher implements Notifier over the messaging gateway.
type Dispatcher struct {
	tunables *services.Tunables
	logger   *zap.Logger
	metrics  *metrics.Metrics
	client   *http.Client
	limiter  *rate.Limiter
	wg       sync.WaitGroup
}

var _ Notifier = (*Dispatcher)(nil)

// New creates a Dispatcher that reads its targets from tunables at each
// call. m may be nil.
func New(tunables *services.Tunables, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		tunables: tunables,
		logger:   logger,
		metrics:  m,
		client:   &http.Client{},
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
	}
}

// Notify sends message to every valid recipient if the toggle named by
// enabledKey is on. It returns immediately; each recipient is sent to on
// its own goroutine.
func (d *Dispatcher) Notify(ctx context.Context, enabledKey, message string) {
	if !d.tunables.Bool(ctx, enabledKey) {
		return
	}

	gateway := strings.TrimRight(d.tunables.Raw(ctx, services.KeyNotifyGatewayURL), "/")
	recipients := d.tunables.Raw(ctx, services.KeyNotifyRecipients)
	if gateway == "" || strings.TrimSpace(recipients) == "" {
		d.logger.Warn("notification not sent: gateway URL or recipients not configured",
			zap.String("toggle", enabledKey))
		d.metrics.Notification("skipped")
		return
	}

	prefix := d.tunables.Raw(ctx, services.KeyNotifyRecipientPrefix)
	timeout := d.tunables.Seconds(ctx, services.KeyRequestTimeout)
	perSecond := d.tunables.Int(ctx, services.KeyNotifyRate)
	d.limiter.SetLimit(rate.Limit(perSecond))
	d.limiter.SetBurst(perSecond)

	correlation := uuid.NewString()
	endpoint := gateway + GatewayPath
	bg := context.WithoutCancel(ctx)

	for _, r := range strings.Split(recipients, ",") {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if !ValidRecipient(r, prefix) {
			d.logger.Warn("skipping malformed notification recipient",
				zap.String("recipient", r), zap.String("required_prefix", prefix))
			d.metrics.Notification("skipped")
			continue
		}
		d.wg.Add(1)
		go func(recipient string) {
			defer d.wg.Done()
			d.send(bg, endpoint, recipient, message, timeout, correlation)
		}(r)
	}
}

// Wait blocks until every in-flight gateway call has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, endpoint, recipient, message string, timeout time.Duration, correlation string) {
	log := d.logger.With(zap.String("recipient", recipient), zap.String("correlation_id", correlation))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := d.limiter.Wait(ctx); err != nil {
		log.Error("notification rate limit wait failed", zap.Error(err))
		d.metrics.Notification("failed")
		return
	}

	form := url.Values{
		"recipientId": {recipient},
		"recipient":   {recipient},
		"message":     {message},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		log.Error("build notification request", zap.Error(err))
		d.metrics.Notification("failed")
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Correlation-Id", correlation)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := d.client.Do(req)
	if err != nil {
		log.Error("notification gateway unreachable", zap.Error(err))
		d.metrics.Notification("failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 100))
		log.Error("notification gateway rejected message",
			zap.Int("status", resp.StatusCode), zap.String("body", string(body)))
		d.metrics.Notification("failed")
		return
	}
	log.Info("notification sent")
	d.metrics.Notification("sent")
}

// ValidRecipient reports whether r is prefix followed by at least one more
// digit, with digits only.
func ValidRecipient(r, prefix string) bool {
	if !strings.HasPrefix(r, prefix) || len(r) <= len(prefix) {
		return false
	}
	for _, c := range r {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// DeviceDown renders the alert sent when a device goes offline.
func DeviceDown(name, location, address string, at time.Time) string {
	return fmt.Sprintf("DEVICE OFFLINE\n\nDevice: *%s* - *%s*\n(IP: %s)\n\nWent offline at:\n%s\n\nSynchronization is suspended.",
		name, orDash(location), address, at.Format("2 January 2006 15:04:05 MST"))
}

// DeviceRecovered renders the alert sent when a device comes back.
func DeviceRecovered(name, location, address string, at time.Time) string {
	return fmt.Sprintf("CONNECTION RESTORED\n\nDevice: *%s* - *%s*\n(IP: %s)\n\nBack online at:\n%s\n\nSynchronization resumed.",
		name, orDash(location), address, at.Format("2 January 2006 15:04:05 MST"))
}

// DeliveryAbandoned renders the alert sent when an event exhausts its
// delivery attempts.
func DeliveryAbandoned(device, location, subject string, subjectID *int64, occurred string, attempts int) string {
	id := "-"
	if subjectID != nil {
		id = fmt.Sprint(*subjectID)
	}
	return fmt.Sprintf("DELIVERY FAILED\n\nDevice: *%s* - *%s*\nSubject: %s (ID %s)\nEvent time: %s\n\nGave up after %d attempts.",
		device, orDash(location), orDash(subject), id, occurred, attempts)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

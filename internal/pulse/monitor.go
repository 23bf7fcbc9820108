// Package pulse is the device health monitor. It probes every active
// terminal on an interval, suspends devices that keep failing and alerts
// only when a device changes between reachable and unreachable.
package pulse

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HerbHall/gatesync/internal/fleet"
	"github.com/HerbHall/gatesync/internal/metrics"
	"github.com/HerbHall/gatesync/internal/notify"
	"github.com/HerbHall/gatesync/internal/schedule"
	"github.com/HerbHall/gatesync/internal/services"
	"github.com/HerbHall/gatesync/pkg/models"
	"github.com/HerbHall/gatesync/pkg/plugin"
)

// Deps are the collaborators the monitor needs.
type Deps struct {
	Devices  services.DeviceRepository
	Fleet    *fleet.State
	Tunables *services.Tunables
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
}

// Monitor implements the health monitoring plugin.
type Monitor struct {
	devices  services.DeviceRepository
	fleet    *fleet.State
	tunables *services.Tunables
	notifier notify.Notifier
	metrics  *metrics.Metrics
	checker  Checker
	logger   *zap.Logger
	now      func() time.Time
	loop     *schedule.Loop

	pingCount int
}

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Monitor)(nil)
	_ plugin.HTTPProvider  = (*Monitor)(nil)
	_ plugin.HealthChecker = (*Monitor)(nil)
	_ plugin.Validator     = (*Monitor)(nil)
)

// maxPingCount bounds echo requests per probe so a probe fits its timeout.
const maxPingCount = 10

// Option configures a Monitor.
type Option func(*Monitor)

// WithChecker replaces the ICMP checker.
func WithChecker(c Checker) Option {
	return func(m *Monitor) { m.checker = c }
}

// WithClock overrides the time stamped on alerts.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates the monitor.
func New(deps Deps, opts ...Option) *Monitor {
	m := &Monitor{
		devices:  deps.Devices,
		fleet:    deps.Fleet,
		tunables: deps.Tunables,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) Info() plugin.Info {
	return plugin.Info{
		Name:        "pulse",
		Version:     "0.1.0",
		Description: "Device reachability monitoring with suspend and transition alerts",
	}
}

// Init reads the ICMP options: ping_count and privileged.
func (m *Monitor) Init(config *viper.Viper, logger *zap.Logger) error {
	m.logger = logger
	if config == nil {
		config = viper.New()
	}
	config.SetDefault("ping_count", 1)
	config.SetDefault("privileged", false)
	m.pingCount = config.GetInt("ping_count")
	if m.checker == nil {
		m.checker = NewICMPChecker(m.pingCount, config.GetBool("privileged"))
	}
	return nil
}

// ValidateConfig rejects a ping_count outside 1..10.
func (m *Monitor) ValidateConfig() error {
	if m.pingCount < 1 || m.pingCount > maxPingCount {
		return fmt.Errorf("ping_count must be between 1 and %d, got %d", maxPingCount, m.pingCount)
	}
	return nil
}

func (m *Monitor) Start(ctx context.Context) error {
	m.loop = schedule.New("pulse", func(ctx context.Context) time.Duration {
		return m.tunables.Seconds(ctx, services.KeyProbeInterval)
	}, m.RunCycle, m.logger, m.metrics)
	m.loop.Start(ctx)
	return nil
}

func (m *Monitor) Stop() error {
	if m.loop != nil {
		m.loop.Stop()
	}
	return nil
}

// Health reports how many tracked devices are currently suspended.
func (m *Monitor) Health(_ context.Context) plugin.HealthStatus {
	suspended := 0
	now := m.now()
	for _, d := range m.fleet.Snapshot() {
		if now.Before(d.SuspendUntil) {
			suspended++
		}
	}
	return plugin.HealthStatus{
		Status:  "ok",
		Details: map[string]string{"suspended_devices": fmt.Sprint(suspended)},
	}
}

// RunCycle probes every active, non-suspended device in parallel.
func (m *Monitor) RunCycle(ctx context.Context) {
	devices, err := m.devices.ListActive(ctx)
	if err != nil {
		m.logger.Error("list active devices", zap.Error(err))
		return
	}
	if len(devices) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(len(devices))
	for _, d := range devices {
		if m.fleet.Suspended(d.Address) {
			m.logger.Debug("device suspended, skipping probe", zap.String("device", d.Label()))
			continue
		}
		g.Go(func() error {
			m.ProbeDevice(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
}

// ProbeDevice runs one liveness probe and applies its outcome: persisted
// status changes, suspension and transition alerts.
func (m *Monitor) ProbeDevice(ctx context.Context, device models.Device) fleet.ProbeResult {
	log := m.logger.With(zap.String("device", device.Label()), zap.String("address", device.Address))

	pctx, cancel := context.WithTimeout(ctx, m.tunables.Millis(ctx, services.KeyProbeTimeout))
	res, err := m.checker.Check(pctx, probeTarget(device.Address))
	cancel()

	ok := err == nil && res != nil && res.Success
	m.metrics.Probe(ok)

	if ok {
		out := m.fleet.ProbeSucceeded(device.Address)
		m.persist(ctx, log, device, out.Persist)
		if out.Recovered {
			log.Info("device back online")
			m.notifier.Notify(ctx, services.KeyNotifyDevice,
				notify.DeviceRecovered(device.Label(), device.Location, device.Address, m.now()))
		}
		return out
	}

	switch {
	case err != nil:
		log.Debug("probe could not run", zap.Error(err))
	case res != nil:
		log.Debug("probe failed", zap.String("reason", res.Error))
	}

	out := m.fleet.ProbeFailed(device.Address,
		m.tunables.Int(ctx, services.KeyPingMaxFail),
		m.tunables.Seconds(ctx, services.KeySuspend))
	m.persist(ctx, log, device, out.Persist)
	if out.WentOffline {
		log.Warn("device offline, suspending", zap.Int("failures", out.FailCount))
		m.notifier.Notify(ctx, services.KeyNotifyDevice,
			notify.DeviceDown(device.Label(), device.Location, device.Address, m.now()))
	}
	return out
}

func (m *Monitor) persist(ctx context.Context, log *zap.Logger, device models.Device, status models.DeviceStatus) {
	if status == "" {
		return
	}
	if err := m.devices.UpdateStatus(ctx, device.Address, status); err != nil {
		log.Error("persist device status", zap.String("status", string(status)), zap.Error(err))
		return
	}
	m.metrics.Transition(string(status))
}

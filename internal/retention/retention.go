// Package retention ages out stored events, their snapshot files and the
// dated log directories once per rolling day.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/gatesync/internal/metrics"
	"github.com/HerbHall/gatesync/internal/schedule"
	"github.com/HerbHall/gatesync/internal/services"
	"github.com/HerbHall/gatesync/internal/snapshot"
	"github.com/HerbHall/gatesync/pkg/models"
	"github.com/HerbHall/gatesync/pkg/plugin"
)

const (
	// Period is the minimum spacing between two sweeps.
	Period = 24 * time.Hour

	checkInterval = time.Hour
)

// Report summarizes one sweep.
type Report struct {
	Events         int `json:"events"`
	Snapshots      int `json:"snapshots"`
	EmptyDirs      int `json:"empty_dirs"`
	LogDirs        int `json:"log_dirs"`
	FailedRemovals int `json:"failed_removals"`
}

// Deps are the collaborators the sweeper needs.
type Deps struct {
	Events    services.EventRepository
	Snapshots *snapshot.Store
	Tunables  *services.Tunables
	// LogDirs are stream roots holding one YYYY-MM-DD directory per day.
	LogDirs []string
	Metrics *metrics.Metrics
}

// Sweeper is the retention plugin.
type Sweeper struct {
	events    services.EventRepository
	snapshots *snapshot.Store
	tunables  *services.Tunables
	logDirs   []string
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *zap.Logger
	loop      *schedule.Loop

	mu      sync.Mutex
	lastRun time.Time
	last    *Report
}

var (
	_ plugin.Plugin        = (*Sweeper)(nil)
	_ plugin.HTTPProvider  = (*Sweeper)(nil)
	_ plugin.HealthChecker = (*Sweeper)(nil)
)

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New creates the retention sweeper.
func New(deps Deps, opts ...Option) *Sweeper {
	s := &Sweeper{
		events:    deps.Events,
		snapshots: deps.Snapshots,
		tunables:  deps.Tunables,
		logDirs:   deps.LogDirs,
		metrics:   deps.Metrics,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) Info() plugin.Info {
	return plugin.Info{
		Name:        "retention",
		Version:     "0.1.0",
		Description: "Deletes aged events, snapshots and log directories",
	}
}

func (s *Sweeper) Init(_ *viper.Viper, logger *zap.Logger) error {
	s.logger = logger
	return nil
}

// Start checks hourly and sweeps when a full period has passed since the
// previous sweep, so the first check after startup always sweeps.
func (s *Sweeper) Start(ctx context.Context) error {
	s.loop = schedule.New("retention", func(context.Context) time.Duration {
		return checkInterval
	}, s.RunCycle, s.logger, s.metrics)
	s.loop.Start(ctx)
	return nil
}

func (s *Sweeper) Stop() error {
	if s.loop != nil {
		s.loop.Stop()
	}
	return nil
}

// Health reports when the last sweep ran.
func (s *Sweeper) Health(context.Context) plugin.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun.IsZero() {
		return plugin.HealthStatus{Status: "ok", Message: "no sweep yet"}
	}
	return plugin.HealthStatus{Status: "ok", Details: map[string]string{
		"last_sweep": s.lastRun.UTC().Format(time.RFC3339),
	}}
}

// RunCycle sweeps if the period has elapsed since the last sweep.
func (s *Sweeper) RunCycle(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	due := s.lastRun.IsZero() || now.Sub(s.lastRun) >= Period
	s.mu.Unlock()
	if !due {
		return
	}
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("retention sweep failed", zap.Error(err))
	}
}

// Sweep deletes events dated before the retention window along with their
// snapshots, then empty snapshot directories, then dated log directories
// older than the log window. Individual file failures are logged and
// counted but do not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	now := s.now()
	_, loc := s.tunables.DeviceTimezone(ctx)
	cutoff := now.AddDate(0, 0, -s.tunables.Int(ctx, services.KeyRetentionDays))
	cutoffDate := cutoff.In(loc).Format(models.DateLayout)

	expired, err := s.events.DeleteExpired(ctx, cutoffDate, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete expired events: %w", err)
	}
	rep := &Report{Events: len(expired)}

	for _, ev := range expired {
		if ev.LocalImagePath == "" {
			continue
		}
		if err := s.snapshots.Remove(ev.LocalImagePath); err != nil {
			rep.FailedRemovals++
			s.logger.Warn("failed to remove snapshot",
				zap.Int64("event_id", ev.ID),
				zap.String("path", ev.LocalImagePath),
				zap.Error(err))
			continue
		}
		rep.Snapshots++
	}

	if n, err := s.snapshots.PruneEmptyDirs(); err != nil {
		s.logger.Warn("failed to prune snapshot directories", zap.Error(err))
	} else {
		rep.EmptyDirs = n
	}

	logCutoff := now.AddDate(0, 0, -s.tunables.LogRetentionDays(ctx)).In(loc).Format(models.DateLayout)
	for _, root := range s.logDirs {
		s.sweepLogs(root, logCutoff, rep)
	}

	s.metrics.Retained("events", rep.Events)
	s.metrics.Retained("snapshots", rep.Snapshots)
	s.metrics.Retained("log_dirs", rep.LogDirs)

	s.mu.Lock()
	s.lastRun = now
	s.last = rep
	s.mu.Unlock()

	s.logger.Info("retention sweep finished",
		zap.String("cutoff_date", cutoffDate),
		zap.String("log_cutoff_date", logCutoff),
		zap.Int("events", rep.Events),
		zap.Int("snapshots", rep.Snapshots),
		zap.Int("empty_dirs", rep.EmptyDirs),
		zap.Int("log_dirs", rep.LogDirs),
		zap.Int("failed_removals", rep.FailedRemovals))
	return rep, nil
}

// sweepLogs removes the day directories under root named before cutoff.
// Entries that are not date-named are left alone.
func (s *Sweeper) sweepLogs(root, cutoff string, rep *Report) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to list log directory", zap.String("root", root), zap.Error(err))
		}
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(models.DateLayout, e.Name()); err != nil || e.Name() >= cutoff {
			continue
		}
		path := filepath.Join(root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			rep.FailedRemovals++
			s.logger.Warn("failed to remove log directory", zap.String("path", path), zap.Error(err))
			continue
		}
		rep.LogDirs++
	}
}

// LastReport returns the most recent sweep's report, or nil.
func (s *Sweeper) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Package schedule runs a background cycle on an interval that is re-read
// before every wait, so a changed tunable takes effect without a restart.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/gatesync/internal/metrics"
)

// Loop repeatedly runs one cycle of a component.
type Loop struct {
	name     string
	interval func(ctx context.Context) time.Duration
	cycle    func(ctx context.Context)
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Loop named name. interval is consulted after each cycle.
func New(name string, interval func(ctx context.Context) time.Duration, cycle func(ctx context.Context), logger *zap.Logger, m *metrics.Metrics) *Loop {
	return &Loop{
		name:     name,
		interval: interval,
		cycle:    cycle,
		logger:   logger,
		metrics:  m,
	}
}

// Start runs the first cycle immediately and keeps going until Stop or
// until ctx is cancelled.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
}

// Stop ends the loop and waits for an in-flight cycle to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	l.logger.Info("loop starting", zap.String("loop", l.name))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("loop stopped", zap.String("loop", l.name))
			return
		case <-timer.C:
			// In-flight network calls finish on their own timeouts.
			l.RunOnce(context.WithoutCancel(ctx))
			timer.Reset(l.interval(ctx))
		}
	}
}

// RunOnce executes a single cycle. A panic is logged as a failed cycle and
// does not escape.
func (l *Loop) RunOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		l.metrics.ObserveCycle(l.name, time.Since(start).Seconds())
		if r := recover(); r != nil {
			l.metrics.CyclePanicked(l.name)
			l.logger.Error("cycle failed",
				zap.String("loop", l.name),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"),
			)
		}
	}()
	l.cycle(ctx)
}

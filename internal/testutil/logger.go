// Package testutil provides shared test helpers for gatesync packages.
package testutil

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// Logger returns a zap logger that writes through t.Log.
func Logger(t testing.TB) *zap.Logger {
	return zaptest.NewLogger(t)
}

// ObservedLogger returns a logger whose entries at or above level can be
// inspected by the test.
func ObservedLogger(level zap.AtomicLevel) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

package eventlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/gatesync/internal/testutil"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestStreamsSwitchDirectoryAtMidnight(t *testing.T) {
	eventDir := t.TempDir()
	rawDir := t.TempDir()
	clock := testutil.NewClock(time.Date(2025, 1, 1, 23, 59, 0, 0, time.UTC))
	l := New(eventDir, rawDir, clock.Func())
	t.Cleanup(func() { l.Close() })

	l.Device("Gate A").Info("event 1 processed")
	require.NoError(t, l.Raw("Gate A", map[string]any{"serialNo": 1}))

	clock.Advance(2 * time.Minute)
	l.Device("Gate A").Info("event 2 processed")

	day1 := readFile(t, filepath.Join(eventDir, "2025-01-01", "Gate_A.events.log"))
	day2 := readFile(t, filepath.Join(eventDir, "2025-01-02", "Gate_A.events.log"))
	assert.Contains(t, day1, "event 1 processed")
	assert.NotContains(t, day1, "event 2")
	assert.Contains(t, day2, "event 2 processed")

	raw := readFile(t, filepath.Join(rawDir, "2025-01-01", "Gate_A.raw.log"))
	assert.True(t, strings.Contains(raw, `{"serialNo":1}`), raw)
}

func TestSystemCoreTee(t *testing.T) {
	eventDir := t.TempDir()
	clock := testutil.NewClock()
	l := New(eventDir, eventDir, clock.Func())
	t.Cleanup(func() { l.Close() })

	logger := zap.New(l.SystemCore(zap.InfoLevel))
	logger.Debug("hidden")
	logger.Warn("device offline", zap.String("device", "Gate-A"))
	require.NoError(t, logger.Sync())

	out := readFile(t, filepath.Join(eventDir, "2025-01-01", "system.log"))
	assert.Contains(t, out, "device offline")
	assert.NotContains(t, out, "hidden")
	assert.Equal(t, []string{eventDir}, l.Dirs())
}

func TestDeviceNamedSystemKeepsItsOwnFiles(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, dir, testutil.NewClock().Func())
	t.Cleanup(func() { l.Close() })

	sys := zap.New(l.SystemCore(zap.InfoLevel))
	sys.Info("process started")
	l.Device("system").Info("event 7 processed")
	require.NoError(t, l.Raw("system", map[string]any{"serialNo": 7}))

	day := filepath.Join(dir, "2025-01-01")
	proc := readFile(t, filepath.Join(day, "system.log"))
	assert.Contains(t, proc, "process started")
	assert.NotContains(t, proc, "event 7")
	assert.NotContains(t, proc, "serialNo")
	assert.Contains(t, readFile(t, filepath.Join(day, "system.events.log")), "event 7 processed")
	assert.Contains(t, readFile(t, filepath.Join(day, "system.raw.log")), `{"serialNo":7}`)
}

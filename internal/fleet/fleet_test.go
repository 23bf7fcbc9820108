package fleet

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/gatesync/internal/testutil"
	"github.com/HerbHall/gatesync/pkg/models"
)

const addr = "10.0.0.1"

func TestProbeFailedCrossesThresholdOnce(t *testing.T) {
	clock := testutil.NewClock()
	s := New(clock.Func())
	s.Seed([]models.Device{{Address: addr, Status: models.DeviceStatusOnline}})

	r1 := s.ProbeFailed(addr, 3, time.Minute)
	r2 := s.ProbeFailed(addr, 3, time.Minute)
	assert.False(t, r1.WentOffline || r2.WentOffline)
	assert.False(t, s.Suspended(addr))

	r3 := s.ProbeFailed(addr, 3, time.Minute)
	assert.True(t, r3.WentOffline)
	assert.Equal(t, models.DeviceStatusOffline, r3.Persist)
	assert.True(t, r3.Suspended)
	assert.True(t, s.Suspended(addr))

	clock.Advance(2 * time.Minute)
	assert.False(t, s.Suspended(addr))

	r4 := s.ProbeFailed(addr, 3, time.Minute)
	assert.False(t, r4.WentOffline, "second crossing must not re-alert")
	assert.Empty(t, r4.Persist)
	assert.True(t, s.Suspended(addr), "suspension is re-armed")
}

func TestProbeSucceededRecovery(t *testing.T) {
	s := New(nil)
	s.Seed([]models.Device{{Address: addr, Status: models.DeviceStatusOffline}})

	r := s.ProbeSucceeded(addr)
	assert.True(t, r.Recovered)
	assert.Equal(t, models.DeviceStatusOnline, r.Persist)

	r = s.ProbeSucceeded(addr)
	assert.False(t, r.Recovered)
	assert.Empty(t, r.Persist)
}

func TestProbeSucceededFromNewPersistsWithoutAlert(t *testing.T) {
	s := New(nil)
	s.Seed([]models.Device{{Address: addr, Status: models.DeviceStatusNew}})

	r := s.ProbeSucceeded(addr)
	assert.False(t, r.Recovered)
	assert.Equal(t, models.DeviceStatusOnline, r.Persist)
}

func TestSeedKeepsTrackedStatus(t *testing.T) {
	s := New(nil)
	require.Equal(t, models.DeviceStatusError, s.PollFailed(addr))
	s.Seed([]models.Device{{Address: addr, Status: models.DeviceStatusOnline}})
	assert.Equal(t, models.DeviceStatusError, s.Snapshot()[addr].Status())
}

func TestSeedErrorIsPollError(t *testing.T) {
	s := New(nil)
	s.Seed([]models.Device{{Address: addr, Status: models.DeviceStatusError}})

	d := s.Snapshot()[addr]
	assert.True(t, d.PollError)
	assert.Equal(t, models.DeviceStatusOnline, d.LastStatus)

	r := s.ProbeSucceeded(addr)
	assert.False(t, r.Recovered)
	assert.Empty(t, r.Persist)
}

func TestPollTransitions(t *testing.T) {
	s := New(nil)
	s.Seed([]models.Device{{Address: addr, Status: models.DeviceStatusOnline}})

	assert.Empty(t, s.PollSucceeded(addr), "online stays online")
	assert.Equal(t, models.DeviceStatusError, s.PollFailed(addr))
	assert.Empty(t, s.PollFailed(addr), "already in error")
	assert.Equal(t, models.DeviceStatusOnline, s.PollSucceeded(addr))
	assert.Equal(t, models.DeviceStatusOnline, s.Snapshot()[addr].Status())
}

func TestPollFailureKeepsOffline(t *testing.T) {
	s := New(nil)
	for range 3 {
		s.ProbeFailed(addr, 3, time.Minute)
	}
	assert.Empty(t, s.PollFailed(addr))
	assert.Empty(t, s.PollSucceeded(addr))
	assert.Equal(t, models.DeviceStatusOffline, s.Snapshot()[addr].Status())
}

func TestPollErrorDoesNotFlapWithProbes(t *testing.T) {
	s := New(nil)
	s.Seed([]models.Device{{Address: addr, Status: models.DeviceStatusOnline}})

	assert.Equal(t, models.DeviceStatusError, s.PollFailed(addr))
	for range 5 {
		r := s.ProbeSucceeded(addr)
		assert.False(t, r.Recovered)
		assert.Empty(t, r.Persist)
		assert.Empty(t, s.PollFailed(addr))
	}
	assert.Equal(t, models.DeviceStatusError, s.Snapshot()[addr].Status())
}

func TestOfflineWithPollErrorRecoversToError(t *testing.T) {
	s := New(nil)
	s.Seed([]models.Device{{Address: addr, Status: models.DeviceStatusOnline}})
	s.PollFailed(addr)
	r := s.ProbeFailed(addr, 1, time.Minute)
	require.True(t, r.WentOffline)
	assert.Equal(t, models.DeviceStatusOffline, r.Persist)

	r = s.ProbeSucceeded(addr)
	assert.True(t, r.Recovered)
	assert.Equal(t, models.DeviceStatusError, r.Persist)
}

func TestMarkSeenIsMonotonic(t *testing.T) {
	s := New(nil)
	s.MarkSeen(addr, 10)
	s.MarkSeen(addr, 7)
	assert.Equal(t, int64(10), s.LastSeen(addr))
	assert.Equal(t, int64(0), s.LastSeen("unknown"))
}

func TestConcurrentAccess(t *testing.T) {
	s := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.ProbeFailed(addr, 100, time.Second)
			s.MarkSeen(addr, int64(i))
			_ = s.Suspended(addr)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, s.Snapshot()[addr].FailCount)
	assert.Equal(t, int64(49), s.LastSeen(addr))
}

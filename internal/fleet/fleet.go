// Package fleet holds the process-local, per-device counters shared by the
// health monitor and the event poller. The state only suppresses redundant
// alerts and re-fetches; persisted device status stays the source of truth.
package fleet

import (
	"sync"
	"time"

	"github.com/HerbHall/gatesync/pkg/models"
)

// Device is a copy of one device's counters.
type Device struct {
	FailCount    int       `json:"fail_count"`
	SuspendUntil time.Time `json:"suspend_until,omitempty"`
	// LastStatus is driven by liveness probes only: new, online or offline.
	LastStatus models.DeviceStatus `json:"last_status"`
	// PollError is set while event fetches fail on a device that still
	// answers probes.
	PollError   bool  `json:"poll_error"`
	LastSeenSeq int64 `json:"last_seen_seq"`
}

// Status is the combined status persisted for the device. Offline wins
// over a poll error.
func (d Device) Status() models.DeviceStatus {
	if d.PollError && d.LastStatus != models.DeviceStatusOffline {
		return models.DeviceStatusError
	}
	return d.LastStatus
}

// ProbeResult is what a caller must do after recording a probe outcome.
// The persisted status and notifications happen outside the lock.
type ProbeResult struct {
	// Persist is the status to write, or empty for none.
	Persist models.DeviceStatus
	// Recovered means probes reach a device that was offline.
	Recovered bool
	// WentOffline means the failure threshold was crossed just now.
	WentOffline bool
	FailCount   int
	Suspended   bool
}

// State is the mutex-guarded map of per-device counters, keyed by address.
// The lock is never held across a network call.
type State struct {
	mu      sync.Mutex
	devices map[string]*Device
	now     func() time.Time
}

// New creates an empty State. now defaults to time.Now.
func New(now func() time.Time) *State {
	if now == nil {
		now = time.Now
	}
	return &State{devices: make(map[string]*Device), now: now}
}

func (s *State) get(address string) *Device {
	d, ok := s.devices[address]
	if !ok {
		d = &Device{}
		s.devices[address] = d
	}
	return d
}

// Seed rebuilds last-known status from persisted device rows. Devices
// already tracked keep their in-memory status. A persisted error means the
// device was reachable while its event API failed.
func (s *State) Seed(devices []models.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dev := range devices {
		d := s.get(dev.Address)
		if d.LastStatus != "" || d.PollError {
			continue
		}
		if dev.Status == models.DeviceStatusError {
			d.LastStatus = models.DeviceStatusOnline
			d.PollError = true
			continue
		}
		d.LastStatus = dev.Status
	}
}

// Suspended reports whether the device is inside its suspend window.
func (s *State) Suspended(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[address]
	return ok && s.now().Before(d.SuspendUntil)
}

// ProbeSucceeded resets the failure counter and clears any suspension.
func (s *State) ProbeSucceeded(address string) ProbeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.get(address)
	before := d.Status()
	res := ProbeResult{Recovered: d.LastStatus == models.DeviceStatusOffline}
	d.LastStatus = models.DeviceStatusOnline
	if after := d.Status(); after != before {
		res.Persist = after
	}
	d.FailCount = 0
	d.SuspendUntil = time.Time{}
	return res
}

// ProbeFailed counts a failed probe. Once the count reaches threshold the
// device is suspended for suspend, and the first crossing reports
// WentOffline. Later failures re-arm the suspension without re-alerting.
func (s *State) ProbeFailed(address string, threshold int, suspend time.Duration) ProbeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.get(address)
	d.FailCount++
	res := ProbeResult{FailCount: d.FailCount}
	if d.FailCount < threshold {
		return res
	}
	if d.LastStatus != models.DeviceStatusOffline {
		res.WentOffline = true
		res.Persist = models.DeviceStatusOffline
		d.LastStatus = models.DeviceStatusOffline
	}
	d.SuspendUntil = s.now().Add(suspend)
	res.Suspended = true
	return res
}

// PollFailed records a failed event fetch and returns the status to
// persist, or empty for none. An offline device stays offline. The probe
// status is left alone, so a later successful probe is not a recovery.
func (s *State) PollFailed(address string) models.DeviceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.get(address)
	if d.PollError || d.LastStatus == models.DeviceStatusOffline {
		return ""
	}
	d.PollError = true
	return models.DeviceStatusError
}

// PollSucceeded clears a poll error and returns the status to persist, or
// empty for none.
func (s *State) PollSucceeded(address string) models.DeviceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.get(address)
	if !d.PollError {
		return ""
	}
	d.PollError = false
	if d.LastStatus == models.DeviceStatusOffline {
		return ""
	}
	return models.DeviceStatusOnline
}

// LastSeen returns the highest sequence number processed in this process.
func (s *State) LastSeen(address string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[address]; ok {
		return d.LastSeenSeq
	}
	return 0
}

// MarkSeen raises the last-seen sequence number; lower values are ignored.
func (s *State) MarkSeen(address string, seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.get(address)
	if seq > d.LastSeenSeq {
		d.LastSeenSeq = seq
	}
}

// Snapshot returns a copy of every tracked device's counters.
func (s *State) Snapshot() map[string]Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Device, len(s.devices))
	for addr, d := range s.devices {
		out[addr] = *d
	}
	return out
}

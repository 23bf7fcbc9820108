package pulse

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/gatesync/internal/server"
	"github.com/HerbHall/gatesync/internal/services"
	"github.com/HerbHall/gatesync/pkg/models"
	"github.com/HerbHall/gatesync/pkg/plugin"
)

// deviceStatus is one row of GET /devices.
type deviceStatus struct {
	Address      string              `json:"address"`
	Name         string              `json:"name"`
	Location     string              `json:"location,omitempty"`
	Active       bool                `json:"active"`
	Status       models.DeviceStatus `json:"status"`
	LastSync     *time.Time          `json:"last_sync,omitempty"`
	FailCount    int                 `json:"fail_count"`
	SuspendUntil *time.Time          `json:"suspend_until,omitempty"`
}

// probeResponse is the body of POST /devices/{address}/probe.
type probeResponse struct {
	Address   string              `json:"address"`
	Reachable bool                `json:"reachable"`
	Status    models.DeviceStatus `json:"status"`
	FailCount int                 `json:"fail_count"`
	Suspended bool                `json:"suspended"`
}

// Routes implements plugin.HTTPProvider.
func (m *Monitor) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/devices", Handler: m.handleListDevices},
		{Method: "POST", Path: "/devices/{address}/probe", Handler: m.handleProbe},
	}
}

// handleListDevices returns every configured device with its persisted
// status and in-memory health counters.
func (m *Monitor) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := m.devices.List(r.Context())
	if err != nil {
		m.logger.Warn("failed to list devices", zap.Error(err))
		server.InternalError(w, "failed to list devices", r.URL.Path)
		return
	}

	state := m.fleet.Snapshot()
	now := m.now()
	out := make([]deviceStatus, 0, len(devices))
	for _, d := range devices {
		row := deviceStatus{
			Address:  d.Address,
			Name:     d.Name,
			Location: d.Location,
			Active:   d.Active,
			Status:   d.Status,
			LastSync: d.LastSync,
		}
		if s, ok := state[d.Address]; ok {
			row.FailCount = s.FailCount
			if now.Before(s.SuspendUntil) {
				until := s.SuspendUntil
				row.SuspendUntil = &until
			}
		}
		out = append(out, row)
	}
	server.WriteJSON(w, http.StatusOK, out)
}

// handleProbe probes one device immediately, regardless of suspension, and
// applies the outcome like a scheduled probe would.
func (m *Monitor) handleProbe(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	device, err := m.devices.Get(r.Context(), address)
	if errors.Is(err, services.ErrNotFound) {
		server.NotFound(w, "device "+address+" not found", r.URL.Path)
		return
	}
	if err != nil {
		m.logger.Warn("failed to load device", zap.String("address", address), zap.Error(err))
		server.InternalError(w, "failed to load device", r.URL.Path)
		return
	}

	res := m.ProbeDevice(r.Context(), *device)
	status := device.Status
	if res.Persist != "" {
		status = res.Persist
	}
	server.WriteJSON(w, http.StatusOK, probeResponse{
		Address:   device.Address,
		Reachable: res.FailCount == 0,
		Status:    status,
		FailCount: res.FailCount,
		Suspended: res.Suspended,
	})
}

package retention

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/HerbHall/gatesync/internal/server"
	"github.com/HerbHall/gatesync/pkg/plugin"
)

// Routes implements plugin.HTTPProvider.
func (s *Sweeper) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/report", Handler: s.handleReport},
		{Method: "POST", Path: "/sweep", Handler: s.handleSweep},
	}
}

func (s *Sweeper) handleReport(w http.ResponseWriter, r *http.Request) {
	rep := s.LastReport()
	if rep == nil {
		server.NotFound(w, "no sweep has run yet", r.URL.Path)
		return
	}
	server.WriteJSON(w, http.StatusOK, rep)
}

// handleSweep runs a sweep immediately, regardless of the daily cadence.
func (s *Sweeper) handleSweep(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Sweep(r.Context())
	if err != nil {
		s.logger.Error("manual retention sweep failed", zap.Error(err))
		server.InternalError(w, "retention sweep failed", r.URL.Path)
		return
	}
	server.WriteJSON(w, http.StatusOK, rep)
}

package delivery

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/gatesync/internal/server"
	"github.com/HerbHall/gatesync/internal/services"
	"github.com/HerbHall/gatesync/pkg/models"
	"github.com/HerbHall/gatesync/pkg/plugin"
)

// Routes implements plugin.HTTPProvider.
func (w *Worker) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/events", Handler: w.handleListEvents},
		{Method: "GET", Path: "/events/{id}", Handler: w.handleGetEvent},
		{Method: "POST", Path: "/events/{id}/requeue", Handler: w.handleRequeue},
		{Method: "GET", Path: "/stats", Handler: w.handleStats},
		{Method: "GET", Path: "/export", Handler: w.handleExport},
	}
}

// handleListEvents lists the events of one calendar day, newest first.
// Query: date=YYYY-MM-DD (required), limit, offset.
func (w *Worker) handleListEvents(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := q.Get("date")
	if date != models.SentinelDate {
		if _, err := time.Parse(models.DateLayout, date); err != nil {
			server.BadRequest(rw, "date must be YYYY-MM-DD", r.URL.Path)
			return
		}
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		server.BadRequest(rw, "limit must be a number", r.URL.Path)
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		server.BadRequest(rw, "offset must be a number", r.URL.Path)
		return
	}

	res, err := w.events.ListByDate(r.Context(), date, services.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		w.logger.Warn("failed to list events", zap.String("date", date), zap.Error(err))
		server.InternalError(rw, "failed to list events", r.URL.Path)
		return
	}
	server.WriteJSON(rw, http.StatusOK, res)
}

// handleGetEvent returns one event by id.
func (w *Worker) handleGetEvent(rw http.ResponseWriter, r *http.Request) {
	id, ok := pathID(rw, r)
	if !ok {
		return
	}
	ev, err := w.events.Get(r.Context(), id)
	if errors.Is(err, services.ErrNotFound) {
		server.NotFound(rw, fmt.Sprintf("event %d not found", id), r.URL.Path)
		return
	}
	if err != nil {
		w.logger.Warn("failed to load event", zap.Int64("event_id", id), zap.Error(err))
		server.InternalError(rw, "failed to load event", r.URL.Path)
		return
	}
	server.WriteJSON(rw, http.StatusOK, ev)
}

// handleRequeue puts a failed event back in the queue with a fresh attempt
// budget, for manual follow-up of abandoned deliveries.
func (w *Worker) handleRequeue(rw http.ResponseWriter, r *http.Request) {
	id, ok := pathID(rw, r)
	if !ok {
		return
	}
	switch err := w.events.Requeue(r.Context(), id); {
	case errors.Is(err, services.ErrNotFound):
		server.NotFound(rw, fmt.Sprintf("event %d not found", id), r.URL.Path)
		return
	case errors.Is(err, services.ErrInvalidState):
		server.Conflict(rw, fmt.Sprintf("event %d is not failed", id), r.URL.Path)
		return
	case err != nil:
		w.logger.Warn("failed to requeue event", zap.Int64("event_id", id), zap.Error(err))
		server.InternalError(rw, "failed to requeue event", r.URL.Path)
		return
	}
	w.logger.Info("event requeued", zap.Int64("event_id", id))

	ev, err := w.events.Get(r.Context(), id)
	if err != nil {
		server.InternalError(rw, "failed to load event", r.URL.Path)
		return
	}
	server.WriteJSON(rw, http.StatusOK, ev)
}

// handleStats returns event counts per delivery status.
func (w *Worker) handleStats(rw http.ResponseWriter, r *http.Request) {
	counts, err := w.events.CountByStatus(r.Context())
	if err != nil {
		w.logger.Warn("failed to count events", zap.Error(err))
		server.InternalError(rw, "failed to count events", r.URL.Path)
		return
	}
	server.WriteJSON(rw, http.StatusOK, counts)
}

func pathID(rw http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		server.BadRequest(rw, "event id must be a positive integer", r.URL.Path)
		return 0, false
	}
	return id, true
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

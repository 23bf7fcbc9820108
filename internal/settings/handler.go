// Package settings serves the operator view of the runtime tunables. Values
// are written to the settings table and picked up by each component on its
// next use, so no restart is needed.
package settings

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/HerbHall/gatesync/internal/server"
	"github.com/HerbHall/gatesync/internal/services"
)

// Entry is one tunable as the API reports it.
type Entry struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Default string `json:"default"`
	Set     bool   `json:"set"`
}

type updateRequest struct {
	Value string `json:"value"`
}

// Handler provides HTTP handlers for settings endpoints.
type Handler struct {
	settings services.SettingsRepository
	logger   *zap.Logger
}

// NewHandler creates a settings Handler.
func NewHandler(settings services.SettingsRepository, logger *zap.Logger) *Handler {
	return &Handler{settings: settings, logger: logger}
}

// RegisterRoutes registers settings routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/settings", h.handleList)
	mux.HandleFunc("GET /api/v1/settings/{key}", h.handleGet)
	mux.HandleFunc("PUT /api/v1/settings/{key}", h.handlePut)
	mux.HandleFunc("DELETE /api/v1/settings/{key}", h.handleDelete)
}

// handleList returns every recognized tunable with its effective value.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	stored, err := h.settings.GetAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list settings", zap.Error(err))
		server.InternalError(w, "failed to list settings", r.URL.Path)
		return
	}
	set := make(map[string]string, len(stored))
	for _, s := range stored {
		set[s.Key] = s.Value
	}

	entries := make([]Entry, 0, len(services.Defaults))
	for key, def := range services.Defaults {
		e := Entry{Key: key, Value: def, Default: def}
		if v, ok := set[key]; ok {
			e.Value, e.Set = v, true
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	server.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	def, known := services.Defaults[key]
	if !known {
		server.NotFound(w, "unknown setting "+key, r.URL.Path)
		return
	}
	e := Entry{Key: key, Value: def, Default: def}
	s, err := h.settings.Get(r.Context(), key)
	switch {
	case err == nil:
		e.Value, e.Set = s.Value, true
	case !errors.Is(err, services.ErrNotFound):
		h.logger.Error("failed to get setting", zap.String("key", key), zap.Error(err))
		server.InternalError(w, "failed to get setting", r.URL.Path)
		return
	}
	server.WriteJSON(w, http.StatusOK, e)
}

// handlePut validates and stores one tunable.
func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, known := services.Defaults[key]; !known {
		server.NotFound(w, "unknown setting "+key, r.URL.Path)
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid request body", r.URL.Path)
		return
	}
	value := strings.TrimSpace(req.Value)
	if err := services.Validate(key, value); err != nil {
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	if err := h.settings.Set(r.Context(), key, value); err != nil {
		h.logger.Error("failed to save setting", zap.String("key", key), zap.Error(err))
		server.InternalError(w, "failed to save setting", r.URL.Path)
		return
	}
	h.logger.Info("setting updated", zap.String("key", key), zap.String("value", value))
	server.WriteJSON(w, http.StatusOK, Entry{Key: key, Value: value, Default: services.Defaults[key], Set: true})
}

// handleDelete reverts a tunable to its default.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, known := services.Defaults[key]; !known {
		server.NotFound(w, "unknown setting "+key, r.URL.Path)
		return
	}
	if err := h.settings.Delete(r.Context(), key); err != nil && !errors.Is(err, services.ErrNotFound) {
		h.logger.Error("failed to delete setting", zap.String("key", key), zap.Error(err))
		server.InternalError(w, "failed to delete setting", r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

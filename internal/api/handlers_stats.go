package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shohag/formhook/internal/faults"
	"github.com/shohag/formhook/internal/storage"
)

type StatsHandler struct {
	store storage.Storage
}

func NewStatsHandler(store storage.Storage) *StatsHandler {
	return &StatsHandler{store: store}
}

func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "formhook",
	})
}

func (h *StatsHandler) HookStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	hook, err := h.store.GetHook(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get hook")
		return
	}
	if hook == nil {
		writeFault(w, faults.NewHookNotFound(id))
		return
	}

	stats, err := h.store.GetHookStats(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

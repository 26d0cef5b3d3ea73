package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shohag/formhook/internal/faults"
	"github.com/shohag/formhook/internal/models"
	"github.com/shohag/formhook/internal/storage"
)

// LogHandler exposes hook logs read-only, plus the two operator actions.
type LogHandler struct {
	store      storage.Storage
	deliveries Deliveries
}

func NewLogHandler(store storage.Storage, deliveries Deliveries) *LogHandler {
	return &LogHandler{store: store, deliveries: deliveries}
}

func (h *LogHandler) List(w http.ResponseWriter, r *http.Request) {
	hookID := chi.URLParam(r, "id")
	hook, err := h.store.GetHook(r.Context(), hookID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get hook")
		return
	}
	if hook == nil {
		writeFault(w, faults.NewHookNotFound(hookID))
		return
	}

	status := models.HookLogStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	logs, err := h.store.ListHookLogs(r.Context(), storage.LogFilter{
		HookID: hookID,
		Status: status,
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	if logs == nil {
		logs = []models.HookLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *LogHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	l, err := h.store.GetHookLog(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get log")
		return
	}
	if l == nil {
		writeFault(w, faults.NewLogNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *LogHandler) Retry(w http.ResponseWriter, r *http.Request) {
	l, err := h.deliveries.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, l)
}

func (h *LogHandler) Fail(w http.ResponseWriter, r *http.Request) {
	l, err := h.deliveries.ForceFail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

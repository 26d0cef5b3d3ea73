package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shohag/formhook/internal/models"
	"github.com/shohag/formhook/internal/storage"
)

type SubmissionHandler struct {
	store      storage.Storage
	deliveries Deliveries
}

func NewSubmissionHandler(store storage.Storage, deliveries Deliveries) *SubmissionHandler {
	return &SubmissionHandler{store: store, deliveries: deliveries}
}

type createSubmissionRequest struct {
	ID        string              `json:"id"`
	VersionID string              `json:"version_id"`
	Fields    []models.FieldValue `json:"fields"`
}

const maxSubmissionSize = 1024 * 1024 // 1MB

// Create stores a submission and triggers delivery to every active hook of
// the form.
func (h *SubmissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	form, err := h.store.GetForm(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get form")
		return
	}
	if form == nil {
		writeError(w, http.StatusNotFound, "form not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionSize)
	var req createSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Fields) == 0 {
		writeError(w, http.StatusBadRequest, "fields are required")
		return
	}
	if req.ID == "" {
		req.ID = models.NewID("sub")
	}
	if req.VersionID == "" {
		req.VersionID = form.VersionID
	}

	sub := &models.Submission{
		ID:        req.ID,
		FormUID:   form.UID,
		OwnerID:   form.OwnerID,
		VersionID: req.VersionID,
		Fields:    req.Fields,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateSubmission(r.Context(), sub); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create submission")
		return
	}

	logs, err := h.deliveries.TriggerSubmission(r.Context(), form.UID, sub.ID)
	if err != nil {
		writeFault(w, err)
		return
	}
	if logs == nil {
		logs = []models.HookLog{}
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"submission": sub,
		"logs":       logs,
	})
}

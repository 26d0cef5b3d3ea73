package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shohag/formhook/internal/models"
	"github.com/shohag/formhook/internal/storage"
)

// FormHandler manages the forms hooks are registered against. Forms stand in
// for the deployment backend that owns the real schemas.
type FormHandler struct {
	store storage.Storage
}

func NewFormHandler(store storage.Storage) *FormHandler {
	return &FormHandler{store: store}
}

type createFormRequest struct {
	UID       string   `json:"uid"`
	Name      string   `json:"name"`
	OwnerID   string   `json:"owner_id"`
	VersionID string   `json:"version_id"`
	Fields    []string `json:"fields"`
}

func (h *FormHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createFormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	if len(req.Fields) == 0 {
		writeError(w, http.StatusBadRequest, "fields are required")
		return
	}
	for _, f := range req.Fields {
		if strings.TrimSpace(f) == "" || strings.HasPrefix(f, "/") || strings.HasSuffix(f, "/") {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid field path %q", f))
			return
		}
	}
	if req.UID == "" {
		req.UID = models.NewID("fm")
	}

	existing, err := h.store.GetForm(r.Context(), req.UID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get form")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "form already exists")
		return
	}

	now := time.Now().UTC()
	form := &models.Form{
		UID:       req.UID,
		Name:      req.Name,
		OwnerID:   req.OwnerID,
		VersionID: req.VersionID,
		Fields:    req.Fields,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateForm(r.Context(), form); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create form")
		return
	}

	writeJSON(w, http.StatusCreated, form)
}

func (h *FormHandler) Get(w http.ResponseWriter, r *http.Request) {
	form, err := h.store.GetForm(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get form")
		return
	}
	if form == nil {
		writeError(w, http.StatusNotFound, "form not found")
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (h *FormHandler) List(w http.ResponseWriter, r *http.Request) {
	forms, err := h.store.ListForms(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list forms")
		return
	}
	if forms == nil {
		forms = []models.Form{}
	}
	writeJSON(w, http.StatusOK, forms)
}

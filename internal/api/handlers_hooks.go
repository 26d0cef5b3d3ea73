package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shohag/formhook/internal/faults"
	"github.com/shohag/formhook/internal/models"
	"github.com/shohag/formhook/internal/storage"
)

type HookHandler struct {
	store      storage.Storage
	deliveries Deliveries
}

func NewHookHandler(store storage.Storage, deliveries Deliveries) *HookHandler {
	return &HookHandler{store: store, deliveries: deliveries}
}

type hookRequest struct {
	Name            string              `json:"name"`
	Endpoint        string              `json:"endpoint"`
	Active          *bool               `json:"active"`
	Format          models.ExportFormat `json:"export_type"`
	SubsetFields    []string            `json:"subset_fields"`
	PayloadTemplate string              `json:"payload_template"`
	Settings        models.HookSettings `json:"settings"`
	// Sign generates a signing secret when settings carry none.
	Sign bool `json:"sign"`
}

func (h *HookHandler) Create(w http.ResponseWriter, r *http.Request) {
	form, err := h.store.GetForm(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get form")
		return
	}
	if form == nil {
		writeError(w, http.StatusNotFound, "form not found")
		return
	}

	var req hookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Format == "" {
		req.Format = models.FormatJSON
	}

	now := time.Now().UTC()
	hook := &models.Hook{
		ID:              models.NewID("hk"),
		FormUID:         form.UID,
		Name:            req.Name,
		Endpoint:        req.Endpoint,
		Active:          req.Active == nil || *req.Active,
		Format:          req.Format,
		SubsetFields:    req.SubsetFields,
		PayloadTemplate: req.PayloadTemplate,
		Settings:        req.Settings,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if hook.SubsetFields == nil {
		hook.SubsetFields = []string{}
	}
	if req.Sign && hook.Settings.Secret == "" {
		hook.Settings.Secret = models.NewSecret()
	}
	if err := validateHook(hook, form); err != nil {
		writeFault(w, err)
		return
	}

	if err := h.store.CreateHook(r.Context(), hook); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create hook")
		return
	}

	writeJSON(w, http.StatusCreated, hook)
}

func (h *HookHandler) getHook(w http.ResponseWriter, r *http.Request) *models.Hook {
	id := chi.URLParam(r, "id")
	hook, err := h.store.GetHook(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get hook")
		return nil
	}
	if hook == nil {
		writeFault(w, faults.NewHookNotFound(id))
		return nil
	}
	return hook
}

func (h *HookHandler) Get(w http.ResponseWriter, r *http.Request) {
	if hook := h.getHook(w, r); hook != nil {
		writeJSON(w, http.StatusOK, hook)
	}
}

func (h *HookHandler) List(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.store.ListHooks(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list hooks")
		return
	}
	if hooks == nil {
		hooks = []models.Hook{}
	}
	writeJSON(w, http.StatusOK, hooks)
}

// Update replaces the hook's configuration. Logs already rendered keep the
// payload they were rendered with.
func (h *HookHandler) Update(w http.ResponseWriter, r *http.Request) {
	hook := h.getHook(w, r)
	if hook == nil {
		return
	}

	var req hookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != "" {
		hook.Name = req.Name
	}
	if req.Endpoint != "" {
		hook.Endpoint = req.Endpoint
	}
	if req.Active != nil {
		hook.Active = *req.Active
	}
	if req.Format != "" {
		hook.Format = req.Format
	}
	if req.SubsetFields != nil {
		hook.SubsetFields = req.SubsetFields
	}
	hook.PayloadTemplate = req.PayloadTemplate
	secret := hook.Settings.Secret
	hook.Settings = req.Settings
	if req.Sign && hook.Settings.Secret == "" {
		hook.Settings.Secret = secret
		if secret == "" {
			hook.Settings.Secret = models.NewSecret()
		}
	}

	form, err := h.store.GetForm(r.Context(), hook.FormUID)
	if err != nil || form == nil {
		writeError(w, http.StatusInternalServerError, "failed to get form")
		return
	}
	if err := validateHook(hook, form); err != nil {
		writeFault(w, err)
		return
	}

	hook.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateHook(r.Context(), hook); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update hook")
		return
	}

	writeJSON(w, http.StatusOK, hook)
}

func (h *HookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	hook := h.getHook(w, r)
	if hook == nil {
		return
	}

	if err := h.store.DeleteHook(r.Context(), hook.ID); err != nil {
		if errors.Is(err, storage.ErrHookBusy) {
			writeError(w, http.StatusConflict, "hook has deliveries pending")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete hook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HookHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	hook := h.getHook(w, r)
	if hook == nil {
		return
	}

	hook.Active = !hook.Active
	hook.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateHook(r.Context(), hook); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to toggle hook")
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

// RetryFailed re-queues every failed log of the hook.
func (h *HookHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.deliveries.RetryFailed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"retried": n,
	})
}

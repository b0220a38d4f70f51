// internal/handler/tender_handler.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/lemarche/tender-engine/internal/apperrors"
	"github.com/lemarche/tender-engine/internal/model"
	"github.com/lemarche/tender-engine/internal/service"
)

// TenderHandler holds the dependencies for tender-related HTTP handlers
type TenderHandler struct {
	Tenders  *service.TenderService
	Tracker  *service.TrackerService
	Notifier *service.NotifyService
	Log      zerolog.Logger
}

// Routes mounts every tender endpoint on a chi router.
func (h *TenderHandler) Routes(r chi.Router) {
	r.Post("/tenders", h.CreateTenderHandler)
	r.Get("/tenders", h.ListTendersHandler)
	r.Get("/tenders/{slug}", h.GetTenderHandler)
	r.Post("/tenders/{id}/submit", h.SubmitTenderHandler)
	r.Post("/tenders/{id}/validate", h.ValidateTenderHandler)
	r.Post("/tenders/{id}/request-modification", h.RequestModificationHandler)
	r.Post("/tenders/{id}/reject", h.RejectTenderHandler)
	r.Post("/tenders/{slug}/suppliers/{supplierID}/events", h.RecordEventHandler)
	r.Post("/webhooks/mail", h.MailWebhookHandler)
}

// CreateTenderHandler handles creating a new tender draft
func (h *TenderHandler) CreateTenderHandler(w http.ResponseWriter, r *http.Request) {
	authorID, ok := authorFromRequest(r)
	if !ok {
		http.Error(w, "missing or invalid X-User-ID header", http.StatusUnauthorized)
		return
	}

	var payload service.CreateTenderInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	tender, err := h.Tenders.CreateTender(r.Context(), authorID, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tender)
}

// ListTendersHandler returns a paginated list of tenders
func (h *TenderHandler) ListTendersHandler(w http.ResponseWriter, r *http.Request) {
	pageStr := r.URL.Query().Get("page")
	pageSizeStr := r.URL.Query().Get("page_size")
	page := 1
	pageSize := 10

	if pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 {
			pageSize = ps
		}
	}

	status := r.URL.Query().Get("status")
	kind := r.URL.Query().Get("kind")

	tenders, pagination, err := h.Tenders.ListTenders(r.Context(), page, pageSize, status, kind)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response := map[string]interface{}{
		"data":       tenders,
		"pagination": pagination,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// GetTenderHandler returns details of a single tender by slug
func (h *TenderHandler) GetTenderHandler(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	tender, err := h.Tenders.GetBySlug(r.Context(), slug)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tender)
}

func (h *TenderHandler) SubmitTenderHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Tenders.Submit)
}

func (h *TenderHandler) ValidateTenderHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Tenders.Validate)
}

func (h *TenderHandler) RequestModificationHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Tenders.RequestModification)
}

// RejectTenderHandler rejects a tender with an optional reason
func (h *TenderHandler) RejectTenderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := tenderID(r)
	if err != nil {
		http.Error(w, "invalid tender id", http.StatusBadRequest)
		return
	}

	var payload struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	tender, err := h.Tenders.Reject(r.Context(), id, payload.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tender)
}

// RecordEventHandler records one supplier interaction on a tender link
func (h *TenderHandler) RecordEventHandler(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	supplierIDStr := chi.URLParam(r, "supplierID")
	supplierID, err := strconv.ParseInt(supplierIDStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid supplier id", http.StatusBadRequest)
		return
	}

	var payload struct {
		EventKind string `json:"event_kind"`
		// older callers used "event"
		Event string `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if payload.EventKind == "" {
		payload.EventKind = payload.Event
	}

	tender, err := h.Tenders.GetBySlug(r.Context(), slug)
	if err != nil {
		h.writeError(w, err)
		return
	}

	link, err := h.Tracker.Record(r.Context(), tender.ID, supplierID, payload.EventKind)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(link)
}

// MailWebhookHandler ingests delivery events pushed by the mail provider
func (h *TenderHandler) MailWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MessageID string `json:"message_id"`
		Event     string `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if payload.MessageID == "" {
		http.Error(w, "message_id is required", http.StatusBadRequest)
		return
	}

	if err := h.Notifier.HandleProviderEvent(r.Context(), payload.MessageID, payload.Event); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *TenderHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, int64) (*model.Tender, error)) {
	id, err := tenderID(r)
	if err != nil {
		http.Error(w, "invalid tender id", http.StatusBadRequest)
		return
	}

	tender, err := op(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tender)
}

func tenderID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func authorFromRequest(r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// writeError maps domain errors onto HTTP status codes.
func (h *TenderHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	var validation *apperrors.ValidationError
	var notFound *apperrors.TenderNotFoundError
	var linkNotFound *apperrors.LinkNotFoundError
	var illegal *apperrors.IllegalTransitionError
	var conflict *apperrors.ConflictingStateError
	var backpressure *apperrors.BackpressureError

	switch {
	case errors.As(err, &validation):
		status, code = http.StatusBadRequest, validation.Code()
	case errors.As(err, &notFound):
		status, code = http.StatusNotFound, notFound.Code()
	case errors.As(err, &linkNotFound):
		status, code = http.StatusNotFound, linkNotFound.Code()
	case errors.As(err, &illegal):
		status, code = http.StatusConflict, illegal.Code()
	case errors.As(err, &conflict):
		status, code = http.StatusConflict, conflict.Code()
	case errors.As(err, &backpressure):
		status, code = http.StatusServiceUnavailable, backpressure.Code()
	default:
		h.Log.Error().Err(err).Msg("request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": err.Error(),
	})
}

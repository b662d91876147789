// Package transport provides HTTP handlers for the whitelist domain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/trustgate/internal/circuit"
	"github.com/pendergraft/trustgate/internal/whitelist/domain"
)

// Service defines the whitelist service interface for HTTP transport.
type Service interface {
	Submit(ctx context.Context, req domain.SubmitRequest) (*domain.Entry, error)
	Get(ctx context.Context, address string) (*domain.Entry, error)
	List(ctx context.Context, filter domain.ListFilter, pagination domain.PaginationParams) (*domain.ListResult, error)
	GetThreshold(ctx context.Context) (*domain.Threshold, error)
	UpdateThreshold(ctx context.Context, value string) (*domain.Threshold, error)
}

// Handler handles HTTP requests for the whitelist.
type Handler struct {
	svc            Service
	authMiddleware func(http.Handler) http.Handler
}

// NewHandler creates a new whitelist HTTP handler. The auth middleware
// guards the threshold update route; pass nil to leave it open.
func NewHandler(svc Service, authMiddleware func(http.Handler) http.Handler) *Handler {
	return &Handler{svc: svc, authMiddleware: authMiddleware}
}

// RegisterRoutes registers the whitelist routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/whitelist", func(r chi.Router) {
		r.Post("/submit", h.handleSubmit)
		r.Get("/", h.handleList)
		r.Get("/threshold", h.handleGetThreshold)

		if h.authMiddleware != nil {
			r.With(h.authMiddleware).Put("/threshold", h.handleUpdateThreshold)
		} else {
			r.Put("/threshold", h.handleUpdateThreshold)
		}

		r.Get("/{address}", h.handleGet)
	})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	var req domain.SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}

	entry, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSubmission):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		case errors.Is(err, circuit.ErrInvalidProof):
			writeError(w, http.StatusBadRequest, "INVALID_PROOF", "Proof verification failed")
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process submission")
		}
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	entry, err := h.svc.Get(r.Context(), address)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSubmission):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get whitelist entry")
		}
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := domain.ListFilter{
		State: r.URL.Query().Get("state"),
	}
	if v := r.URL.Query().Get("whitelisted"); v != "" {
		whitelisted := v == "true" || v == "1"
		filter.Whitelisted = &whitelisted
	}

	pagination := domain.PaginationParams{
		Cursor: r.URL.Query().Get("cursor"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			pagination.Limit = limit
		}
	}

	result, err := h.svc.List(r.Context(), filter, pagination)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list whitelist entries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetThreshold(w http.ResponseWriter, r *http.Request) {
	threshold, err := h.svc.GetThreshold(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get threshold")
		return
	}
	writeJSON(w, http.StatusOK, threshold)
}

func (h *Handler) handleUpdateThreshold(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	var req UpdateThresholdRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}

	threshold, err := h.svc.UpdateThreshold(r.Context(), req.Threshold)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidThreshold):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update threshold")
		}
		return
	}

	writeJSON(w, http.StatusOK, threshold)
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

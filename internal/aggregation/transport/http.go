// Package transport provides HTTP handlers for the aggregation domain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/trustgate/internal/aggregation/domain"
	"github.com/pendergraft/trustgate/internal/circuit"
)

// Service defines the aggregation service interface for HTTP transport.
type Service interface {
	Submit(ctx context.Context, att domain.Attestation) error
	Certify(ctx context.Context, address, epoch string) (*domain.Certification, error)
	Get(ctx context.Context, address, epoch string) (*domain.Certification, error)
}

// Handler handles HTTP requests for attestation aggregation.
type Handler struct {
	svc            Service
	authMiddleware func(http.Handler) http.Handler
	now            func() time.Time
}

// NewHandler creates a new aggregation HTTP handler. The auth middleware
// guards vendor submission; pass nil to leave it open.
func NewHandler(svc Service, authMiddleware func(http.Handler) http.Handler) *Handler {
	return &Handler{svc: svc, authMiddleware: authMiddleware, now: time.Now}
}

// RegisterRoutes registers the aggregation routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	if h.authMiddleware != nil {
		r.With(h.authMiddleware).Post("/attestations", h.handleSubmit)
	} else {
		r.Post("/attestations", h.handleSubmit)
	}
	r.Get("/certifications/{address}", h.handleGetCertification)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	var att domain.Attestation
	if err := json.Unmarshal(body, &att); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}

	if err := h.svc.Submit(r.Context(), att); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidAttestation):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		case errors.Is(err, circuit.ErrInvalidProof):
			writeError(w, http.StatusBadRequest, "INVALID_PROOF", "Proof verification failed")
		case errors.Is(err, domain.ErrDuplicateVendor):
			writeError(w, http.StatusConflict, "DUPLICATE", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to record attestation")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		Status:   "accepted",
		VendorID: att.VendorID,
		Address:  att.Address,
		Epoch:    att.Epoch,
	})
}

func (h *Handler) handleGetCertification(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	epoch := r.URL.Query().Get("epoch")
	if epoch == "" {
		epoch = h.now().UTC().Format("2006-01-02")
	}

	cert, err := h.svc.Get(r.Context(), address, epoch)
	if errors.Is(err, domain.ErrNotFound) {
		// No recorded outcome yet; report the live round state instead
		cert, err = h.svc.Certify(r.Context(), address, epoch)
	}
	if err != nil && !errors.Is(err, domain.ErrDisputed) {
		switch {
		case errors.Is(err, domain.ErrQuorumNotMet):
			writeError(w, http.StatusNotFound, "QUORUM_NOT_MET", err.Error())
		case errors.Is(err, domain.ErrInvalidAttestation):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get certification")
		}
		return
	}

	writeJSON(w, http.StatusOK, cert)
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

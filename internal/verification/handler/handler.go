package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"politikcred/internal/domain"
	"politikcred/internal/platform/metrics"
	"politikcred/internal/platform/middleware"
	dErrors "politikcred/pkg/domain-errors"
	"politikcred/pkg/platform/httputil"
)

// Service is the moderation API the handler drives.
type Service interface {
	Dispute(ctx context.Context, id domain.VerificationID, reason string) (*domain.Verification, error)
	Resolve(ctx context.Context, id domain.VerificationID, outcome domain.MatchType) (*domain.Verification, error)
}

// Handler serves the admin moderation endpoints.
type Handler struct {
	moderation Service
	logger     *slog.Logger
	metrics    *metrics.Metrics
	adminToken string
}

func New(moderation Service, logger *slog.Logger, metrics *metrics.Metrics, adminToken string) *Handler {
	return &Handler{
		moderation: moderation,
		logger:     logger,
		metrics:    metrics,
		adminToken: adminToken,
	}
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	Outcome domain.MatchType `json:"outcome"`
}

// Register mounts the moderation routes under /admin/verifications.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(15 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.LatencyMiddleware(h.metrics))
	router.Use(middleware.RequireAdminToken(h.adminToken, h.logger))
	router.Post("/{id}/dispute", h.handleDispute)
	router.Post("/{id}/resolve", h.handleResolve)

	r.Mount("/admin/verifications", router)
}

func (h *Handler) handleDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.verificationID(w, r)
	if !ok {
		return
	}
	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badBody(w, r, err)
		return
	}
	v, err := h.moderation.Dispute(ctx, id, req.Reason)
	if err != nil {
		h.fail(w, r, "dispute", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.verificationID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badBody(w, r, err)
		return
	}
	v, err := h.moderation.Resolve(ctx, id, req.Outcome)
	if err != nil {
		h.fail(w, r, "resolve", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) verificationID(w http.ResponseWriter, r *http.Request) (domain.VerificationID, bool) {
	id, err := domain.ParseVerificationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.VerificationID{}, false
	}
	return id, true
}

func (h *Handler) badBody(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WarnContext(r.Context(), "invalid moderation request",
		"request_id", middleware.GetRequestID(r.Context()),
		"error", err.Error(),
	)
	httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(r.Context(), "moderation failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"operation", op,
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}

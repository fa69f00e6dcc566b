package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"politikcred/internal/domain"
	"politikcred/internal/pipeline/models"
	"politikcred/internal/platform/metrics"
	"politikcred/internal/platform/middleware"
	dErrors "politikcred/pkg/domain-errors"
	"politikcred/pkg/platform/httputil"
	"politikcred/pkg/requestcontext"
)

// Service is the orchestrator API the handler drives.
type Service interface {
	Run(ctx context.Context, trigger models.Trigger) (*models.Summary, error)
	Cancel(runID domain.RunID) error
	Current(ctx context.Context) (domain.RunState, error)
}

// Handler serves the scheduler-facing run endpoints.
type Handler struct {
	pipeline  Service
	validator middleware.TriggerValidator
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func New(pipeline Service, validator middleware.TriggerValidator, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		pipeline:  pipeline,
		validator: validator,
		logger:    logger,
		metrics:   metrics,
	}
}

// runStateResponse is RunState without the stored summary blob.
type runStateResponse struct {
	domain.RunState
	Active bool `json:"active"`
}

// Register mounts the run routes under /v1/pipeline/runs. Runs are
// synchronous and long, so no request timeout applies here.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.LatencyMiddleware(h.metrics))
	router.Use(middleware.RequireTrigger(h.validator, h.logger))
	router.Post("/", h.handleRun)
	router.Get("/current", h.handleCurrent)
	router.Post("/{id}/cancel", h.handleCancel)

	r.Mount("/v1/pipeline/runs", router)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	// A scheduler that hangs up does not abort the run; use cancel for that.
	ctx := context.WithoutCancel(r.Context())
	summary, err := h.pipeline.Run(ctx, models.Trigger{
		Origin:  "http",
		Subject: requestcontext.TriggeredBy(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "pipeline run did not start",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	st, err := h.pipeline.Current(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, runStateResponse{RunState: st, Active: st.Status == domain.RunRunning})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid run id"))
		return
	}
	if err := h.pipeline.Cancel(id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "pipeline run cancel requested",
		"request_id", middleware.GetRequestID(ctx),
		"run_id", id.String(),
		"subject", requestcontext.TriggeredBy(ctx),
	)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"run_id": id.String(), "status": "cancelling"})
}

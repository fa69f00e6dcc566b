package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"politikcred/internal/app"
	jwttoken "politikcred/internal/jwt_token"
	pipelinehandler "politikcred/internal/pipeline/handler"
	"politikcred/internal/platform/middleware"
	verificationhandler "politikcred/internal/verification/handler"
	"politikcred/pkg/platform/httputil"
)

const healthTimeout = 2 * time.Second

// Checker reports whether one backing dependency is reachable.
type Checker func(ctx context.Context) error

// NewRouter mounts every public route of the server.
func NewRouter(a *app.App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(a.Logger))

	r.Get("/healthz", Health(a.Logger, checks(a)))
	r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

	pipelinehandler.New(a.Pipeline, jwttoken.NewJWTServiceAdapter(a.Triggers), a.Logger, a.HTTPMetrics).Register(r)
	if a.Config.Server.AdminToken != "" {
		verificationhandler.New(a.Moderation, a.Logger, a.HTTPMetrics, a.Config.Server.AdminToken).Register(r)
	} else {
		a.Logger.Warn("admin token not set, moderation endpoints disabled")
	}
	return r
}

func checks(a *app.App) map[string]Checker {
	out := map[string]Checker{}
	if a.DB != nil {
		out["postgres"] = a.DB.PingContext
	}
	if a.Redis != nil {
		out["redis"] = a.Redis.Health
	}
	if a.Kafka != nil {
		out["kafka"] = a.Kafka.Health
	}
	return out
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health answers 200 when every checker passes and 503 otherwise.
func Health(logger *slog.Logger, checkers map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: map[string]string{}}
		for name, check := range checkers {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
				resp.Status = "degraded"
				resp.Checks[name] = "down"
				continue
			}
			resp.Checks[name] = "up"
		}
		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, resp)
	}
}

package handler

import (
	"net/http"
	"time"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
	"github.com/fiscalhub/apuracao-engine-go/internal/infra/observability"
	"github.com/fiscalhub/apuracao-engine-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(apuracao *service.ApuracaoService, batch *service.BatchCoordinator, rules *service.RuleService, extraction *service.ExtractionPipeline, metrics *observability.Metrics, logger *zap.Logger, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if jwtSecret != "" {
			r.Use(BearerAuthMiddleware(jwtSecret, logger))
		}

		// Assessment runs
		r.Post("/companies/{companyID}/runs", createRunHandler(apuracao, logger))
		r.Get("/runs/{runID}", getRunHandler(apuracao, logger))

		// Batch processing
		r.Post("/batch", batchHandler(batch, logger))

		// Rule management
		r.Get("/companies/{companyID}/rules", listRulesHandler(rules, logger))
		r.Post("/companies/{companyID}/rules", admitRuleHandler(rules, logger))
		r.Delete("/companies/{companyID}/rules/{ruleID}", deactivateRuleHandler(rules, logger))
		r.Post("/companies/{companyID}/rules/extract", extractRulesHandler(extraction, logger))

		// Engine counters
		r.Get("/metrics/engine", engineMetricsHandler(metrics))
	})

	return r
}

// ============================================================
// Health & engine metrics
// ============================================================

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)
		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status: "healthy",
			Services: []domain.ServiceHealth{
				{Name: "apuracao-engine", Status: "healthy", LatencyMs: 0, LastChecked: now},
			},
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func engineMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetEngineSnapshot())
	}
}

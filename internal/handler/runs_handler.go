package handler

import (
	"encoding/json"
	"net/http"

	"github.com/fiscalhub/apuracao-engine-go/internal/domain"
	"github.com/fiscalhub/apuracao-engine-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Assessment runs — POST /v1/companies/{companyID}/runs
// ============================================================

func createRunHandler(svc *service.ApuracaoService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/companies/{companyID}/runs")
		defer span.End()

		companyID := chi.URLParam(r, "companyID")
		if companyID == "" {
			writeError(w, http.StatusBadRequest, "company_id is required")
			return
		}
		span.SetAttributes(attribute.String("company.id", companyID))

		var req struct {
			Period     string `json:"period"`
			DocumentID string `json:"document_id,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Period == "" {
			writeError(w, http.StatusBadRequest, "period is required")
			return
		}

		var result *domain.ApuracaoRun
		if req.DocumentID != "" {
			result = svc.RunDocument(ctx, companyID, req.Period, req.DocumentID)
		} else {
			result = svc.Run(ctx, companyID, req.Period)
		}

		writeJSON(w, http.StatusCreated, result)
	}
}

// ============================================================
// Run lookup — GET /v1/runs/{runID}
// ============================================================

func getRunHandler(svc *service.ApuracaoService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/runs/{runID}")
		defer span.End()

		runID := chi.URLParam(r, "runID")
		if runID == "" {
			writeError(w, http.StatusBadRequest, "run_id is required")
			return
		}

		run, err := svc.GetRun(ctx, runID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

// ============================================================
// Batch — POST /v1/batch
// ============================================================

func batchHandler(svc *service.BatchCoordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/batch")
		defer span.End()

		var req struct {
			CompanyID   string   `json:"company_id"`
			Period      string   `json:"period"`
			DocumentIDs []string `json:"document_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.CompanyID == "" {
			writeError(w, http.StatusBadRequest, "company_id is required")
			return
		}
		if req.Period == "" {
			writeError(w, http.StatusBadRequest, "period is required")
			return
		}
		if len(req.DocumentIDs) == 0 {
			writeError(w, http.StatusBadRequest, "document_ids must not be empty")
			return
		}
		span.SetAttributes(
			attribute.String("company.id", req.CompanyID),
			attribute.Int("documents", len(req.DocumentIDs)),
		)

		result := svc.Process(ctx, req.CompanyID, req.Period, req.DocumentIDs)
		writeJSON(w, http.StatusOK, result)
	}
}

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
// Rule listing — GET /v1/companies/{companyID}/rules
// ============================================================

func listRulesHandler(svc *service.RuleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/companies/{companyID}/rules")
		defer span.End()

		companyID := chi.URLParam(r, "companyID")
		rules, err := svc.ListRules(ctx, companyID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		page, pageSize := parsePagination(r)
		total := len(rules)
		start := (page - 1) * pageSize
		if start > total {
			start = total
		}
		end := start + pageSize
		if end > total {
			end = total
		}

		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Rule]{
			Data:     rules[start:end],
			Total:    total,
			Page:     page,
			PageSize: pageSize,
			HasMore:  end < total,
		})
	}
}

// ============================================================
// Manual rule admission — POST /v1/companies/{companyID}/rules
// ============================================================

func admitRuleHandler(svc *service.RuleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/companies/{companyID}/rules")
		defer span.End()

		companyID := chi.URLParam(r, "companyID")
		if companyID == "" {
			writeError(w, http.StatusBadRequest, "company_id is required")
			return
		}
		span.SetAttributes(attribute.String("company.id", companyID))

		var candidate domain.CandidateRule
		if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rule, err := svc.Admit(ctx, companyID, candidate, domain.ProvenanceManual)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, rule)
	}
}

// ============================================================
// Rule deactivation — DELETE /v1/companies/{companyID}/rules/{ruleID}
// ============================================================

func deactivateRuleHandler(svc *service.RuleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/companies/{companyID}/rules/{ruleID}")
		defer span.End()

		companyID := chi.URLParam(r, "companyID")
		ruleID := chi.URLParam(r, "ruleID")

		if err := svc.Deactivate(ctx, companyID, ruleID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ============================================================
// Rule extraction — POST /v1/companies/{companyID}/rules/extract
// ============================================================

func extractRulesHandler(svc *service.ExtractionPipeline, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/companies/{companyID}/rules/extract")
		defer span.End()

		companyID := chi.URLParam(r, "companyID")
		if companyID == "" {
			writeError(w, http.StatusBadRequest, "company_id is required")
			return
		}
		span.SetAttributes(attribute.String("company.id", companyID))

		var req struct {
			SourceText string `json:"source_text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.SourceText == "" {
			writeError(w, http.StatusBadRequest, "source_text is required")
			return
		}

		report := svc.Extract(ctx, companyID, req.SourceText)
		writeJSON(w, http.StatusOK, report)
	}
}

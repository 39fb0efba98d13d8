// Package handlers provides HTTP handlers for the clinical API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/simplhealth/go-cds/internal/api/middleware"
	"github.com/simplhealth/go-cds/internal/domain/analysis"
	"github.com/simplhealth/go-cds/internal/infrastructure/pcc"
	"github.com/simplhealth/go-cds/internal/observability/metrics"
)

// SummaryFetcher pulls a patient summary from the EHR gateway.
type SummaryFetcher interface {
	Summary(ctx context.Context, simplID string) (*pcc.Summary, error)
}

// AnalysisHandler handles analysis endpoints
type AnalysisHandler struct {
	orchestrator *analysis.Orchestrator
	results      analysis.ResultStore
	summaries    SummaryFetcher
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewAnalysisHandler creates a new handler. The summary fetcher is optional;
// without it the summary endpoint returns 503.
func NewAnalysisHandler(
	orchestrator *analysis.Orchestrator,
	results analysis.ResultStore,
	summaries SummaryFetcher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *AnalysisHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisHandler{
		orchestrator: orchestrator,
		results:      results,
		summaries:    summaries,
		metrics:      m,
		logger:       logger,
	}
}

// Routes returns the handler routes
func (h *AnalysisHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/patients/{simplID}/analysis", h.RunPatient)
	r.Get("/patients/{simplID}/analysis", h.GetResults)
	r.Get("/patients/{simplID}/summary", h.GetSummary)
	r.Post("/facilities/{facilityID}/analysis", h.RunFacility)
	return r
}

// RunResponse is the response for a patient analysis run
type RunResponse struct {
	SimplID     string             `json:"simpl_id"`
	ResultCount int                `json:"result_count"`
	Results     []*analysis.Result `json:"results"`
	CompletedAt time.Time          `json:"completed_at"`
}

// RunPatient handles POST /patients/{simplID}/analysis
func (h *AnalysisHandler) RunPatient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	simplID := chi.URLParam(r, "simplID")

	tracer := otel.Tracer("analysis-handler")
	ctx, span := tracer.Start(ctx, "run_patient_analysis")
	defer span.End()
	span.SetAttributes(attribute.String("simpl_id", simplID))

	start := time.Now()
	results, err := h.orchestrator.AnalyzePatient(ctx, simplID)
	if err != nil {
		if errors.Is(err, analysis.ErrEmptySimplID) {
			h.jsonError(w, "simpl id is required", http.StatusBadRequest)
			return
		}
		h.metrics.AnalysesFailed.Inc()
		h.logger.Error("analysis run failed",
			zap.String("simpl_id", simplID),
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err))
		h.jsonError(w, "analysis failed", http.StatusInternalServerError)
		return
	}

	h.metrics.AnalysesCompleted.Inc()
	h.metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	for _, res := range results {
		h.metrics.ResultsBySeverity.WithLabelValues(res.AnalysisType, string(res.Severity)).Inc()
	}

	h.logger.Info("analysis run completed",
		zap.String("simpl_id", simplID),
		zap.Int("results", len(results)),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	h.writeJSON(w, http.StatusOK, RunResponse{
		SimplID:     simplID,
		ResultCount: len(results),
		Results:     results,
		CompletedAt: time.Now().UTC(),
	})
}

// GetResults handles GET /patients/{simplID}/analysis
func (h *AnalysisHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	simplID := chi.URLParam(r, "simplID")
	if simplID == "" {
		h.jsonError(w, "simpl id is required", http.StatusBadRequest)
		return
	}

	results, err := h.results.CurrentResults(ctx, simplID)
	if err != nil {
		h.logger.Error("results lookup failed",
			zap.String("simpl_id", simplID),
			zap.Error(err))
		h.jsonError(w, "failed to load results", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"simpl_id": simplID,
		"count":    len(results),
		"results":  results,
	})
}

// GetSummary handles GET /patients/{simplID}/summary
func (h *AnalysisHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	simplID := chi.URLParam(r, "simplID")
	if simplID == "" {
		h.jsonError(w, "simpl id is required", http.StatusBadRequest)
		return
	}
	if h.summaries == nil {
		h.jsonError(w, "summary service not configured", http.StatusServiceUnavailable)
		return
	}

	summary, err := h.summaries.Summary(ctx, simplID)
	if err != nil {
		h.logger.Error("summary fetch failed",
			zap.String("simpl_id", simplID),
			zap.Error(err))
		h.jsonError(w, "failed to fetch summary", http.StatusBadGateway)
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

// RunFacility handles POST /facilities/{facilityID}/analysis
func (h *AnalysisHandler) RunFacility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	facilityID := chi.URLParam(r, "facilityID")

	tracer := otel.Tracer("analysis-handler")
	ctx, span := tracer.Start(ctx, "run_facility_analysis")
	defer span.End()
	span.SetAttributes(attribute.String("facility_id", facilityID))

	run, err := h.orchestrator.AnalyzeFacility(ctx, facilityID)
	if err != nil {
		h.logger.Error("facility run failed",
			zap.String("facility_id", facilityID),
			zap.Error(err))
		h.jsonError(w, "facility analysis failed", http.StatusInternalServerError)
		return
	}

	h.metrics.FacilityRunsCompleted.Inc()
	h.writeJSON(w, http.StatusOK, run)
}

func (h *AnalysisHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *AnalysisHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

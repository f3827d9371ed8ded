// Package chi exposes the HTTP API.
package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/helixcare/casematch/internal/domain"
	healthuc "github.com/helixcare/casematch/internal/usecase/health"
	intakeuc "github.com/helixcare/casematch/internal/usecase/intake"
	literatureuc "github.com/helixcare/casematch/internal/usecase/literature"
	patientuc "github.com/helixcare/casematch/internal/usecase/patient"
	similarityuc "github.com/helixcare/casematch/internal/usecase/similarity"
)

// Error codes returned in the body of failed responses.
const (
	codeBadRequest          = "bad_request"
	codeNotFound            = "not_found"
	codeExternalUnavailable = "external_unavailable"
	codeInternalError       = "internal_error"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server wires the usecase services into HTTP handlers.
type Server struct {
	intake        *intakeuc.Service
	literature    *literatureuc.Service
	similarity    *similarityuc.Service
	patients      *patientuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	intake *intakeuc.Service,
	literature *literatureuc.Service,
	similarity *similarityuc.Service,
	patients *patientuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		intake:     intake,
		literature: literature,
		similarity: similarity,
		patients:   patients,
		health:     health,
		logger:     logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrMissingInput, http.StatusBadRequest, codeBadRequest),
		sentinelHandler(domain.ErrPatientNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrNoLiteratureMatch, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrMalformedSegmentation, http.StatusBadGateway, codeExternalUnavailable),
		sentinelHandler(domain.ErrExternalUnavailable, http.StatusBadGateway, codeExternalUnavailable),
	}
	return s
}

// Register mounts all routes on the router.
func (s *Server) Register(r chi.Router) {
	r.Post("/parse_input", s.ParseInput)
	r.Post("/summarize", s.Summarize)
	r.Post("/search-patient", s.SearchPatient)
	r.Post("/similar_patients", s.SimilarPatients)
	r.Get("/patient_summary/{patient_id}", s.PatientSummary)
	r.Get("/patients_list", s.PatientsList)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// ParseInput handles POST /parse_input.
func (s *Server) ParseInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "input is required")
		return
	}

	parsed, err := s.intake.Parse(r.Context(), req.Input)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"structured_data": parsed})
}

// Summarize handles POST /summarize: a single literature query, no tiering.
func (s *Server) Summarize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "query is required")
		return
	}

	summaries, err := s.literature.Summarize(r.Context(), req.Query)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}

// SearchPatient handles POST /search-patient: the tiered literature search.
func (s *Server) SearchPatient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Patient map[string]any `json:"patient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Patient) == 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Patient data is required")
		return
	}

	result, err := s.literature.Search(r.Context(), domain.ParseProfile(req.Patient))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"patient": req.Patient,
		"results": map[string]any{
			fmt.Sprintf("Tier %d", result.Tier): map[string]any{
				"query":     result.Query,
				"summaries": result.Summaries,
			},
		},
	})
}

// SimilarPatients handles POST /similar_patients.
func (s *Server) SimilarPatients(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatientID string `json:"patient_id"`
		Input     string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.PatientID == "" || req.Input == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "patient_id and input are required")
		return
	}

	matches, err := s.similarity.FindSimilar(r.Context(), req.PatientID, req.Input)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if matches == nil {
		matches = []similarityuc.Match{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// PatientSummary handles GET /patient_summary/{patient_id}.
func (s *Server) PatientSummary(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patient_id")
	firstName := r.URL.Query().Get("first_name")
	lastName := r.URL.Query().Get("last_name")

	summary, err := s.patients.GetSummary(r.Context(), patientID, firstName, lastName)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

// PatientsList handles GET /patients_list.
func (s *Server) PatientsList(w http.ResponseWriter, r *http.Request) {
	patients, err := s.patients.List(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]map[string]string, len(patients))
	for i, p := range patients {
		items[i] = map[string]string{
			"id":         p.ID,
			"first_name": p.FirstName,
			"last_name":  p.LastName,
		}
	}

	writeJSON(w, http.StatusOK, items)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrMissingInput,
		domain.ErrPatientNotFound,
		domain.ErrNoLiteratureMatch,
		domain.ErrNotFound,
		domain.ErrMalformedSegmentation,
		domain.ErrExternalUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

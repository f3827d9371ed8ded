package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/helixcare/casematch/internal/domain"
	healthuc "github.com/helixcare/casematch/internal/usecase/health"
	intakeuc "github.com/helixcare/casematch/internal/usecase/intake"
	literatureuc "github.com/helixcare/casematch/internal/usecase/literature"
	patientuc "github.com/helixcare/casematch/internal/usecase/patient"
	similarityuc "github.com/helixcare/casematch/internal/usecase/similarity"
)

type stubIndex struct {
	searchFn func(query string, maxResults int) ([]string, error)
}

func (s *stubIndex) Search(_ context.Context, query string, maxResults int) ([]string, error) {
	if s.searchFn != nil {
		return s.searchFn(query, maxResults)
	}
	return nil, nil
}

func (s *stubIndex) FetchAbstract(_ context.Context, id string) (string, error) {
	return "abstract " + id, nil
}

type stubOracle struct{}

func (stubOracle) CaseSummary(_ context.Context, abstract string) (domain.StructuredSummary, error) {
	return domain.StructuredSummary{"title": abstract}, nil
}

func (stubOracle) ParseClinicalInput(_ context.Context, _ string) (domain.StructuredSummary, error) {
	return domain.StructuredSummary{"conditions": []any{"flu"}}, nil
}

func (stubOracle) PatientSummary(_ context.Context, rec domain.PatientRecord) (domain.StructuredSummary, error) {
	return domain.StructuredSummary{"overview": "summary of " + rec.Patient.ID}, nil
}

func (stubOracle) SegmentSymptoms(_ context.Context, input string) ([]string, error) {
	return strings.Split(input, ", "), nil
}

func (stubOracle) ObservationFromText(_ context.Context, text string) (domain.Observation, error) {
	return domain.Observation{Code: text, Value: domain.StringValue("present")}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{Embedding: []float32{0.1}}, nil
}

type stubStore struct {
	patients []domain.Patient
	record   *domain.PatientRecord
}

func (s *stubStore) GetRecord(_ context.Context, id, _, _ string) (domain.PatientRecord, error) {
	if s.record == nil {
		return domain.PatientRecord{}, domain.ErrPatientNotFound
	}
	return *s.record, nil
}

func (s *stubStore) ListPatients(_ context.Context) ([]domain.Patient, error) {
	return s.patients, nil
}

func (s *stubStore) NearestObservations(_ context.Context, _ []float32, _ int) ([]domain.ObservationMatch, error) {
	return []domain.ObservationMatch{{PatientID: "p1", Similarity: 0.9}}, nil
}

func (s *stubStore) NearestPatientsAmong(_ context.Context, _ string, ids []string, _ int) ([]domain.PatientMatch, error) {
	out := make([]domain.PatientMatch, len(ids))
	for i, id := range ids {
		out[i] = domain.PatientMatch{PatientID: id, Similarity: 0.9}
	}
	return out, nil
}

type stubPinger struct{}

func (stubPinger) Ping(_ context.Context) error { return nil }

func newTestRouter(idx *stubIndex, store *stubStore) http.Handler {
	log := zap.NewNop()
	oracle := stubOracle{}

	lit := literatureuc.New(idx, oracle, 3, log)
	sim := similarityuc.New(oracle, stubEmbedder{}, store, similarityuc.Config{}, log)
	srv := NewServer(
		intakeuc.New(oracle, log),
		lit,
		sim,
		patientuc.New(store, oracle, log),
		healthuc.New(stubPinger{}, nil),
		log,
	)

	r := chirouter.NewRouter()
	srv.Register(r)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response: %v\n%s", err, rec.Body.String())
	}
	return out
}

func TestParseInput(t *testing.T) {
	h := newTestRouter(&stubIndex{}, &stubStore{})

	rec := doRequest(t, h, http.MethodPost, "/parse_input", `{"input":"patient has the flu"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if _, ok := body["structured_data"]; !ok {
		t.Errorf("expected structured_data in response: %v", body)
	}
}

func TestParseInput_MissingInput(t *testing.T) {
	h := newTestRouter(&stubIndex{}, &stubStore{})

	rec := doRequest(t, h, http.MethodPost, "/parse_input", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSummarize_MissingQuery(t *testing.T) {
	h := newTestRouter(&stubIndex{}, &stubStore{})

	rec := doRequest(t, h, http.MethodPost, "/summarize", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSearchPatient(t *testing.T) {
	idx := &stubIndex{}
	calls := 0
	idx.searchFn = func(_ string, _ int) ([]string, error) {
		calls++
		if calls == 2 {
			return []string{"111", "222"}, nil
		}
		return nil, nil
	}
	h := newTestRouter(idx, &stubStore{})

	body := `{"patient":{"parsed_input":{"conditions":["diabetes"],"symptoms":["fatigue"],"demographics":{"age":50,"sex":"M"}}}}`
	rec := doRequest(t, h, http.MethodPost, "/search-patient", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody(t, rec)
	results, ok := resp["results"].(map[string]any)
	if !ok {
		t.Fatalf("missing results object: %v", resp)
	}
	tier, ok := results["Tier 2"].(map[string]any)
	if !ok {
		t.Fatalf("expected Tier 2 key, got %v", results)
	}
	summaries, ok := tier["summaries"].([]any)
	if !ok || len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %v", tier["summaries"])
	}
	if _, ok := resp["patient"]; !ok {
		t.Error("response must echo the patient object")
	}
}

func TestSearchPatient_MissingPatient(t *testing.T) {
	h := newTestRouter(&stubIndex{}, &stubStore{})

	rec := doRequest(t, h, http.MethodPost, "/search-patient", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSearchPatient_NoTierMatches(t *testing.T) {
	h := newTestRouter(&stubIndex{}, &stubStore{}) // index always empty

	body := `{"patient":{"conditions":["flu"]}}`
	rec := doRequest(t, h, http.MethodPost, "/search-patient", body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSimilarPatients(t *testing.T) {
	h := newTestRouter(&stubIndex{}, &stubStore{
		record: &domain.PatientRecord{Patient: domain.Patient{ID: "p1"}},
	})

	rec := doRequest(t, h, http.MethodPost, "/similar_patients", `{"patient_id":"ref","input":"fever, cough"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody(t, rec)
	matches, ok := resp["matches"].([]any)
	if !ok || len(matches) != 1 {
		t.Fatalf("expected 1 match, got %v", resp["matches"])
	}
}

func TestSimilarPatients_MissingFields(t *testing.T) {
	h := newTestRouter(&stubIndex{}, &stubStore{})

	rec := doRequest(t, h, http.MethodPost, "/similar_patients", `{"patient_id":"ref"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPatientSummary(t *testing.T) {
	h := newTestRouter(&stubIndex{}, &stubStore{
		record: &domain.PatientRecord{Patient: domain.Patient{ID: "p1"}},
	})

	rec := doRequest(t, h, http.MethodGet, "/patient_summary/p1?first_name=Ada", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody(t, rec)
	if _, ok := resp["summary"]; !ok {
		t.Errorf("expected summary in response: %v", resp)
	}
}

func TestPatientSummary_NotFound(t *testing.T) {
	h := newTestRouter(&stubIndex{}, &stubStore{})

	rec := doRequest(t, h, http.MethodGet, "/patient_summary/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPatientsList(t *testing.T) {
	h := newTestRouter(&stubIndex{}, &stubStore{patients: []domain.Patient{
		{ID: "a", FirstName: "Ada", LastName: "Lovelace"},
		{ID: "b", FirstName: "Alan", LastName: "Turing"},
	}})

	rec := doRequest(t, h, http.MethodGet, "/patients_list", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var items []map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(items) != 2 || items[0]["id"] != "a" {
		t.Fatalf("unexpected list: %v", items)
	}
}

func TestHealth(t *testing.T) {
	h := newTestRouter(&stubIndex{}, &stubStore{})

	rec := doRequest(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeBody(t, rec)
	if resp["status"] != "ok" {
		t.Errorf("expected ok status, got %v", resp["status"])
	}
}

package similarity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/helixcare/casematch/internal/domain"
)

type mockOracle struct {
	segmentFn   func(input string) ([]string, error)
	observeFn   func(text string) (domain.Observation, error)
	summaryFn   func(rec domain.PatientRecord) (domain.StructuredSummary, error)
	summarized  []string
	observeSeen []string
}

func (m *mockOracle) SegmentSymptoms(_ context.Context, input string) ([]string, error) {
	if m.segmentFn != nil {
		return m.segmentFn(input)
	}
	return strings.Split(input, ", "), nil
}

func (m *mockOracle) ObservationFromText(_ context.Context, text string) (domain.Observation, error) {
	m.observeSeen = append(m.observeSeen, text)
	if m.observeFn != nil {
		return m.observeFn(text)
	}
	return domain.Observation{Code: text, Value: domain.StringValue("present")}, nil
}

func (m *mockOracle) PatientSummary(_ context.Context, rec domain.PatientRecord) (domain.StructuredSummary, error) {
	m.summarized = append(m.summarized, rec.Patient.ID)
	if m.summaryFn != nil {
		return m.summaryFn(rec)
	}
	return domain.StructuredSummary{"overview": "summary of " + rec.Patient.ID}, nil
}

type mockEmbedder struct {
	err   error
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}}, nil
}

type mockStore struct {
	nearestFn func(k int) ([]domain.ObservationMatch, error)
	amongFn   func(refID string, ids []string, k int) ([]domain.PatientMatch, error)
	recordFn  func(id string) (domain.PatientRecord, error)
	amongIDs  []string
}

func (m *mockStore) NearestObservations(_ context.Context, _ []float32, k int) ([]domain.ObservationMatch, error) {
	if m.nearestFn != nil {
		return m.nearestFn(k)
	}
	return nil, nil
}

func (m *mockStore) NearestPatientsAmong(_ context.Context, refID string, ids []string, k int) ([]domain.PatientMatch, error) {
	m.amongIDs = ids
	if m.amongFn != nil {
		return m.amongFn(refID, ids, k)
	}
	out := make([]domain.PatientMatch, 0, len(ids))
	for i, id := range ids {
		out = append(out, domain.PatientMatch{PatientID: id, Similarity: 1 - float64(i)*0.1})
	}
	return out, nil
}

func (m *mockStore) GetRecord(_ context.Context, id, _, _ string) (domain.PatientRecord, error) {
	if m.recordFn != nil {
		return m.recordFn(id)
	}
	return domain.PatientRecord{Patient: domain.Patient{ID: id}}, nil
}

func newTestService(oracle *mockOracle, embedder *mockEmbedder, store *mockStore) *Service {
	return New(oracle, embedder, store, Config{MaxPerSymptom: 5, MaxReturned: 5}, zap.NewNop())
}

func TestFindSimilar_HappyPath(t *testing.T) {
	oracle := &mockOracle{}
	store := &mockStore{
		nearestFn: func(_ int) ([]domain.ObservationMatch, error) {
			return []domain.ObservationMatch{
				{PatientID: "p1", Similarity: 0.9},
				{PatientID: "p2", Similarity: 0.8},
			}, nil
		},
	}

	svc := newTestService(oracle, &mockEmbedder{}, store)
	matches, err := svc.FindSimilar(context.Background(), "ref", "fever, cough")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].PatientID != "p1" {
		t.Errorf("unexpected first match: %+v", matches[0])
	}
	if matches[0].Summary == nil {
		t.Error("expected a summary on each match")
	}
	if len(oracle.observeSeen) != 2 {
		t.Errorf("expected one observation per phrase, got %v", oracle.observeSeen)
	}
}

func TestFindSimilar_SegmentationFailureAborts(t *testing.T) {
	oracle := &mockOracle{
		segmentFn: func(string) ([]string, error) {
			return nil, domain.ErrMalformedSegmentation
		},
	}
	embedder := &mockEmbedder{}

	svc := newTestService(oracle, embedder, &mockStore{})
	_, err := svc.FindSimilar(context.Background(), "ref", "fever")
	if !errors.Is(err, domain.ErrMalformedSegmentation) {
		t.Fatalf("expected ErrMalformedSegmentation, got %v", err)
	}
	if embedder.calls != 0 {
		t.Error("nothing must be embedded when segmentation fails")
	}
}

func TestFindSimilar_MissingInput(t *testing.T) {
	svc := newTestService(&mockOracle{}, &mockEmbedder{}, &mockStore{})

	for _, tc := range []struct{ id, input string }{
		{"", "fever"},
		{"ref", ""},
	} {
		if _, err := svc.FindSimilar(context.Background(), tc.id, tc.input); !errors.Is(err, domain.ErrMissingInput) {
			t.Errorf("FindSimilar(%q, %q): expected ErrMissingInput, got %v", tc.id, tc.input, err)
		}
	}
}

func TestFindSimilar_PhraseFailureSkipsPhrase(t *testing.T) {
	oracle := &mockOracle{
		observeFn: func(text string) (domain.Observation, error) {
			if text == "cough" {
				return domain.Observation{}, errors.New("oracle hiccup")
			}
			return domain.Observation{Code: text, Value: domain.StringValue("present")}, nil
		},
	}
	store := &mockStore{
		nearestFn: func(_ int) ([]domain.ObservationMatch, error) {
			return []domain.ObservationMatch{{PatientID: "p1", Similarity: 0.9}}, nil
		},
	}

	svc := newTestService(oracle, &mockEmbedder{}, store)
	matches, err := svc.FindSimilar(context.Background(), "ref", "fever, cough, rash")
	if err != nil {
		t.Fatalf("one bad phrase must not abort the call: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}

func TestFindSimilar_UnknownReferenceYieldsEmpty(t *testing.T) {
	store := &mockStore{
		nearestFn: func(_ int) ([]domain.ObservationMatch, error) {
			return []domain.ObservationMatch{{PatientID: "p1", Similarity: 0.9}}, nil
		},
		amongFn: func(string, []string, int) ([]domain.PatientMatch, error) {
			return nil, domain.ErrPatientNotFound
		},
	}

	svc := newTestService(&mockOracle{}, &mockEmbedder{}, store)
	matches, err := svc.FindSimilar(context.Background(), "ghost", "fever")
	if err != nil {
		t.Fatalf("unknown reference must not error: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected empty result, got %v", matches)
	}
}

func TestFindSimilar_ReferenceExcludedFromCandidates(t *testing.T) {
	store := &mockStore{
		nearestFn: func(_ int) ([]domain.ObservationMatch, error) {
			return []domain.ObservationMatch{
				{PatientID: "ref", Similarity: 1.0},
				{PatientID: "p1", Similarity: 0.8},
			}, nil
		},
	}

	svc := newTestService(&mockOracle{}, &mockEmbedder{}, store)
	if _, err := svc.FindSimilar(context.Background(), "ref", "fever"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range store.amongIDs {
		if id == "ref" {
			t.Fatal("reference patient must not appear among candidates")
		}
	}
}

func TestFindSimilar_SummaryFailureDegrades(t *testing.T) {
	oracle := &mockOracle{
		summaryFn: func(domain.PatientRecord) (domain.StructuredSummary, error) {
			return nil, errors.New("oracle down")
		},
	}
	store := &mockStore{
		nearestFn: func(_ int) ([]domain.ObservationMatch, error) {
			return []domain.ObservationMatch{{PatientID: "p1", Similarity: 0.9}}, nil
		},
	}

	svc := newTestService(oracle, &mockEmbedder{}, store)
	matches, err := svc.FindSimilar(context.Background(), "ref", "fever")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 || matches[0].PatientID != "p1" {
		t.Fatalf("match must survive a failed summary: %v", matches)
	}
	if matches[0].Summary != nil {
		t.Error("expected empty summary on oracle failure")
	}
}

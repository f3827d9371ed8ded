package similarity

import (
	"context"

	"github.com/helixcare/casematch/internal/domain"
)

// Oracle covers the extraction calls the engine depends on: segmentation,
// observation shaping and record summarization.
type Oracle interface {
	SegmentSymptoms(ctx context.Context, input string) ([]string, error)
	ObservationFromText(ctx context.Context, text string) (domain.Observation, error)
	PatientSummary(ctx context.Context, rec domain.PatientRecord) (domain.StructuredSummary, error)
}

// Store is the record-store surface the engine queries.
type Store interface {
	NearestObservations(ctx context.Context, query []float32, k int) ([]domain.ObservationMatch, error)
	NearestPatientsAmong(ctx context.Context, refPatientID string, candidateIDs []string, k int) ([]domain.PatientMatch, error)
	GetRecord(ctx context.Context, id, firstName, lastName string) (domain.PatientRecord, error)
}

// Match is one similar patient with its record-level similarity and summary.
type Match struct {
	PatientID  string                   `json:"patient_id"`
	FirstName  string                   `json:"first_name"`
	LastName   string                   `json:"last_name"`
	Similarity float64                  `json:"similarity"`
	Summary    domain.StructuredSummary `json:"summary"`
}

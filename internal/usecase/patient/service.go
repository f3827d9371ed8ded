// Package patient serves patient record reads and summaries.
package patient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/helixcare/casematch/internal/domain"
)

// Store is the record-store surface this service reads from.
type Store interface {
	GetRecord(ctx context.Context, id, firstName, lastName string) (domain.PatientRecord, error)
	ListPatients(ctx context.Context) ([]domain.Patient, error)
}

// Oracle produces a concise narrative summary of one record.
type Oracle interface {
	PatientSummary(ctx context.Context, rec domain.PatientRecord) (domain.StructuredSummary, error)
}

// Service handles patient lookups.
type Service struct {
	store  Store
	oracle Oracle
	log    *zap.Logger
}

// New creates a patient service.
func New(store Store, oracle Oracle, log *zap.Logger) *Service {
	return &Service{store: store, oracle: oracle, log: log}
}

// GetSummary fetches a patient's record, optionally verified against name
// parts, and summarizes it. Returns domain.ErrPatientNotFound when the id or
// name filter matches nothing.
func (s *Service) GetSummary(ctx context.Context, id, firstName, lastName string) (domain.StructuredSummary, error) {
	if id == "" {
		return nil, fmt.Errorf("patient id is required: %w", domain.ErrMissingInput)
	}

	rec, err := s.store.GetRecord(ctx, id, firstName, lastName)
	if err != nil {
		return nil, err
	}

	summary, err := s.oracle.PatientSummary(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("summarize patient %s: %w", id, err)
	}
	return summary, nil
}

// List returns all known patients ordered by name.
func (s *Service) List(ctx context.Context) ([]domain.Patient, error) {
	return s.store.ListPatients(ctx)
}

// Package intake turns free-text clinical notes into structured profiles.
package intake

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/helixcare/casematch/internal/domain"
)

// Oracle extracts structured fields from a clinical note.
type Oracle interface {
	ParseClinicalInput(ctx context.Context, input string) (domain.StructuredSummary, error)
}

// Service wraps the oracle call behind input validation.
type Service struct {
	oracle Oracle
	log    *zap.Logger
}

// New creates an intake service.
func New(oracle Oracle, log *zap.Logger) *Service {
	return &Service{oracle: oracle, log: log}
}

// Parse extracts patient_id, conditions, symptoms, medications, treatments and
// diagnosis from a doctor's note. Malformed oracle output degrades to a
// raw-text wrapper inside the returned summary, never an error.
func (s *Service) Parse(ctx context.Context, input string) (domain.StructuredSummary, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("input is required: %w", domain.ErrMissingInput)
	}

	parsed, err := s.oracle.ParseClinicalInput(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("parse clinical input: %w", err)
	}
	return parsed, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/helixcare/casematch/internal/domain"
)

// NearestPatients returns the k patients whose embeddings are closest to the
// reference patient's, by cosine similarity. The reference patient itself is
// excluded, as are patients without an embedding.
func (s *Store) NearestPatients(ctx context.Context, refPatientID string, k int) ([]domain.PatientMatch, error) {
	ctx, cancel := s.qctx(ctx)
	defer cancel()

	if err := s.requireEmbedding(ctx, refPatientID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
SELECT p.id, p.first_name, p.last_name,
       1 - (p.embedding <=> ref.embedding) AS similarity
FROM patients p, patients ref
WHERE ref.id = $1
  AND p.id <> $1
  AND p.embedding IS NOT NULL
ORDER BY p.embedding <=> ref.embedding
LIMIT $2`, refPatientID, k)
	if err != nil {
		return nil, fmt.Errorf("nearest patients for %s: %w", refPatientID, err)
	}
	defer rows.Close()

	return scanPatientMatches(rows)
}

// NearestObservations returns the k observations closest to the query vector,
// by cosine similarity.
func (s *Store) NearestObservations(ctx context.Context, query []float32, k int) ([]domain.ObservationMatch, error) {
	ctx, cancel := s.qctx(ctx)
	defer cancel()

	lit := vectorLiteral(query)
	if lit == "" {
		return nil, fmt.Errorf("nearest observations: %w", domain.ErrMissingInput)
	}

	rows, err := s.pool.Query(ctx, `
SELECT o.patient_id, o.code,
       1 - (o.embedding <=> $1::vector) AS similarity
FROM observations o
WHERE o.embedding IS NOT NULL
ORDER BY o.embedding <=> $1::vector
LIMIT $2`, lit, k)
	if err != nil {
		return nil, fmt.Errorf("nearest observations: %w", err)
	}
	defer rows.Close()

	var out []domain.ObservationMatch
	for rows.Next() {
		var m domain.ObservationMatch
		var code *string
		if err := rows.Scan(&m.PatientID, &code, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan observation match: %w", err)
		}
		m.Code = deref(code)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("nearest observations: %w", err)
	}
	return out, nil
}

// NearestPatientsAmong ranks the candidate patients against the reference
// patient's embedding and returns the top k. The reference is excluded even
// when listed among the candidates.
func (s *Store) NearestPatientsAmong(ctx context.Context, refPatientID string, candidateIDs []string, k int) ([]domain.PatientMatch, error) {
	ctx, cancel := s.qctx(ctx)
	defer cancel()

	if len(candidateIDs) == 0 {
		return nil, nil
	}
	if err := s.requireEmbedding(ctx, refPatientID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
SELECT p.id, p.first_name, p.last_name,
       1 - (p.embedding <=> ref.embedding) AS similarity
FROM patients p, patients ref
WHERE ref.id = $1
  AND p.id = ANY($2)
  AND p.id <> $1
  AND p.embedding IS NOT NULL
ORDER BY p.embedding <=> ref.embedding
LIMIT $3`, refPatientID, candidateIDs, k)
	if err != nil {
		return nil, fmt.Errorf("nearest patients among candidates for %s: %w", refPatientID, err)
	}
	defer rows.Close()

	return scanPatientMatches(rows)
}

// requireEmbedding fails with ErrPatientNotFound when the patient does not
// exist and ErrMissingInput when it exists without an embedding.
func (s *Store) requireEmbedding(ctx context.Context, patientID string) error {
	var hasEmbedding bool
	err := s.pool.QueryRow(ctx,
		`SELECT embedding IS NOT NULL FROM patients WHERE id = $1`, patientID).
		Scan(&hasEmbedding)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrPatientNotFound
		}
		return fmt.Errorf("check embedding for %s: %w", patientID, err)
	}
	if !hasEmbedding {
		return fmt.Errorf("patient %s has no embedding: %w", patientID, domain.ErrMissingInput)
	}
	return nil
}

func scanPatientMatches(rows pgx.Rows) ([]domain.PatientMatch, error) {
	var out []domain.PatientMatch
	for rows.Next() {
		var m domain.PatientMatch
		var firstName, lastName *string
		if err := rows.Scan(&m.PatientID, &firstName, &lastName, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan patient match: %w", err)
		}
		m.FirstName = deref(firstName)
		m.LastName = deref(lastName)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("patient matches: %w", err)
	}
	return out, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helixcare/casematch/internal/domain"
)

// UpsertPatient inserts or updates a patient by id.
func (s *Store) UpsertPatient(ctx context.Context, p domain.Patient) error {
	ctx, cancel := s.qctx(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
INSERT INTO patients (id, first_name, last_name, gender, birth_date, deceased, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
ON CONFLICT (id) DO UPDATE SET
    first_name = EXCLUDED.first_name,
    last_name  = EXCLUDED.last_name,
    gender     = EXCLUDED.gender,
    birth_date = EXCLUDED.birth_date,
    deceased   = EXCLUDED.deceased,
    embedding  = EXCLUDED.embedding`,
		p.ID, p.FirstName, p.LastName, p.Gender, p.BirthDate, p.Deceased,
		nullableVector(p.Embedding),
	)
	if err != nil {
		return fmt.Errorf("upsert patient %s: %w", p.ID, err)
	}
	return nil
}

// UpsertObservation inserts or updates an observation by id. Only quantity
// values are persisted in the value/unit columns; other value kinds live in
// the embedding text alone.
func (s *Store) UpsertObservation(ctx context.Context, o domain.Observation) error {
	ctx, cancel := s.qctx(ctx)
	defer cancel()

	var value *float64
	var unit *string
	if v, u, ok := o.Value.Quantity(); ok {
		value = &v
		if u != "" {
			unit = &u
		}
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO observations (id, patient_id, code, value, unit, date, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
ON CONFLICT (id) DO UPDATE SET
    patient_id = EXCLUDED.patient_id,
    code       = EXCLUDED.code,
    value      = EXCLUDED.value,
    unit       = EXCLUDED.unit,
    date       = EXCLUDED.date,
    embedding  = EXCLUDED.embedding`,
		o.ID, o.PatientID, o.Code, value, unit, o.Effective,
		nullableVector(o.Embedding),
	)
	if err != nil {
		return fmt.Errorf("upsert observation %s: %w", o.ID, err)
	}
	return nil
}

// UpsertCondition inserts or updates a condition by id.
func (s *Store) UpsertCondition(ctx context.Context, c domain.Condition) error {
	ctx, cancel := s.qctx(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
INSERT INTO conditions (id, patient_id, code, onset, abatement)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    patient_id = EXCLUDED.patient_id,
    code       = EXCLUDED.code,
    onset      = EXCLUDED.onset,
    abatement  = EXCLUDED.abatement`,
		c.ID, c.PatientID, c.Code, c.Onset, c.Abatement,
	)
	if err != nil {
		return fmt.Errorf("upsert condition %s: %w", c.ID, err)
	}
	return nil
}

// GetPatient fetches a patient by id, optionally constrained by name parts.
// Returns domain.ErrPatientNotFound when no row matches.
func (s *Store) GetPatient(ctx context.Context, id, firstName, lastName string) (domain.Patient, error) {
	ctx, cancel := s.qctx(ctx)
	defer cancel()

	query := `SELECT id, first_name, last_name, gender, birth_date, deceased FROM patients WHERE id = $1`
	args := []any{id}

	if firstName != "" {
		args = append(args, firstName)
		query += fmt.Sprintf(" AND first_name = $%d", len(args))
	}
	if lastName != "" {
		args = append(args, lastName)
		query += fmt.Sprintf(" AND last_name = $%d", len(args))
	}

	var p domain.Patient
	var firstNameCol, lastNameCol, gender *string
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&p.ID, &firstNameCol, &lastNameCol, &gender, &p.BirthDate, &p.Deceased,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Patient{}, domain.ErrPatientNotFound
		}
		return domain.Patient{}, fmt.Errorf("get patient %s: %w", id, err)
	}

	p.FirstName = deref(firstNameCol)
	p.LastName = deref(lastNameCol)
	p.Gender = deref(gender)
	return p, nil
}

// GetRecord assembles a patient's full record with the age derived now.
func (s *Store) GetRecord(ctx context.Context, id, firstName, lastName string) (domain.PatientRecord, error) {
	p, err := s.GetPatient(ctx, id, firstName, lastName)
	if err != nil {
		return domain.PatientRecord{}, err
	}

	conditions, err := s.conditionsFor(ctx, id)
	if err != nil {
		return domain.PatientRecord{}, err
	}
	observations, err := s.observationsFor(ctx, id)
	if err != nil {
		return domain.PatientRecord{}, err
	}

	rec := domain.PatientRecord{
		Patient:      p,
		Conditions:   conditions,
		Observations: observations,
	}
	if age, ok := p.AgeAt(time.Now()); ok {
		rec.Age = &age
	}
	return rec, nil
}

func (s *Store) conditionsFor(ctx context.Context, patientID string) ([]domain.Condition, error) {
	ctx, cancel := s.qctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, code, onset, abatement FROM conditions WHERE patient_id = $1`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list conditions for %s: %w", patientID, err)
	}
	defer rows.Close()

	var out []domain.Condition
	for rows.Next() {
		c := domain.Condition{PatientID: patientID}
		var code *string
		if err := rows.Scan(&c.ID, &code, &c.Onset, &c.Abatement); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		c.Code = deref(code)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conditions for %s: %w", patientID, err)
	}
	return out, nil
}

func (s *Store) observationsFor(ctx context.Context, patientID string) ([]domain.Observation, error) {
	ctx, cancel := s.qctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, code, value, unit, date FROM observations WHERE patient_id = $1`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list observations for %s: %w", patientID, err)
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		o := domain.Observation{PatientID: patientID}
		var code, unit *string
		var value *float64
		if err := rows.Scan(&o.ID, &code, &value, &unit, &o.Effective); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Code = deref(code)
		if value != nil {
			o.Value = domain.QuantityValue(*value, deref(unit))
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list observations for %s: %w", patientID, err)
	}
	return out, nil
}

// ListPatients returns all patients ordered by last then first name.
func (s *Store) ListPatients(ctx context.Context) ([]domain.Patient, error) {
	ctx, cancel := s.qctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, first_name, last_name FROM patients ORDER BY last_name, first_name, id`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var out []domain.Patient
	for rows.Next() {
		var p domain.Patient
		var firstName, lastName *string
		if err := rows.Scan(&p.ID, &firstName, &lastName); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		p.FirstName = deref(firstName)
		p.LastName = deref(lastName)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	return out, nil
}

// nullableVector binds a vector literal or NULL.
func nullableVector(v []float32) any {
	lit := vectorLiteral(v)
	if lit == "" {
		return nil
	}
	return lit
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

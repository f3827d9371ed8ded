package similarity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/helixcare/casematch/internal/domain"
)

// Service finds stored patients similar to a reference patient given a
// free-text symptom description.
//
// Pipeline: segment the text into symptom phrases (hard failure), then per
// phrase shape an observation, embed its rendering and collect the nearest
// stored observations (per-phrase failures skip the phrase). The pooled
// matches are collapsed to candidate patients per the configured policy and
// the candidates are ranked against the reference patient's own embedding.
type Service struct {
	oracle        Oracle
	embedder      domain.Embedder
	store         Store
	policy        Policy
	maxPerSymptom int
	maxReturned   int
	log           *zap.Logger
}

// Config bounds the candidate search.
type Config struct {
	Policy        Policy
	MaxPerSymptom int
	MaxReturned   int
}

// New creates a record similarity service.
func New(oracle Oracle, embedder domain.Embedder, store Store, cfg Config, log *zap.Logger) *Service {
	if cfg.MaxPerSymptom <= 0 {
		cfg.MaxPerSymptom = 5
	}
	if cfg.MaxReturned <= 0 {
		cfg.MaxReturned = 5
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyMax
	}
	return &Service{
		oracle:        oracle,
		embedder:      embedder,
		store:         store,
		policy:        cfg.Policy,
		maxPerSymptom: cfg.MaxPerSymptom,
		maxReturned:   cfg.MaxReturned,
		log:           log,
	}
}

// FindSimilar returns the patients most similar to the reference, ranked
// similarity-descending with the reference excluded. An unknown reference
// patient yields an empty result rather than an error. Segmentation failures
// abort the whole call.
func (s *Service) FindSimilar(ctx context.Context, refPatientID, input string) ([]Match, error) {
	if refPatientID == "" || input == "" {
		return nil, fmt.Errorf("patient id and input are required: %w", domain.ErrMissingInput)
	}

	phrases, err := s.oracle.SegmentSymptoms(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("segment input: %w", err)
	}

	pool := s.collectMatches(ctx, phrases)
	if len(pool) == 0 {
		return nil, nil
	}

	candidates := s.policy.SelectCandidates(pool, refPatientID, s.maxReturned)
	ranked, err := s.store.NearestPatientsAmong(ctx, refPatientID, candidates, s.maxReturned)
	if err != nil {
		if errors.Is(err, domain.ErrPatientNotFound) || errors.Is(err, domain.ErrMissingInput) {
			s.log.Info("reference patient unusable for ranking",
				zap.String("patient_id", refPatientID), zap.Error(err))
			return nil, nil
		}
		return nil, fmt.Errorf("rank candidates: %w", err)
	}

	return s.summarizeMatches(ctx, ranked), nil
}

// collectMatches runs the per-phrase pipeline and unions the results. The
// pool is intentionally not deduplicated; a patient hit by several phrases
// carries more evidence into aggregation.
func (s *Service) collectMatches(ctx context.Context, phrases []string) []domain.ObservationMatch {
	var pool []domain.ObservationMatch
	for _, phrase := range phrases {
		matches, err := s.matchPhrase(ctx, phrase)
		if err != nil {
			s.log.Warn("skipping symptom phrase",
				zap.String("phrase", phrase), zap.Error(err))
			continue
		}
		pool = append(pool, matches...)
	}
	return pool
}

func (s *Service) matchPhrase(ctx context.Context, phrase string) ([]domain.ObservationMatch, error) {
	obs, err := s.oracle.ObservationFromText(ctx, phrase)
	if err != nil {
		return nil, fmt.Errorf("shape observation: %w", err)
	}

	emb, err := s.embedder.Embed(ctx, obs.EmbeddingText())
	if err != nil {
		return nil, fmt.Errorf("embed observation: %w", err)
	}

	matches, err := s.store.NearestObservations(ctx, emb.Embedding, s.maxPerSymptom)
	if err != nil {
		return nil, fmt.Errorf("nearest observations: %w", err)
	}
	return matches, nil
}

// summarizeMatches attaches a record summary to each ranked patient. A
// summary that cannot be produced degrades to the bare match rather than
// dropping the patient.
func (s *Service) summarizeMatches(ctx context.Context, ranked []domain.PatientMatch) []Match {
	out := make([]Match, 0, len(ranked))
	for _, m := range ranked {
		match := Match{
			PatientID:  m.PatientID,
			FirstName:  m.FirstName,
			LastName:   m.LastName,
			Similarity: m.Similarity,
		}

		rec, err := s.store.GetRecord(ctx, m.PatientID, "", "")
		if err != nil {
			s.log.Warn("record fetch failed for match",
				zap.String("patient_id", m.PatientID), zap.Error(err))
			out = append(out, match)
			continue
		}

		summary, err := s.oracle.PatientSummary(ctx, rec)
		if err != nil {
			s.log.Warn("summary failed for match",
				zap.String("patient_id", m.PatientID), zap.Error(err))
			out = append(out, match)
			continue
		}

		match.Summary = summary
		out = append(out, match)
	}
	return out
}

package literature

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/helixcare/casematch/internal/domain"
)

// Service runs the tiered literature search: probe tiers in order without
// touching the summarizer, stop at the first tier with hits, then summarize
// that tier's documents.
type Service struct {
	index      Index
	summarizer Summarizer
	maxResults int
	log        *zap.Logger
}

// New creates a literature search service. maxResults caps how many ids a
// tier probe may return.
func New(index Index, summarizer Summarizer, maxResults int, log *zap.Logger) *Service {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &Service{index: index, summarizer: summarizer, maxResults: maxResults, log: log}
}

// Search finds relevant case studies for a patient profile.
// Returns domain.ErrNoLiteratureMatch when the profile yields no queries at
// all or when every tier comes back empty; a profile with no usable terms
// never touches the index.
func (s *Service) Search(ctx context.Context, profile domain.Profile) (domain.TierResult, error) {
	queries := BuildTierQueries(profile)
	if len(queries) == 0 {
		return domain.TierResult{}, fmt.Errorf("no usable search terms: %w", domain.ErrNoLiteratureMatch)
	}

	tier, query, ids, err := s.probe(ctx, queries)
	if err != nil {
		return domain.TierResult{}, err
	}

	summaries, err := s.summarize(ctx, ids)
	if err != nil {
		return domain.TierResult{}, err
	}

	return domain.TierResult{Tier: tier, Query: query, Summaries: summaries}, nil
}

// Summarize runs a single caller-supplied query with no tier relaxation and
// summarizes whatever it returns.
func (s *Service) Summarize(ctx context.Context, query string) ([]domain.CaseStudy, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required: %w", domain.ErrMissingInput)
	}

	ids, err := s.index.Search(ctx, query, s.maxResults)
	if err != nil {
		return nil, fmt.Errorf("search literature: %w", err)
	}
	if len(ids) == 0 {
		return nil, domain.ErrNoLiteratureMatch
	}

	return s.summarize(ctx, ids)
}

// probe walks the tiers in order and returns the first one with hits. The
// summarizer is never consulted here.
func (s *Service) probe(ctx context.Context, queries []string) (int, string, []string, error) {
	for i, query := range queries {
		tier := i + 1
		ids, err := s.index.Search(ctx, query, s.maxResults)
		if err != nil {
			return 0, "", nil, fmt.Errorf("probe tier %d: %w", tier, err)
		}
		if len(ids) > 0 {
			s.log.Info("literature tier matched",
				zap.Int("tier", tier),
				zap.Int("hits", len(ids)))
			return tier, query, ids, nil
		}
		s.log.Debug("literature tier empty", zap.Int("tier", tier))
	}
	return 0, "", nil, domain.ErrNoLiteratureMatch
}

// summarize fetches and summarizes each document, preserving the index's
// relevance order. A document that cannot be fetched or summarized is skipped
// rather than failing the whole search; if every document fails the search
// fails as unavailable.
func (s *Service) summarize(ctx context.Context, ids []string) ([]domain.CaseStudy, error) {
	summaries := make([]domain.CaseStudy, 0, len(ids))
	for _, id := range ids {
		abstract, err := s.index.FetchAbstract(ctx, id)
		if err != nil {
			s.log.Warn("skipping article, fetch failed",
				zap.String("article_id", id), zap.Error(err))
			continue
		}

		summary, err := s.summarizer.CaseSummary(ctx, abstract)
		if err != nil {
			s.log.Warn("skipping article, summarization failed",
				zap.String("article_id", id), zap.Error(err))
			continue
		}

		summaries = append(summaries, domain.CaseStudy{ArticleID: id, Summary: summary})
	}

	if len(summaries) == 0 {
		return nil, fmt.Errorf("no article could be summarized: %w", domain.ErrExternalUnavailable)
	}
	return summaries, nil
}

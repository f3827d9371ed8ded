package literature

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/helixcare/casematch/internal/domain"
)

type mockIndex struct {
	searchFn     func(query string, maxResults int) ([]string, error)
	fetchFn      func(id string) (string, error)
	searches     []string
	fetchedIDs   []string
	searchCalls  int
	abstractByID map[string]string
}

func (m *mockIndex) Search(_ context.Context, query string, maxResults int) ([]string, error) {
	m.searchCalls++
	m.searches = append(m.searches, query)
	if m.searchFn != nil {
		return m.searchFn(query, maxResults)
	}
	return nil, nil
}

func (m *mockIndex) FetchAbstract(_ context.Context, id string) (string, error) {
	m.fetchedIDs = append(m.fetchedIDs, id)
	if m.fetchFn != nil {
		return m.fetchFn(id)
	}
	if m.abstractByID != nil {
		return m.abstractByID[id], nil
	}
	return "abstract for " + id, nil
}

type mockSummarizer struct {
	calls int
	fn    func(abstract string) (domain.StructuredSummary, error)
}

func (m *mockSummarizer) CaseSummary(_ context.Context, abstract string) (domain.StructuredSummary, error) {
	m.calls++
	if m.fn != nil {
		return m.fn(abstract)
	}
	return domain.StructuredSummary{"title": abstract}, nil
}

func TestSearch_SecondTierWins(t *testing.T) {
	p := domain.Profile{
		Conditions:   []string{"diabetes"},
		Symptoms:     []string{"fatigue"},
		Demographics: domain.Demographics{Age: intPtr(50), Sex: "M"},
	}

	idx := &mockIndex{}
	idx.searchFn = func(_ string, _ int) ([]string, error) {
		if idx.searchCalls == 2 {
			return []string{"111", "222"}, nil
		}
		return nil, nil
	}
	oracle := &mockSummarizer{}

	svc := New(idx, oracle, 3, zap.NewNop())
	result, err := svc.Search(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Tier != 2 {
		t.Errorf("expected tier 2, got %d", result.Tier)
	}
	wantQuery := BuildTierQueries(p)[1]
	if result.Query != wantQuery {
		t.Errorf("query mismatch:\n  got:  %s\n  want: %s", result.Query, wantQuery)
	}
	if len(result.Summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(result.Summaries))
	}
	if result.Summaries[0].ArticleID != "111" || result.Summaries[1].ArticleID != "222" {
		t.Errorf("summaries out of index order: %+v", result.Summaries)
	}
}

func TestSearch_OracleIdleDuringProbing(t *testing.T) {
	p := domain.Profile{
		Conditions:   []string{"flu"},
		Symptoms:     []string{"fever"},
		Treatments:   []string{"oseltamivir"},
		Demographics: domain.Demographics{Age: intPtr(30)},
	}

	idx := &mockIndex{}
	idx.searchFn = func(_ string, _ int) ([]string, error) {
		if idx.searchCalls == 3 {
			return []string{"901"}, nil
		}
		return nil, nil
	}
	oracle := &mockSummarizer{}

	svc := New(idx, oracle, 3, zap.NewNop())
	result, err := svc.Search(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Tier != 3 {
		t.Errorf("expected tier 3, got %d", result.Tier)
	}
	// Empty tiers must not reach the summarizer; only the one hit does.
	if oracle.calls != 1 {
		t.Errorf("expected exactly 1 summarizer call, got %d", oracle.calls)
	}
	if len(idx.fetchedIDs) != 1 || idx.fetchedIDs[0] != "901" {
		t.Errorf("expected a single fetch of 901, got %v", idx.fetchedIDs)
	}
}

func TestSearch_EmptyProfile(t *testing.T) {
	idx := &mockIndex{}
	svc := New(idx, &mockSummarizer{}, 3, zap.NewNop())

	_, err := svc.Search(context.Background(), domain.Profile{})
	if !errors.Is(err, domain.ErrNoLiteratureMatch) {
		t.Fatalf("expected ErrNoLiteratureMatch, got %v", err)
	}
	if idx.searchCalls != 0 {
		t.Errorf("empty profile must not hit the index, got %d calls", idx.searchCalls)
	}
}

func TestSearch_DemographicsOnlyProfile(t *testing.T) {
	p := domain.Profile{
		Demographics: domain.Demographics{Age: intPtr(50), Sex: "M"},
	}

	idx := &mockIndex{}
	idx.searchFn = func(_ string, _ int) ([]string, error) {
		return []string{"777"}, nil
	}

	svc := New(idx, &mockSummarizer{}, 3, zap.NewNop())
	result, err := svc.Search(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Tier != 1 {
		t.Errorf("expected tier 1, got %d", result.Tier)
	}
	wantQuery := `"aged 40-60" AND "M"`
	if result.Query != wantQuery {
		t.Errorf("query mismatch:\n  got:  %s\n  want: %s", result.Query, wantQuery)
	}
	if len(result.Summaries) != 1 || result.Summaries[0].ArticleID != "777" {
		t.Errorf("unexpected summaries: %+v", result.Summaries)
	}
}

func TestSearch_NoTierMatches(t *testing.T) {
	idx := &mockIndex{} // every probe returns no ids
	svc := New(idx, &mockSummarizer{}, 3, zap.NewNop())

	_, err := svc.Search(context.Background(), domain.Profile{Conditions: []string{"flu"}})
	if !errors.Is(err, domain.ErrNoLiteratureMatch) {
		t.Fatalf("expected ErrNoLiteratureMatch, got %v", err)
	}
}

func TestSearch_SkipsFailingArticles(t *testing.T) {
	idx := &mockIndex{}
	idx.searchFn = func(_ string, _ int) ([]string, error) {
		return []string{"1", "2", "3"}, nil
	}
	idx.fetchFn = func(id string) (string, error) {
		if id == "2" {
			return "", domain.ErrExternalUnavailable
		}
		return "abstract " + id, nil
	}

	svc := New(idx, &mockSummarizer{}, 3, zap.NewNop())
	result, err := svc.Search(context.Background(), domain.Profile{Conditions: []string{"flu"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Summaries) != 2 {
		t.Fatalf("expected 2 summaries after skip, got %d", len(result.Summaries))
	}
	if result.Summaries[0].ArticleID != "1" || result.Summaries[1].ArticleID != "3" {
		t.Errorf("unexpected order: %+v", result.Summaries)
	}
}

func TestSummarize_DirectQuery(t *testing.T) {
	idx := &mockIndex{}
	idx.searchFn = func(query string, _ int) ([]string, error) {
		if query != "influenza treatment" {
			t.Errorf("unexpected query: %s", query)
		}
		return []string{"42"}, nil
	}

	svc := New(idx, &mockSummarizer{}, 3, zap.NewNop())
	summaries, err := svc.Summarize(context.Background(), "influenza treatment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ArticleID != "42" {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}

func TestSummarize_EmptyQuery(t *testing.T) {
	svc := New(&mockIndex{}, &mockSummarizer{}, 3, zap.NewNop())
	if _, err := svc.Summarize(context.Background(), ""); !errors.Is(err, domain.ErrMissingInput) {
		t.Fatalf("expected ErrMissingInput, got %v", err)
	}
}

func TestSearch_AllArticlesFail(t *testing.T) {
	idx := &mockIndex{}
	idx.searchFn = func(_ string, _ int) ([]string, error) {
		return []string{"1"}, nil
	}
	idx.fetchFn = func(string) (string, error) {
		return "", errors.New("upstream timeout")
	}

	svc := New(idx, &mockSummarizer{}, 3, zap.NewNop())
	_, err := svc.Search(context.Background(), domain.Profile{Conditions: []string{"flu"}})
	if !errors.Is(err, domain.ErrExternalUnavailable) {
		t.Fatalf("expected ErrExternalUnavailable, got %v", err)
	}
}

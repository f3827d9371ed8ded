package literature

import (
	"context"

	"github.com/helixcare/casematch/internal/domain"
)

// Index is the published-literature search backend (PubMed E-utilities).
type Index interface {
	Search(ctx context.Context, query string, maxResults int) ([]string, error)
	FetchAbstract(ctx context.Context, id string) (string, error)
}

// Summarizer turns a fetched abstract into a structured case summary.
// Implementations never hard-fail on malformed model output; they wrap the
// raw text instead.
type Summarizer interface {
	CaseSummary(ctx context.Context, abstract string) (domain.StructuredSummary, error)
}

package intake

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/helixcare/casematch/internal/domain"
)

type mockOracle struct {
	result domain.StructuredSummary
	err    error
	calls  int
}

func (m *mockOracle) ParseClinicalInput(_ context.Context, _ string) (domain.StructuredSummary, error) {
	m.calls++
	return m.result, m.err
}

func TestParse(t *testing.T) {
	oracle := &mockOracle{result: domain.StructuredSummary{
		"conditions": []any{"flu"},
	}}
	svc := New(oracle, zap.NewNop())

	got, err := svc.Parse(context.Background(), "patient has the flu")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := got["conditions"]; !ok {
		t.Errorf("expected conditions in parsed output, got %v", got)
	}
}

func TestParse_EmptyInput(t *testing.T) {
	oracle := &mockOracle{}
	svc := New(oracle, zap.NewNop())

	for _, input := range []string{"", "   "} {
		if _, err := svc.Parse(context.Background(), input); !errors.Is(err, domain.ErrMissingInput) {
			t.Errorf("Parse(%q): expected ErrMissingInput, got %v", input, err)
		}
	}
	if oracle.calls != 0 {
		t.Errorf("oracle must not run on empty input, ran %d times", oracle.calls)
	}
}

func TestParse_OracleUnavailable(t *testing.T) {
	oracle := &mockOracle{err: domain.ErrExternalUnavailable}
	svc := New(oracle, zap.NewNop())

	if _, err := svc.Parse(context.Background(), "note"); !errors.Is(err, domain.ErrExternalUnavailable) {
		t.Fatalf("expected ErrExternalUnavailable, got %v", err)
	}
}

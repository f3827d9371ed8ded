package similarity

import (
	"fmt"
	"sort"

	"github.com/helixcare/casematch/internal/domain"
)

// Policy picks how per-phrase observation similarities are aggregated into a
// single score per candidate patient.
type Policy string

const (
	// PolicyMax scores a patient by its best single phrase match.
	PolicyMax Policy = "max"
	// PolicyMean scores a patient by the mean of its phrase matches.
	PolicyMean Policy = "mean"
	// PolicyCount scores a patient by how many phrase matches it collected,
	// breaking ties on the best single similarity.
	PolicyCount Policy = "count"
)

// ParsePolicy validates a configured policy name. Empty means PolicyMax.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "":
		return PolicyMax, nil
	case PolicyMax, PolicyMean, PolicyCount:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown aggregation policy %q", s)
	}
}

type aggregate struct {
	patientID string
	count     int
	sum       float64
	best      float64
}

// SelectCandidates collapses the pooled (patient, code, similarity) triples
// into at most limit distinct patient ids, scored per the policy, with the
// reference patient excluded. Order is score-descending, ties broken by id so
// the selection is deterministic.
func (p Policy) SelectCandidates(pool []domain.ObservationMatch, refPatientID string, limit int) []string {
	byPatient := make(map[string]*aggregate)
	for _, m := range pool {
		if m.PatientID == "" || m.PatientID == refPatientID {
			continue
		}
		agg, ok := byPatient[m.PatientID]
		if !ok {
			agg = &aggregate{patientID: m.PatientID}
			byPatient[m.PatientID] = agg
		}
		agg.count++
		agg.sum += m.Similarity
		if m.Similarity > agg.best {
			agg.best = m.Similarity
		}
	}

	aggs := make([]*aggregate, 0, len(byPatient))
	for _, agg := range byPatient {
		aggs = append(aggs, agg)
	}

	sort.Slice(aggs, func(i, j int) bool {
		a, b := aggs[i], aggs[j]
		pa, sa := p.score(a)
		pb, sb := p.score(b)
		if pa != pb {
			return pa > pb
		}
		if sa != sb {
			return sa > sb
		}
		return a.patientID < b.patientID
	})

	if limit > 0 && len(aggs) > limit {
		aggs = aggs[:limit]
	}

	ids := make([]string, len(aggs))
	for i, agg := range aggs {
		ids[i] = agg.patientID
	}
	return ids
}

// score returns the primary and secondary sort keys for one candidate.
func (p Policy) score(a *aggregate) (float64, float64) {
	switch p {
	case PolicyMean:
		return a.sum / float64(a.count), a.best
	case PolicyCount:
		return float64(a.count), a.best
	default:
		return a.best, a.sum / float64(a.count)
	}
}

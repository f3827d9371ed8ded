package literature

import (
	"fmt"
	"strings"

	"github.com/helixcare/casematch/internal/domain"
)

// maxTierFourSymptoms caps the symptom list of the loosest tier.
const maxTierFourSymptoms = 2

// BuildTierQueries renders a profile into an ordered list of progressively
// relaxed PubMed query strings:
//
//	Tier 1: conditions + symptoms + treatments + demographics + EMR terms
//	Tier 2: Tier 1 minus demographics
//	Tier 3: Tier 2 minus treatments
//	Tier 4: conditions + first two symptoms + EMR terms
//
// Terms within one field are OR-joined, fields are AND-joined. Conditions use
// MeSH Terms, everything else matches all fields. An age of A becomes the band
// "aged A-10 - A+10". Tiers with no contributing field are skipped, so callers
// number tiers by position in the returned slice.
func BuildTierQueries(p domain.Profile) []string {
	conditions := orClause(p.Conditions, "[MeSH Terms]")
	symptoms := orClause(p.Symptoms, "[All Fields]")
	treatments := orClause(p.Treatments, "[All Fields]")
	emr := orClause(emrTerms(p.EMRSummary), "")

	var demographics []string
	if p.Demographics.Age != nil {
		age := *p.Demographics.Age
		demographics = append(demographics, fmt.Sprintf(`"aged %d-%d"`, age-10, age+10))
	}
	if p.Demographics.Sex != "" {
		demographics = append(demographics, fmt.Sprintf("%q", p.Demographics.Sex))
	}

	var queries []string
	appendTier := func(clauses ...string) {
		var terms []string
		for _, c := range clauses {
			if c != "" {
				terms = append(terms, c)
			}
		}
		if len(terms) > 0 {
			queries = append(queries, strings.Join(terms, " AND "))
		}
	}

	tier1 := []string{conditions, symptoms, treatments}
	tier1 = append(tier1, demographics...)
	tier1 = append(tier1, emr)
	appendTier(tier1...)

	appendTier(conditions, symptoms, treatments, emr)
	appendTier(conditions, symptoms, emr)

	leading := p.Symptoms
	if len(leading) > maxTierFourSymptoms {
		leading = leading[:maxTierFourSymptoms]
	}
	appendTier(conditions, orClause(leading, "[All Fields]"), emr)

	return queries
}

// orClause OR-joins quoted terms, each tagged with the given PubMed field
// qualifier. Pre-qualified terms pass an empty qualifier.
func orClause(terms []string, qualifier string) string {
	if len(terms) == 0 {
		return ""
	}
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		if qualifier == "" {
			parts = append(parts, t)
			continue
		}
		parts = append(parts, fmt.Sprintf("%q%s", t, qualifier))
	}
	return strings.Join(parts, " OR ")
}

// emrTerms extracts comma-separated phrases from the EMR summaries as
// pre-qualified All-Fields terms.
func emrTerms(s domain.EMRSummary) []string {
	var out []string
	for _, text := range []string{s.ConditionsSummary, s.SymptomsSummary} {
		for _, phrase := range strings.Split(text, ",") {
			phrase = strings.TrimSpace(phrase)
			if phrase != "" {
				out = append(out, fmt.Sprintf("%q[All Fields]", phrase))
			}
		}
	}
	return out
}

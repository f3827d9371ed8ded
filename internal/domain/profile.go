package domain

import "strconv"

// Demographics is the optional demographic block of a search profile.
type Demographics struct {
	Age *int
	Sex string
}

// EMRSummary carries condensed prior-record narratives attached to a profile.
// Comma-separated phrases inside either field become extra search terms.
type EMRSummary struct {
	ConditionsSummary string
	SymptomsSummary   string
}

// Profile is the structured patient description driving a literature search.
// It arrives as semi-structured JSON; absent fields stay empty rather than erroring.
type Profile struct {
	Conditions   []string
	Symptoms     []string
	Treatments   []string
	Demographics Demographics
	EMRSummary   EMRSummary
}

// IsEmpty reports whether the profile carries no search criteria at all.
// Demographics alone count: an age or sex is enough to build a query.
func (p Profile) IsEmpty() bool {
	return len(p.Conditions) == 0 &&
		len(p.Symptoms) == 0 &&
		len(p.Treatments) == 0 &&
		p.Demographics.Age == nil &&
		p.Demographics.Sex == "" &&
		p.EMRSummary.ConditionsSummary == "" &&
		p.EMRSummary.SymptomsSummary == ""
}

// ParseProfile decodes a semi-structured patient object into a Profile.
// The structured criteria may sit under a "parsed_input" key or at the top
// level; every field is optional and type-checked before reading.
func ParseProfile(raw map[string]any) Profile {
	src := raw
	if nested, ok := raw["parsed_input"].(map[string]any); ok {
		src = nested
	}

	var p Profile
	p.Conditions = stringSlice(src["conditions"])
	p.Symptoms = stringSlice(src["symptoms"])
	p.Treatments = stringSlice(src["treatments"])

	if demo, ok := src["demographics"].(map[string]any); ok {
		if age, ok := intValue(demo["age"]); ok {
			p.Demographics.Age = &age
		}
		if sex, ok := demo["sex"].(string); ok {
			p.Demographics.Sex = sex
		}
	}

	if emr, ok := raw["emr_summary"].(map[string]any); ok {
		if s, ok := emr["conditions_summary"].(string); ok {
			p.EMRSummary.ConditionsSummary = s
		}
		if s, ok := emr["symptoms_and_observations_summary"].(string); ok {
			p.EMRSummary.SymptomsSummary = s
		}
	}

	return p
}

// stringSlice coerces a decoded JSON value into []string, accepting either a
// string array or a single string. Non-string elements are skipped.
func stringSlice(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return nil
	}
}

// intValue coerces a decoded JSON value into an int. JSON numbers decode as
// float64; numeric strings are tolerated.
func intValue(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n, true
		}
	}
	return 0, false
}

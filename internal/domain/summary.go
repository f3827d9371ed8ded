package domain

import (
	"encoding/json"
	"strings"
)

// RawSummaryField is the fallback key carrying the oracle's unparseable output.
const RawSummaryField = "raw_summary"

// StructuredSummary is the oracle's best-effort structured extraction.
// Schema-tolerant: fields may be missing and values may be any JSON shape.
type StructuredSummary map[string]any

// WrapRawSummary wraps unparseable oracle output so the result is never dropped.
func WrapRawSummary(text string) StructuredSummary {
	return StructuredSummary{RawSummaryField: text}
}

// ParseStructuredSummary decodes oracle output into a StructuredSummary.
// Tolerates prose or markdown fences around the JSON object; if no object can
// be recovered the raw text is wrapped under RawSummaryField.
func ParseStructuredSummary(raw string) StructuredSummary {
	var s StructuredSummary
	if err := json.Unmarshal([]byte(raw), &s); err == nil && s != nil {
		return s
	}

	if salvaged, ok := SalvageJSONObject(raw); ok {
		if err := json.Unmarshal([]byte(salvaged), &s); err == nil && s != nil {
			return s
		}
	}

	return WrapRawSummary(raw)
}

// SalvageJSONObject extracts the outermost {...} span from text that may carry
// stray prose or backticks around a JSON object.
func SalvageJSONObject(raw string) (string, bool) {
	i := strings.Index(raw, "{")
	j := strings.LastIndex(raw, "}")
	if i == -1 || j == -1 || j <= i {
		return "", false
	}
	return raw[i : j+1], true
}

// CaseStudy pairs a literature document id with its extracted summary.
type CaseStudy struct {
	ArticleID string            `json:"pubmed_id"`
	Summary   StructuredSummary `json:"summary"`
}

// TierResult is the outcome of a tiered literature search: the first relaxation
// tier that produced hits, the exact query used, and the summaries in index order.
type TierResult struct {
	Tier      int
	Query     string
	Summaries []CaseStudy
}

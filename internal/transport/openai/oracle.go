package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/helixcare/casematch/internal/domain"
	"github.com/helixcare/casematch/internal/metrics"
)

// Oracle is the structured-extraction oracle backed by a chat-completion model.
// Best-effort by nature: structured tasks degrade to raw-text wrappers, except
// segmentation, which is strict (see SegmentSymptoms).
type Oracle struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// OracleConfig holds the extraction oracle settings.
type OracleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewOracle creates a chat-completion extraction oracle. Oracle calls are
// never retried; a timeout is the only bound.
func NewOracle(cfg *OracleConfig) *Oracle {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Oracle{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

// complete runs a single-user-message chat completion and returns the text.
func (o *Oracle) complete(ctx context.Context, task, prompt string) (string, error) {
	start := time.Now()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})

	duration := time.Since(start)

	if err != nil {
		metrics.OracleRequestsTotal.WithLabelValues(task, "error").Inc()
		return "", parseAPIError("oracle", err)
	}
	if len(resp.Choices) == 0 {
		metrics.OracleRequestsTotal.WithLabelValues(task, "error").Inc()
		return "", fmt.Errorf("empty oracle response: %w", domain.ErrExternalUnavailable)
	}

	metrics.OracleRequestsTotal.WithLabelValues(task, "success").Inc()
	metrics.OracleRequestDuration.WithLabelValues(task).Observe(duration.Seconds())

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

const segmentPrompt = `You are a clinical text segmenter.

TASK:
Split the INPUT into a list of individual symptom phrases.

RULES:
- Preserve the original wording.
- Do NOT add or remove information. Do NOT add synonyms.
- Keep negations with the symptom (e.g., "no fever" stays as one item).
- If the input begins with a leading verb like "has", "has a", "reports", etc., and it directly attaches to the first symptom, include it in the first item (e.g., "has bloody urine").
- Consider separators such as commas, semicolons, slashes, pipes, line breaks, and coordinator words like "and", "with". If none are present, infer minimal, natural symptom phrase boundaries.
- Output MUST be ONLY a valid JSON array of strings (no prose, no markdown, no trailing commas).

INPUT:
"""%s"""`

// SegmentSymptoms splits free clinical text into individual symptom phrases.
// The oracle must return a plain JSON string array; anything else is
// domain.ErrMalformedSegmentation; there is no safe coercion.
func (o *Oracle) SegmentSymptoms(ctx context.Context, input string) ([]string, error) {
	text, err := o.complete(ctx, "segment", fmt.Sprintf(segmentPrompt, input))
	if err != nil {
		return nil, err
	}

	phrases, ok := decodeStringArray(text)
	if !ok {
		o.logger.Warn("Oracle segmentation was not a string array", zap.String("output", text))
		return nil, fmt.Errorf("%w: %q", domain.ErrMalformedSegmentation, text)
	}
	return phrases, nil
}

// decodeStringArray parses a JSON string array, tolerating markdown fences
// around it. Anything that is not an array at the top level is rejected, a
// string array nested inside an object does not count.
func decodeStringArray(raw string) ([]string, bool) {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out, true
	}

	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	trimmed = strings.TrimSpace(trimmed)
	if !strings.HasPrefix(trimmed, "[") || !strings.HasSuffix(trimmed, "]") {
		return nil, false
	}
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, false
	}
	return out, true
}

const observationPrompt = `Convert the following clinical note into a minimal structured observation.

Free text:
"""%s"""

Return ONLY a single JSON object with these fields (no prose):

{
"code": { "text": "<short description>" },
"effectiveDateTime": "<ISO-8601>",               // optional
"valueQuantity": { "value": <number>, "unit": "<UCUM>" }  // prefer when numeric present
OR
"valueString": "<string>"
OR
"valueBoolean": true/false
}
Rules:
- Prefer valueQuantity when a number+unit is present; else valueString; else valueBoolean.
- No extra fields.`

// observationPayload is the semi-structured shape the oracle returns for ObservationFromText.
type observationPayload struct {
	Code *struct {
		Text string `json:"text"`
	} `json:"code"`
	EffectiveDateTime string `json:"effectiveDateTime"`
	ValueQuantity     *struct {
		Value float64 `json:"value"`
		Unit  string  `json:"unit"`
	} `json:"valueQuantity"`
	ValueString  *string `json:"valueString"`
	ValueBoolean *bool   `json:"valueBoolean"`
}

// ObservationFromText shapes a symptom phrase into an ephemeral observation.
// Exactly one value kind ends up populated; when the oracle's output fits none,
// the value defaults to the observation's own code text. Never persisted.
func (o *Oracle) ObservationFromText(ctx context.Context, text string) (domain.Observation, error) {
	raw, err := o.complete(ctx, "observation", fmt.Sprintf(observationPrompt, text))
	if err != nil {
		return domain.Observation{}, err
	}
	return observationFromPayload(raw, text), nil
}

// observationFromPayload hardens oracle output into a well-formed observation.
func observationFromPayload(raw, sourceText string) domain.Observation {
	var payload observationPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		if salvaged, ok := domain.SalvageJSONObject(raw); ok {
			_ = json.Unmarshal([]byte(salvaged), &payload)
		}
	}

	code := "Clinical observation"
	if payload.Code != nil && payload.Code.Text != "" {
		code = payload.Code.Text
	}

	var value domain.ObservationValue
	switch {
	case payload.ValueQuantity != nil:
		value = domain.QuantityValue(payload.ValueQuantity.Value, payload.ValueQuantity.Unit)
	case payload.ValueString != nil && *payload.ValueString != "":
		value = domain.StringValue(*payload.ValueString)
	case payload.ValueBoolean != nil:
		value = domain.BoolValue(*payload.ValueBoolean)
	default:
		fallback := sourceText
		if fallback == "" {
			fallback = code
		}
		value = domain.StringValue(fallback)
	}

	obs := domain.Observation{
		ID:    uuid.NewString(),
		Code:  code,
		Value: value,
	}
	if payload.EffectiveDateTime != "" {
		if ts, err := time.Parse(time.RFC3339, payload.EffectiveDateTime); err == nil {
			obs.Effective = &ts
		}
	}
	return obs
}

const caseSummaryPrompt = `You are a medical data extractor.
Extract patient info, conditions, symptoms, treatments, results, and diagnosis from the following abstract.
For each field, you must always provide the most specific information available in the text, even if approximate or implied.
Do not leave any field empty. If the text is vague, use a best-guess paraphrase.
Return the result as valid JSON in the following format where all variables return as a string:
{
    "patient": {
        "age": "e.g. '68-year-old', 'adult', 'mean age 70', or best estimate based on text",
        "gender": "male / female / mixed / not specified; use inferred information if not explicit"
    },
    "situational_summary": [{
        "event": "describe the main clinical case or event, e.g. 'presentation of chest pain with shortness of breath'",
        "characteristics": "notable features of the patient or condition, including comorbidities, demographics, or risk factors",
        "onset": "describe when/how the symptoms started, e.g. 'gradual onset over 2 weeks', 'acute onset after exertion'",
        "outcome": "describe the result or current status, e.g. 'full recovery', 'improvement with treatment', 'death', 'unknown'",
        "history": "summary of relevant medical history or past conditions, e.g. 'history of hypertension', 'no chronic conditions'",
        "treatment": "describe treatments/interventions, e.g. 'insulin therapy', 'laparoscopic surgery', 'physical therapy'"
    }],
    "notes": "general context or additional observations relevant to the case, e.g. 'case study for a rare condition'"
}

Abstract:
"""%s"""`

// CaseSummary extracts a structured case-study summary from an article abstract.
// Malformed output degrades to a raw-text wrapper, never an error.
func (o *Oracle) CaseSummary(ctx context.Context, abstract string) (domain.StructuredSummary, error) {
	raw, err := o.complete(ctx, "case_summary", fmt.Sprintf(caseSummaryPrompt, abstract))
	if err != nil {
		return nil, err
	}
	return domain.ParseStructuredSummary(raw), nil
}

const parseInputPrompt = `You are a medical parser. Take the following doctor input and extract:
- patient_id
- conditions
- symptoms
- medications
- treatments
- diagnosis

If a field is not present, leave it empty.

Input: "%s"
Output in JSON format.`

// ParseClinicalInput converts a free-text doctor note into structured fields.
// Malformed output degrades to a raw-text wrapper, never an error.
func (o *Oracle) ParseClinicalInput(ctx context.Context, input string) (domain.StructuredSummary, error) {
	raw, err := o.complete(ctx, "parse_input", fmt.Sprintf(parseInputPrompt, input))
	if err != nil {
		return nil, err
	}
	return domain.ParseStructuredSummary(raw), nil
}

const patientSummaryPrompt = `You are a medical summarizer.
Summarize the following patient information into a structured JSON format.
Focus only on key, clinically important details (specific values are not needed). The summary must be concise:
- Conditions summary: 1-2 sentences maximum
- Symptoms and observations summary: no more than 3 sentences
Do not include every observation or minor detail.

{
    "patient": {
        "age": "%s",
        "gender": "%s"
    },
    "conditions_summary": "...",
    "symptoms_and_observations_summary": "..."
}

Patient conditions:
%s

Patient past observations:
%s`

// recentObservationCap bounds how many observations reach the summarization prompt.
const recentObservationCap = 10

// PatientSummary condenses a patient's record into a short structured narrative.
// Malformed output degrades to a raw-text wrapper, never an error.
func (o *Oracle) PatientSummary(ctx context.Context, rec domain.PatientRecord) (domain.StructuredSummary, error) {
	age := "unknown"
	if rec.Age != nil {
		age = fmt.Sprintf("%d", *rec.Age)
	}
	gender := rec.Patient.Gender
	if gender == "" {
		gender = "unknown"
	}

	prompt := fmt.Sprintf(patientSummaryPrompt,
		age, gender,
		conditionsText(rec.Conditions),
		recentObservationsText(rec.Observations),
	)

	raw, err := o.complete(ctx, "patient_summary", prompt)
	if err != nil {
		return nil, err
	}
	return domain.ParseStructuredSummary(raw), nil
}

// conditionsText renders conditions into a readable prompt fragment.
func conditionsText(conditions []domain.Condition) string {
	if len(conditions) == 0 {
		return "No known conditions."
	}

	parts := make([]string, 0, len(conditions))
	for _, c := range conditions {
		s := c.Code
		if c.Onset != nil {
			s += fmt.Sprintf(" (onset: %s)", c.Onset.Format("2006-01-02"))
		}
		if c.Abatement != nil {
			s += fmt.Sprintf(", resolved: %s", c.Abatement.Format("2006-01-02"))
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

// recentObservationsText collapses the most recent observations into a concise
// prompt fragment. Undated observations sort last.
func recentObservationsText(observations []domain.Observation) string {
	if len(observations) == 0 {
		return "No past observations recorded."
	}

	recent := make([]domain.Observation, len(observations))
	copy(recent, observations)
	sort.SliceStable(recent, func(i, j int) bool {
		ti, tj := recent[i].Effective, recent[j].Effective
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
	if len(recent) > recentObservationCap {
		recent = recent[:recentObservationCap]
	}

	parts := make([]string, 0, len(recent))
	for _, obs := range recent {
		s := obs.Code
		if v := obs.Value.String(); v != "" {
			s += ": " + v
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

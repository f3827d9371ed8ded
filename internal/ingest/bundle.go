// Package ingest loads FHIR R4 bundles into the record store with embeddings.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/helixcare/casematch/internal/domain"
)

type bundle struct {
	ResourceType string        `json:"resourceType"`
	Entry        []bundleEntry `json:"entry"`
}

type bundleEntry struct {
	Resource json.RawMessage `json:"resource"`
}

type resourceHeader struct {
	ResourceType string `json:"resourceType"`
}

type humanName struct {
	Given  []string `json:"given"`
	Family string   `json:"family"`
}

type extension struct {
	URL         string      `json:"url"`
	ValueString string      `json:"valueString"`
	ValueCode   string      `json:"valueCode"`
	Extension   []extension `json:"extension"`
}

type codeableConcept struct {
	Text string `json:"text"`
}

type reference struct {
	Reference string `json:"reference"`
}

type quantity struct {
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
}

type patientResource struct {
	ID              string      `json:"id"`
	Name            []humanName `json:"name"`
	Gender          string      `json:"gender"`
	BirthDate       string      `json:"birthDate"`
	DeceasedBoolean *bool       `json:"deceasedBoolean"`
	Extension       []extension `json:"extension"`
}

type observationResource struct {
	ID                string          `json:"id"`
	Subject           reference       `json:"subject"`
	Code              codeableConcept `json:"code"`
	ValueQuantity     *quantity       `json:"valueQuantity"`
	ValueString       *string         `json:"valueString"`
	ValueBoolean      *bool           `json:"valueBoolean"`
	EffectiveDateTime string          `json:"effectiveDateTime"`
}

type conditionResource struct {
	ID                string          `json:"id"`
	Subject           reference       `json:"subject"`
	Code              codeableConcept `json:"code"`
	OnsetDateTime     string          `json:"onsetDateTime"`
	AbatementDateTime string          `json:"abatementDateTime"`
}

// parseBundle splits a bundle's entries by resource type. Unknown resource
// types are ignored.
func parseBundle(data []byte) ([]patientResource, []observationResource, []conditionResource, error) {
	var b bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, nil, nil, fmt.Errorf("decode bundle: %w", err)
	}
	if b.ResourceType != "Bundle" {
		return nil, nil, nil, fmt.Errorf("not a bundle: resourceType %q", b.ResourceType)
	}

	var patients []patientResource
	var observations []observationResource
	var conditions []conditionResource

	for _, entry := range b.Entry {
		if len(entry.Resource) == 0 {
			continue
		}
		var header resourceHeader
		if err := json.Unmarshal(entry.Resource, &header); err != nil {
			continue
		}

		switch header.ResourceType {
		case "Patient":
			var p patientResource
			if err := json.Unmarshal(entry.Resource, &p); err == nil && p.ID != "" {
				patients = append(patients, p)
			}
		case "Observation":
			var o observationResource
			if err := json.Unmarshal(entry.Resource, &o); err == nil && o.ID != "" {
				observations = append(observations, o)
			}
		case "Condition":
			var c conditionResource
			if err := json.Unmarshal(entry.Resource, &c); err == nil && c.ID != "" {
				conditions = append(conditions, c)
			}
		}
	}

	return patients, observations, conditions, nil
}

func (p patientResource) toDomain() domain.Patient {
	out := domain.Patient{
		ID:       p.ID,
		Gender:   p.Gender,
		Deceased: p.DeceasedBoolean,
	}
	if len(p.Name) > 0 {
		if given := p.Name[0].Given; len(given) > 0 {
			out.FirstName = given[0]
		}
		out.LastName = p.Name[0].Family
	}
	out.BirthDate = parseFHIRTime(p.BirthDate)
	return out
}

// demographicExtras pulls race/ethnicity/birth-sex labels out of the US Core
// extensions for the embedding text.
func (p patientResource) demographicExtras() []string {
	var extras []string
	for _, ext := range p.Extension {
		url := strings.ToLower(ext.URL)
		switch {
		case strings.Contains(url, "ethnicity"):
			if text := firstValueString(ext.Extension); text != "" {
				extras = append(extras, "Ethnicity: "+text)
			}
		case strings.Contains(url, "race"):
			if text := firstValueString(ext.Extension); text != "" {
				extras = append(extras, "Race: "+text)
			}
		case strings.Contains(url, "birthsex"):
			if ext.ValueCode != "" {
				extras = append(extras, "Birth sex: "+ext.ValueCode)
			}
		}
	}
	return extras
}

func firstValueString(exts []extension) string {
	for _, e := range exts {
		if e.ValueString != "" {
			return e.ValueString
		}
	}
	return ""
}

func (o observationResource) toDomain() domain.Observation {
	out := domain.Observation{
		ID:        o.ID,
		PatientID: extractPatientID(o.Subject.Reference),
		Code:      o.Code.Text,
		Effective: parseFHIRTime(o.EffectiveDateTime),
	}
	switch {
	case o.ValueQuantity != nil && o.ValueQuantity.Value != nil:
		out.Value = domain.QuantityValue(*o.ValueQuantity.Value, o.ValueQuantity.Unit)
	case o.ValueString != nil:
		out.Value = domain.StringValue(*o.ValueString)
	case o.ValueBoolean != nil:
		out.Value = domain.BoolValue(*o.ValueBoolean)
	}
	return out
}

func (c conditionResource) toDomain() domain.Condition {
	return domain.Condition{
		ID:        c.ID,
		PatientID: extractPatientID(c.Subject.Reference),
		Code:      c.Code.Text,
		Onset:     parseFHIRTime(c.OnsetDateTime),
		Abatement: parseFHIRTime(c.AbatementDateTime),
	}
}

// extractPatientID normalizes "urn:uuid:<id>" and "Patient/<id>" references
// to the bare id.
func extractPatientID(ref string) string {
	if ref == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(ref, "urn:uuid:"); ok {
		return rest
	}
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// parseFHIRTime accepts FHIR dateTime (RFC 3339) and date-only values.
func parseFHIRTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

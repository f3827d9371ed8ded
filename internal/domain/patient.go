package domain

import (
	"strconv"
	"strings"
	"time"
)

// Patient is a stored patient identity with an optional demographic embedding.
// ID is the upsert key and stable across re-ingestion.
type Patient struct {
	ID        string
	FirstName string
	LastName  string
	Gender    string
	BirthDate *time.Time
	Deceased  *bool
	Embedding []float32
}

// AgeAt derives the patient's age in whole years at the given instant.
// Returns false when the birth date is unknown.
func (p Patient) AgeAt(now time.Time) (int, bool) {
	if p.BirthDate == nil {
		return 0, false
	}
	bd := *p.BirthDate
	age := now.Year() - bd.Year()
	if now.Month() < bd.Month() || (now.Month() == bd.Month() && now.Day() < bd.Day()) {
		age--
	}
	return age, true
}

// EmbeddingText renders the patient's demographic data into the labeled-parts
// string the embedding is computed from.
func (p Patient) EmbeddingText() string {
	var parts []string

	if p.Gender != "" {
		parts = append(parts, "Gender: "+p.Gender)
	}
	if p.BirthDate != nil {
		parts = append(parts, "Birth date: "+p.BirthDate.Format("2006-01-02"))
	}
	if p.Deceased != nil {
		status := "alive"
		if *p.Deceased {
			status = "deceased"
		}
		parts = append(parts, "Status: "+status)
	}
	if name := strings.TrimSpace(p.FirstName + " " + p.LastName); name != "" {
		parts = append(parts, "Name(s): "+name)
	}

	if len(parts) == 0 {
		return "Unknown patient"
	}
	return strings.Join(parts, " | ")
}

// Condition is a diagnosed condition belonging to exactly one patient.
// Abatement, when present, is logically at or after Onset; storage does not
// enforce this, summarization assumes it.
type Condition struct {
	ID        string
	PatientID string
	Code      string
	Onset     *time.Time
	Abatement *time.Time
}

// ValueKind discriminates the single populated value slot of an observation.
type ValueKind int

const (
	// ValueNone marks an observation without a value.
	ValueNone ValueKind = iota
	// ValueQuantity marks a numeric value with a unit.
	ValueQuantity
	// ValueString marks a free-text value.
	ValueString
	// ValueBoolean marks a boolean value.
	ValueBoolean
)

// ObservationValue holds exactly one of a numeric quantity, a string, or a boolean.
type ObservationValue struct {
	kind ValueKind
	num  float64
	unit string
	str  string
	b    bool
}

// QuantityValue creates a numeric observation value with a unit.
func QuantityValue(v float64, unit string) ObservationValue {
	return ObservationValue{kind: ValueQuantity, num: v, unit: unit}
}

// StringValue creates a free-text observation value.
func StringValue(s string) ObservationValue {
	return ObservationValue{kind: ValueString, str: s}
}

// BoolValue creates a boolean observation value.
func BoolValue(b bool) ObservationValue {
	return ObservationValue{kind: ValueBoolean, b: b}
}

// Kind reports which value slot is populated.
func (v ObservationValue) Kind() ValueKind { return v.kind }

// Quantity returns the numeric value and unit. ok is false for non-quantity kinds.
func (v ObservationValue) Quantity() (value float64, unit string, ok bool) {
	return v.num, v.unit, v.kind == ValueQuantity
}

// Text returns the string value. ok is false for non-string kinds.
func (v ObservationValue) Text() (string, bool) { return v.str, v.kind == ValueString }

// Bool returns the boolean value. ok is false for non-boolean kinds.
func (v ObservationValue) Bool() (bool, bool) { return v.b, v.kind == ValueBoolean }

// String renders the value for display and embedding.
func (v ObservationValue) String() string {
	switch v.kind {
	case ValueQuantity:
		s := strconv.FormatFloat(v.num, 'f', -1, 64)
		if v.unit != "" {
			s += " " + v.unit
		}
		return s
	case ValueString:
		return v.str
	case ValueBoolean:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Observation is a single clinical measurement or finding for one patient.
// Observations are persisted during ingestion; similarity search also builds
// ephemeral ones from symptom phrases that are embedded but never stored.
type Observation struct {
	ID        string
	PatientID string
	Code      string
	Value     ObservationValue
	Effective *time.Time
	Embedding []float32
}

// EmbeddingText renders the observation into the labeled-parts comparison
// string its embedding is computed from. Deterministic for a given observation.
func (o Observation) EmbeddingText() string {
	var parts []string

	if o.Code != "" {
		parts = append(parts, "Observation: "+o.Code)
	}
	if o.Value.Kind() != ValueNone {
		parts = append(parts, "Value: "+o.Value.String())
	}
	if o.Effective != nil {
		parts = append(parts, "Date: "+o.Effective.Format(time.RFC3339))
	}

	if len(parts) == 0 {
		return "Unknown observation"
	}
	return strings.Join(parts, " | ")
}

// PatientRecord is a patient's full stored record plus the age derived at read time.
type PatientRecord struct {
	Patient      Patient
	Age          *int
	Conditions   []Condition
	Observations []Observation
}

// ObservationMatch is one nearest-neighbor hit from the observation index.
type ObservationMatch struct {
	PatientID  string
	Code       string
	Similarity float64
}

// PatientMatch is one nearest-neighbor hit from the patient index.
type PatientMatch struct {
	PatientID  string
	FirstName  string
	LastName   string
	Similarity float64
}

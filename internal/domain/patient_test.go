package domain

import (
	"testing"
	"time"
)

func TestAgeAt(t *testing.T) {
	bd := time.Date(1975, 6, 15, 0, 0, 0, 0, time.UTC)
	p := Patient{ID: "p1", BirthDate: &bd}

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"day before birthday", time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC), 49},
		{"on birthday", time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), 50},
		{"after birthday", time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.AgeAt(tt.now)
			if !ok {
				t.Fatal("expected age to be derivable")
			}
			if got != tt.want {
				t.Errorf("AgeAt: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAgeAt_UnknownBirthDate(t *testing.T) {
	if _, ok := (Patient{ID: "p1"}).AgeAt(time.Now()); ok {
		t.Error("expected no age without a birth date")
	}
}

func TestPatientEmbeddingText(t *testing.T) {
	bd := time.Date(1960, 1, 2, 0, 0, 0, 0, time.UTC)
	deceased := false
	p := Patient{
		ID:        "p1",
		FirstName: "Ada",
		LastName:  "Nguyen",
		Gender:    "female",
		BirthDate: &bd,
		Deceased:  &deceased,
	}

	want := "Gender: female | Birth date: 1960-01-02 | Status: alive | Name(s): Ada Nguyen"
	if got := p.EmbeddingText(); got != want {
		t.Errorf("EmbeddingText:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestPatientEmbeddingText_Empty(t *testing.T) {
	if got := (Patient{ID: "p1"}).EmbeddingText(); got != "Unknown patient" {
		t.Errorf("empty patient: got %q", got)
	}
}

func TestObservationValue_ExactlyOneKind(t *testing.T) {
	q := QuantityValue(120, "mm[Hg]")
	if _, ok := q.Text(); ok {
		t.Error("quantity value must not expose a string value")
	}
	if _, ok := q.Bool(); ok {
		t.Error("quantity value must not expose a boolean value")
	}
	if v, unit, ok := q.Quantity(); !ok || v != 120 || unit != "mm[Hg]" {
		t.Errorf("Quantity: got (%v, %q, %v)", v, unit, ok)
	}

	s := StringValue("no fever")
	if _, _, ok := s.Quantity(); ok {
		t.Error("string value must not expose a quantity")
	}
	if got, ok := s.Text(); !ok || got != "no fever" {
		t.Errorf("Text: got (%q, %v)", got, ok)
	}
}

func TestObservationEmbeddingText(t *testing.T) {
	eff := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		obs  Observation
		want string
	}{
		{
			"quantity with date",
			Observation{Code: "Body temperature", Value: QuantityValue(38.5, "Cel"), Effective: &eff},
			"Observation: Body temperature | Value: 38.5 Cel | Date: 2024-03-01T10:30:00Z",
		},
		{
			"string value",
			Observation{Code: "Clinical observation", Value: StringValue("has bloody urine")},
			"Observation: Clinical observation | Value: has bloody urine",
		},
		{
			"boolean value",
			Observation{Code: "Pregnancy status", Value: BoolValue(false)},
			"Observation: Pregnancy status | Value: false",
		},
		{
			"empty observation",
			Observation{},
			"Unknown observation",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.obs.EmbeddingText(); got != tt.want {
				t.Errorf("EmbeddingText:\ngot:  %q\nwant: %q", got, tt.want)
			}
		})
	}
}

func TestObservationEmbeddingText_Deterministic(t *testing.T) {
	obs := Observation{Code: "Headache", Value: StringValue("severe headaches")}
	first := obs.EmbeddingText()
	for i := 0; i < 10; i++ {
		if got := obs.EmbeddingText(); got != first {
			t.Fatalf("rendering not deterministic: %q vs %q", got, first)
		}
	}
}

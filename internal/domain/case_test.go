package domain

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"
)

func TestValidateText(t *testing.T) {
	tests := []struct {
		text    string
		wantErr bool
	}{
		{text: "123456789", wantErr: true},
		{text: "   corto   ", wantErr: true},
		{text: "1234567890", wantErr: false},
		{text: "petición á", wantErr: false},
		{text: "Solicito información sobre el corte de agua programado", wantErr: false},
	}
	for _, tt := range tests {
		err := ValidateText(tt.text)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ValidateText(%q) error = %v, wantErr %v", tt.text, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	}
}

func TestParseEnums(t *testing.T) {
	if got, err := ParseCaseType("Petición"); err != nil || got != TypePeticion {
		t.Fatalf("ParseCaseType(label) = %q, %v", got, err)
	}
	if got, err := ParseCategory("BANCA"); err != nil || got != CategoryBanca {
		t.Fatalf("ParseCategory(BANCA) = %q, %v", got, err)
	}
	if got, err := ParseStatus("progress"); err != nil || got != StatusInProgress {
		t.Fatalf("ParseStatus(progress) = %q, %v", got, err)
	}
	if _, err := ParseStatus("archived"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
	if CaseType("otro").Label() != "otro" {
		t.Fatal("unknown type label should fall back to raw value")
	}
}

func TestNewTrackingCode(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	code := NewTrackingCode(now)
	if !regexp.MustCompile(`^PQR-20261017-[0-9A-F]{8}$`).MatchString(code) {
		t.Fatalf("unexpected tracking code format: %s", code)
	}
	if NewTrackingCode(now) == code {
		t.Fatal("expected distinct tracking codes")
	}
}

func TestStatusRequiresResponse(t *testing.T) {
	for _, s := range Statuses {
		want := s == StatusResolved || s == StatusClosed
		if s.RequiresResponse() != want {
			t.Fatalf("%s.RequiresResponse() = %v, want %v", s, !want, want)
		}
	}
}

func TestParseTypeAndCategory(t *testing.T) {
	typ, cat, err := ParseTypeAndCategory(" Petición ", "servicios públicos")
	if err != nil {
		t.Fatalf("ParseTypeAndCategory: %v", err)
	}
	if typ != TypePeticion || cat != CategoryServiciosPublicos {
		t.Fatalf("got %q/%q", typ, cat)
	}

	typ, cat, err = ParseTypeAndCategory("", "")
	if err != nil || typ != "" || cat != "" {
		t.Fatalf("blank inputs = %q/%q, %v", typ, cat, err)
	}

	if _, _, err := ParseTypeAndCategory("queja", "deportes"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestLatencyJSONInMilliseconds(t *testing.T) {
	c := Case{ID: 7, Text: "Solicito información sobre mi trámite", Status: StatusPending, SuggestionLatency: 1500 * time.Millisecond}
	b, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if raw["suggestion_latency_ms"] != float64(1500) {
		t.Fatalf("suggestion_latency_ms = %v in %s", raw["suggestion_latency_ms"], b)
	}
	if _, ok := raw["suggestion_latency"]; ok {
		t.Fatalf("nanosecond field leaked: %s", b)
	}
	var back Case
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("decode Case: %v", err)
	}
	if back.SuggestionLatency != 1500*time.Millisecond || back.ID != 7 {
		t.Fatalf("decoded case = %+v", back)
	}

	r := ClassificationResult{Type: TypeQueja, Category: CategorySalud, Latency: 40 * time.Millisecond, Source: SourceModel}
	b, err = json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	raw = nil
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if raw["latency_ms"] != float64(40) || raw["type"] != "queja" {
		t.Fatalf("classification json = %s", b)
	}
}

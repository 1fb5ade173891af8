package domain

import (
	"fmt"
	"strings"
	"time"
)

// CaseType is the PQR taxonomy axis.
type CaseType string

const (
	TypePeticion   CaseType = "peticion"
	TypeQueja      CaseType = "queja"
	TypeReclamo    CaseType = "reclamo"
	TypeSugerencia CaseType = "sugerencia"
)

// CaseTypes lists every type in display order.
var CaseTypes = []CaseType{TypePeticion, TypeQueja, TypeReclamo, TypeSugerencia}

var caseTypeLabels = map[CaseType]string{
	TypePeticion:   "Petición",
	TypeQueja:      "Queja",
	TypeReclamo:    "Reclamo",
	TypeSugerencia: "Sugerencia",
}

func (t CaseType) Valid() bool {
	_, ok := caseTypeLabels[t]
	return ok
}

// Label returns the display label, or the raw value for unknown types.
func (t CaseType) Label() string {
	if l, ok := caseTypeLabels[t]; ok {
		return l
	}
	return string(t)
}

// Category is the thematic axis.
type Category string

const (
	CategoryServiciosPublicos  Category = "servicios_publicos"
	CategoryBanca              Category = "banca"
	CategorySalud              Category = "salud"
	CategoryTelecomunicaciones Category = "telecomunicaciones"
	CategoryTransporte         Category = "transporte"
	CategoryComercio           Category = "comercio"
	CategoryEducacion          Category = "educacion"
	CategoryGobierno           Category = "gobierno"
)

var Categories = []Category{
	CategoryServiciosPublicos,
	CategoryBanca,
	CategorySalud,
	CategoryTelecomunicaciones,
	CategoryTransporte,
	CategoryComercio,
	CategoryEducacion,
	CategoryGobierno,
}

var categoryLabels = map[Category]string{
	CategoryServiciosPublicos:  "Servicios Públicos",
	CategoryBanca:              "Banca y Finanzas",
	CategorySalud:              "Salud",
	CategoryTelecomunicaciones: "Telecomunicaciones",
	CategoryTransporte:         "Transporte",
	CategoryComercio:           "Comercio",
	CategoryEducacion:          "Educación",
	CategoryGobierno:           "Gobierno",
}

func (c Category) Valid() bool {
	_, ok := categoryLabels[c]
	return ok
}

func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

// ParseCaseType accepts the canonical value or its label, ignoring case.
func ParseCaseType(s string) (CaseType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range CaseTypes {
		if s == string(t) || s == strings.ToLower(t.Label()) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown case type %q", ErrValidation, s)
}

func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories {
		if s == string(c) || s == strings.ToLower(c.Label()) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown category %q", ErrValidation, s)
}

// ParseTypeAndCategory parses optional type and category values. Blank inputs
// stay empty so callers can report the missing classification themselves.
func ParseTypeAndCategory(typ, category string) (CaseType, Category, error) {
	var (
		t   CaseType
		c   Category
		err error
	)
	if strings.TrimSpace(typ) != "" {
		if t, err = ParseCaseType(typ); err != nil {
			return "", "", err
		}
	}
	if strings.TrimSpace(category) != "" {
		if c, err = ParseCategory(category); err != nil {
			return "", "", err
		}
	}
	return t, c, nil
}

// Source tags which subsystem produced a classification or a draft.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
	SourceManual   Source = "manual"
	SourceTemplate Source = "template"
)

// ClassificationResult is produced by the classification orchestrator and merged into
// a Case only when the caller accepts it.
type ClassificationResult struct {
	Type               CaseType      `json:"type"`
	TypeConfidence     float64       `json:"type_confidence"`
	Category           Category      `json:"category"`
	CategoryConfidence float64       `json:"category_confidence"`
	Latency            time.Duration `json:"-"`
	Source             Source        `json:"source"`
}

// SimilarCase is a ranked neighbor returned by a similarity query.
type SimilarCase struct {
	CaseID      int64     `json:"case_id"`
	Score       float64   `json:"score"`
	Excerpt     string    `json:"excerpt"`
	HasResponse bool      `json:"has_response"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// SuggestedResponse is a draft reply, ephemeral until an operator accepts it.
type SuggestedResponse struct {
	Draft            string        `json:"draft_text"`
	Latency          time.Duration `json:"-"`
	SimilarCaseCount int           `json:"similar_case_count"`
	SourceKeyID      string        `json:"source_key_id,omitempty"`
	Source           Source        `json:"source"`
}

type ClassificationCorrection struct {
	ID                int64     `json:"id"`
	CaseID            int64     `json:"case_id"`
	OriginalType      CaseType  `json:"original_type,omitempty"`
	OriginalCategory  Category  `json:"original_category,omitempty"`
	CorrectedType     CaseType  `json:"corrected_type"`
	CorrectedCategory Category  `json:"corrected_category"`
	CorrectedBy       string    `json:"corrected_by,omitempty"`
	CorrectedAt       time.Time `json:"corrected_at"`
}

type ClassificationStats struct {
	TotalClassifications int            `json:"total_classifications"`
	BySource             map[Source]int `json:"by_source"`
	AvgTypeConfidence    float64        `json:"avg_type_confidence"`
	AvgLatencyMS         float64        `json:"avg_latency_ms"`
	TierHigh             int            `json:"tier_high"`
	TierMedium           int            `json:"tier_medium"`
	TierLow              int            `json:"tier_low"`
	TotalCorrections     int            `json:"total_corrections"`
}

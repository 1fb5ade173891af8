package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MinTextLength = 10

var (
	ErrValidation   = errors.New("validation error")
	ErrPrecondition = errors.New("precondition failed")
	ErrState        = errors.New("invalid state")
	ErrNotFound     = errors.New("not found")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

var Statuses = []Status{StatusPending, StatusInProgress, StatusResolved, StatusClosed}

var statusLabels = map[Status]string{
	StatusPending:    "Pendiente",
	StatusInProgress: "En Proceso",
	StatusResolved:   "Resuelto",
	StatusClosed:     "Cerrado",
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// RequiresResponse reports whether a case in this status must carry a response.
func (s Status) RequiresResponse() bool {
	return s == StatusResolved || s == StatusClosed
}

// ParseStatus also accepts "progress", the legacy spelling of in_progress.
func ParseStatus(s string) (Status, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "progress" {
		return StatusInProgress, nil
	}
	for _, st := range Statuses {
		if s == string(st) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
}

// Case is a citizen submission.
type Case struct {
	ID           int64  `json:"id"`
	TrackingCode string `json:"tracking_code"`
	Text         string `json:"text"`
	Subject      string `json:"subject,omitempty"`
	Channel      string `json:"channel,omitempty"`
	UserID       string `json:"user_id,omitempty"`

	Type                 CaseType   `json:"type,omitempty"`
	TypeConfidence       float64    `json:"type_confidence,omitempty"`
	Category             Category   `json:"category,omitempty"`
	CategoryConfidence   float64    `json:"category_confidence,omitempty"`
	ClassificationSource Source     `json:"classification_source,omitempty"`
	ClassifiedAt         *time.Time `json:"classified_at,omitempty"`

	Status   Status `json:"status"`
	Response string `json:"response,omitempty"`

	SuggestedResponse      string        `json:"suggested_response,omitempty"`
	SuggestionSource       Source        `json:"suggestion_source,omitempty"`
	SuggestionLatency      time.Duration `json:"-"`
	SuggestionSimilarCount int           `json:"suggestion_similar_count,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`

	// Corrections is filled only on detail reads, newest first.
	Corrections []ClassificationCorrection `json:"corrections,omitempty"`
}

func (c *Case) Classified() bool {
	return c.Type != "" && c.Category != ""
}

// Classification returns the attached classification as a result value.
func (c *Case) Classification() (ClassificationResult, bool) {
	if !c.Classified() {
		return ClassificationResult{}, false
	}
	return ClassificationResult{
		Type:               c.Type,
		TypeConfidence:     c.TypeConfidence,
		Category:           c.Category,
		CategoryConfidence: c.CategoryConfidence,
		Source:             c.ClassificationSource,
	}, true
}

// ValidateText enforces the minimum case body length, counted in characters after trimming.
func ValidateText(text string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n < MinTextLength {
		return fmt.Errorf("%w: text must be at least %d characters, got %d", ErrValidation, MinTextLength, n)
	}
	return nil
}

// NewTrackingCode builds a human-readable code like PQR-20261017-1A2B3C4D.
func NewTrackingCode(now time.Time) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("PQR-%s-%s", now.Format("20060102"), id[:8])
}

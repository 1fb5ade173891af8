// Package lifecycle owns case status transitions and the rules for attaching
// classifications and responses.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"pqrdesk/internal/domain"
)

var edges = map[domain.Status][]domain.Status{
	domain.StatusPending:    {domain.StatusInProgress, domain.StatusResolved, domain.StatusClosed},
	domain.StatusInProgress: {domain.StatusPending, domain.StatusResolved, domain.StatusClosed},
	domain.StatusResolved:   {domain.StatusPending, domain.StatusInProgress, domain.StatusClosed},
	domain.StatusClosed:     {domain.StatusInProgress},
}

// Allowed reports whether from -> to is a legal edge. Same-state is always allowed.
func Allowed(from, to domain.Status) bool {
	if from == to {
		return true
	}
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Manager struct {
	now func() time.Time
}

type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// New returns a pending, unclassified case.
func (m *Manager) New(text, subject string) (*domain.Case, error) {
	if err := domain.ValidateText(text); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	return &domain.Case{
		TrackingCode: domain.NewTrackingCode(now),
		Text:         strings.TrimSpace(text),
		Subject:      strings.TrimSpace(subject),
		Channel:      "web",
		Status:       domain.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Transition moves c to status to. On error c is unchanged.
func (m *Manager) Transition(c *domain.Case, to domain.Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, to)
	}
	if c.Status == to {
		return nil
	}
	if !Allowed(c.Status, to) {
		return fmt.Errorf("%w: cannot move case from %s to %s", domain.ErrState, c.Status, to)
	}
	if to.RequiresResponse() && strings.TrimSpace(c.Response) == "" {
		return fmt.Errorf("%w: case needs a response before it can be %s", domain.ErrState, to)
	}

	now := m.now().UTC()
	if to.RequiresResponse() && c.RespondedAt == nil {
		stamp := now
		c.RespondedAt = &stamp
	}
	c.Status = to
	c.UpdatedAt = now
	return nil
}

// AttachClassification sets the first classification of c. It never changes status.
func (m *Manager) AttachClassification(c *domain.Case, r domain.ClassificationResult) error {
	if c.Classified() {
		return fmt.Errorf("%w: case %d is already classified; reclassify explicitly", domain.ErrState, c.ID)
	}
	return m.apply(c, r)
}

// Reclassify replaces any existing classification.
func (m *Manager) Reclassify(c *domain.Case, r domain.ClassificationResult) error {
	return m.apply(c, r)
}

func (m *Manager) apply(c *domain.Case, r domain.ClassificationResult) error {
	if !r.Type.Valid() || !r.Category.Valid() {
		return fmt.Errorf("%w: classification needs a known type and category", domain.ErrValidation)
	}
	now := m.now().UTC()
	c.Type = r.Type
	c.TypeConfidence = r.TypeConfidence
	c.Category = r.Category
	c.CategoryConfidence = r.CategoryConfidence
	c.ClassificationSource = r.Source
	c.ClassifiedAt = &now
	c.UpdatedAt = now
	return nil
}

// SetResponse updates the reply text. A resolved or closed case cannot lose its response.
func (m *Manager) SetResponse(c *domain.Case, text string) error {
	text = strings.TrimSpace(text)
	if text == "" && c.Status.RequiresResponse() {
		return fmt.Errorf("%w: cannot clear the response of a %s case", domain.ErrState, c.Status)
	}
	c.Response = text
	c.UpdatedAt = m.now().UTC()
	return nil
}

// SetText replaces the case body. Any classification is cleared because it no
// longer describes the text.
func (m *Manager) SetText(c *domain.Case, text string) error {
	if err := domain.ValidateText(text); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == c.Text {
		return nil
	}
	c.Text = text
	c.Type, c.Category = "", ""
	c.TypeConfidence, c.CategoryConfidence = 0, 0
	c.ClassificationSource = ""
	c.ClassifiedAt = nil
	c.UpdatedAt = m.now().UTC()
	return nil
}

// AcceptSuggestion records a draft and its provenance. The response itself is
// only set through SetResponse.
func (m *Manager) AcceptSuggestion(c *domain.Case, s domain.SuggestedResponse) {
	c.SuggestedResponse = s.Draft
	c.SuggestionSource = s.Source
	c.SuggestionLatency = s.Latency
	c.SuggestionSimilarCount = s.SimilarCaseCount
	c.UpdatedAt = m.now().UTC()
}

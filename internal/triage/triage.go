// Package triage runs the case workflow: classify, find similar cases, draft a reply
// and move the case through its lifecycle, persisting each accepted step.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"pqrdesk/internal/classify"
	"pqrdesk/internal/domain"
	"pqrdesk/internal/inflight"
	"pqrdesk/internal/lifecycle"
	"pqrdesk/internal/logging"
	"pqrdesk/internal/metrics"
	"pqrdesk/internal/similarity"
	"pqrdesk/internal/suggest"
)

// ErrStale is returned when a case changed while a remote result was being computed.
// The result is discarded.
var ErrStale = errors.New("case changed while the result was computed")

const suggestSimilarTopK = 5

type Store interface {
	CreateCase(ctx context.Context, c *domain.Case) error
	GetCase(ctx context.Context, id int64) (*domain.Case, error)
	GetCases(ctx context.Context, ids []int64) (map[int64]*domain.Case, error)
	UpdateCase(ctx context.Context, c *domain.Case) error
	DeleteCase(ctx context.Context, id int64) error
	LogClassification(ctx context.Context, caseID int64, text string, r domain.ClassificationResult) error
	InsertCorrection(ctx context.Context, c domain.ClassificationCorrection) error
	CorrectionsForCase(ctx context.Context, caseID int64) ([]domain.ClassificationCorrection, error)
}

type Service struct {
	store      Store
	classifier *classify.Orchestrator
	retriever  *similarity.Retriever
	suggester  *suggest.Orchestrator
	lifecycle  *lifecycle.Manager
	tracker    *inflight.Tracker
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// mu serializes read-modify-write of stored cases. Remote calls run outside it.
	mu sync.Mutex
}

type Deps struct {
	Store      Store
	Classifier *classify.Orchestrator
	Retriever  *similarity.Retriever
	Suggester  *suggest.Orchestrator
	Lifecycle  *lifecycle.Manager
	Tracker    *inflight.Tracker
	Metrics    *metrics.Metrics
}

func NewService(d Deps) *Service {
	if d.Lifecycle == nil {
		d.Lifecycle = lifecycle.NewManager()
	}
	if d.Tracker == nil {
		d.Tracker = inflight.NewTracker()
	}
	return &Service{
		store:      d.Store,
		classifier: d.Classifier,
		retriever:  d.Retriever,
		suggester:  d.Suggester,
		lifecycle:  d.Lifecycle,
		tracker:    d.Tracker,
		metrics:    d.Metrics,
		logger:     logging.New("triage"),
	}
}

type NewCase struct {
	Text    string `json:"text"`
	Subject string `json:"subject"`
	Channel string `json:"channel"`
	UserID  string `json:"user_id"`
}

// CreateCase stores a pending case, classifying it first when autoClassify is set.
func (s *Service) CreateCase(ctx context.Context, in NewCase, autoClassify bool) (*domain.Case, error) {
	c, err := s.lifecycle.New(in.Text, in.Subject)
	if err != nil {
		return nil, err
	}
	if ch := strings.TrimSpace(in.Channel); ch != "" {
		c.Channel = ch
	}
	c.UserID = strings.TrimSpace(in.UserID)

	var result domain.ClassificationResult
	if autoClassify {
		result, err = s.classifier.Classify(ctx, c.Text, 0)
		if err != nil {
			return nil, err
		}
		if err := s.lifecycle.AttachClassification(c, result); err != nil {
			return nil, err
		}
	}

	if err := s.store.CreateCase(ctx, c); err != nil {
		return nil, err
	}
	if autoClassify {
		s.logClassification(ctx, c.ID, c.Text, result)
	}
	s.logger.Info("case created", "case_id", c.ID, "tracking_code", c.TrackingCode, "classified", c.Classified())
	return c, nil
}

// GetCase loads a case together with its manual classification overrides.
func (s *Service) GetCase(ctx context.Context, id int64) (*domain.Case, error) {
	c, err := s.store.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Corrections, err = s.store.CorrectionsForCase(ctx, id); err != nil {
		return nil, fmt.Errorf("loading corrections for case %d: %w", id, err)
	}
	return c, nil
}

// Classify classifies free text without storing a case.
func (s *Service) Classify(ctx context.Context, text string) (domain.ClassificationResult, error) {
	r, err := s.classifier.Classify(ctx, text, 0)
	if err != nil {
		return r, err
	}
	s.logClassification(ctx, 0, text, r)
	return r, nil
}

func (s *Service) ClassifyBatch(ctx context.Context, texts []string) ([]domain.ClassificationResult, error) {
	results, err := s.classifier.ClassifyBatch(ctx, texts, 0)
	if err != nil {
		return nil, err
	}
	for i, r := range results {
		s.logClassification(ctx, 0, texts[i], r)
	}
	return results, nil
}

// Reclassify runs the classifier on the stored text and replaces any existing
// classification. If the text changes meanwhile the result is dropped with ErrStale.
func (s *Service) Reclassify(ctx context.Context, id int64) (*domain.Case, error) {
	// The ticket must predate the read: an edit landing in between invalidates it.
	ticket := s.tracker.Begin(id)
	c, err := s.store.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	result, err := s.classifier.Classify(ctx, c.Text, 0)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tracker.Current(ticket) {
		return nil, fmt.Errorf("reclassify case %d: %w", id, ErrStale)
	}
	c, err = s.store.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.lifecycle.Reclassify(c, result); err != nil {
		return nil, err
	}
	if err := s.store.UpdateCase(ctx, c); err != nil {
		return nil, err
	}
	s.logClassification(ctx, c.ID, c.Text, result)
	return c, nil
}

// Update is a partial edit. Nil fields are left alone.
type Update struct {
	Text        *string          `json:"text"`
	Subject     *string          `json:"subject"`
	Response    *string          `json:"response"`
	Status      *domain.Status   `json:"status"`
	Type        *domain.CaseType `json:"type"`
	Category    *domain.Category `json:"category"`
	CorrectedBy string           `json:"corrected_by"`
}

// UpdateCase applies u atomically: if any step is rejected nothing is stored.
// Response changes apply before the status change so a case can be answered and
// resolved in one update.
func (s *Service) UpdateCase(ctx context.Context, id int64, u Update) (*domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	textChanged := false
	if u.Text != nil {
		before := c.Text
		if err := s.lifecycle.SetText(c, *u.Text); err != nil {
			return nil, err
		}
		textChanged = c.Text != before
	}
	if u.Subject != nil {
		c.Subject = strings.TrimSpace(*u.Subject)
	}
	if u.Response != nil {
		if err := s.lifecycle.SetResponse(c, *u.Response); err != nil {
			return nil, err
		}
	}

	var correction *domain.ClassificationCorrection
	if u.Type != nil || u.Category != nil {
		correction, err = s.correct(c, u)
		if err != nil {
			return nil, err
		}
	}

	fromStatus := c.Status
	if u.Status != nil {
		if err := s.lifecycle.Transition(c, *u.Status); err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdateCase(ctx, c); err != nil {
		return nil, err
	}
	if textChanged {
		s.tracker.Invalidate(id)
	}
	if correction != nil {
		if err := s.store.InsertCorrection(ctx, *correction); err != nil {
			s.logger.Warn("record correction failed", "case_id", id, "err", err)
		}
	}
	if c.Status != fromStatus {
		s.metrics.ObserveTransition(string(c.Status))
		s.logger.Info("case status changed", "case_id", id, "from", fromStatus, "to", c.Status)
	}
	return c, nil
}

// correct applies an operator classification. A partial correction keeps the
// other axis, so it needs an existing classification.
func (s *Service) correct(c *domain.Case, u Update) (*domain.ClassificationCorrection, error) {
	newType, newCategory := c.Type, c.Category
	if u.Type != nil {
		newType = *u.Type
	}
	if u.Category != nil {
		newCategory = *u.Category
	}
	if !newType.Valid() || !newCategory.Valid() {
		return nil, fmt.Errorf("%w: a correction needs a known type and category", domain.ErrValidation)
	}
	if newType == c.Type && newCategory == c.Category && c.ClassificationSource == domain.SourceManual {
		return nil, nil
	}

	correction := &domain.ClassificationCorrection{
		CaseID:            c.ID,
		OriginalType:      c.Type,
		OriginalCategory:  c.Category,
		CorrectedType:     newType,
		CorrectedCategory: newCategory,
		CorrectedBy:       strings.TrimSpace(u.CorrectedBy),
	}
	err := s.lifecycle.Reclassify(c, domain.ClassificationResult{
		Type:               newType,
		TypeConfidence:     1,
		Category:           newCategory,
		CategoryConfidence: 1,
		Source:             domain.SourceManual,
	})
	if err != nil {
		return nil, err
	}
	correction.CorrectedAt = *c.ClassifiedAt
	return correction, nil
}

func (s *Service) DeleteCase(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.DeleteCase(ctx, id); err != nil {
		return err
	}
	s.tracker.Invalidate(id)
	s.logger.Info("case deleted", "case_id", id)
	return nil
}

// FindSimilar searches by free text or case id.
func (s *Service) FindSimilar(ctx context.Context, q similarity.Query) (similarity.Result, error) {
	if q.CaseID != 0 {
		if _, err := s.store.GetCase(ctx, q.CaseID); err != nil {
			return similarity.Result{}, err
		}
	}
	return s.retriever.FindSimilar(ctx, q)
}

// Suggest drafts a reply for an unsaved, already classified text.
func (s *Service) Suggest(ctx context.Context, cc suggest.CaseContext) (domain.SuggestedResponse, error) {
	if cc.IncludeSimilar && len(cc.Similar) == 0 && strings.TrimSpace(cc.Text) != "" {
		cc.Similar = s.similarResponses(ctx, similarity.Query{Text: cc.Text, TopK: suggestSimilarTopK})
	}
	return s.suggester.Suggest(ctx, cc)
}

// SuggestForCase drafts a reply for a stored case and records the draft on it.
func (s *Service) SuggestForCase(ctx context.Context, id int64, includeSimilar bool) (domain.SuggestedResponse, error) {
	ticket := s.tracker.Begin(id)
	c, err := s.store.GetCase(ctx, id)
	if err != nil {
		return domain.SuggestedResponse{}, err
	}
	if !c.Classified() {
		return domain.SuggestedResponse{}, fmt.Errorf("%w: case %d has no classification", domain.ErrPrecondition, id)
	}

	cc := suggest.CaseContext{
		CaseID:         c.ID,
		Text:           c.Text,
		Type:           c.Type,
		Category:       c.Category,
		IncludeSimilar: includeSimilar,
	}
	if includeSimilar {
		cc.Similar = s.similarResponses(ctx, similarity.Query{CaseID: id, TopK: suggestSimilarTopK})
	}
	draft, err := s.suggester.Suggest(ctx, cc)
	if err != nil {
		return domain.SuggestedResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tracker.Current(ticket) {
		return domain.SuggestedResponse{}, fmt.Errorf("suggest for case %d: %w", id, ErrStale)
	}
	c, err = s.store.GetCase(ctx, id)
	if err != nil {
		return domain.SuggestedResponse{}, err
	}
	s.lifecycle.AcceptSuggestion(c, draft)
	if err := s.store.UpdateCase(ctx, c); err != nil {
		return domain.SuggestedResponse{}, err
	}
	return draft, nil
}

// similarResponses resolves neighbors to their stored text and response. Lookup
// failures degrade to no grounding.
func (s *Service) similarResponses(ctx context.Context, q similarity.Query) []suggest.SimilarResponse {
	if s.retriever == nil {
		return nil
	}
	res, err := s.retriever.FindSimilar(ctx, q)
	if err != nil || res.Unavailable || len(res.Cases) == 0 {
		if err != nil {
			s.logger.Debug("similar cases for suggestion skipped", "err", err)
		}
		return nil
	}
	ids := make([]int64, 0, len(res.Cases))
	for _, sc := range res.Cases {
		if sc.HasResponse {
			ids = append(ids, sc.CaseID)
		}
	}
	stored, err := s.store.GetCases(ctx, ids)
	if err != nil {
		s.logger.Warn("load similar cases failed", "err", err)
		return nil
	}
	var out []suggest.SimilarResponse
	for _, sc := range res.Cases {
		c, ok := stored[sc.CaseID]
		if !ok || strings.TrimSpace(c.Response) == "" {
			continue
		}
		out = append(out, suggest.SimilarResponse{CaseID: c.ID, Score: sc.Score, Text: c.Text, Response: c.Response})
	}
	return out
}

func (s *Service) logClassification(ctx context.Context, caseID int64, text string, r domain.ClassificationResult) {
	// The log write outlives the request context.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.LogClassification(logCtx, caseID, text, r); err != nil {
		s.logger.Warn("classification log write failed", "case_id", caseID, "err", err)
	}
	s.logger.Debug("classified", "case_id", caseID, "type", r.Type, "category", r.Category, "source", r.Source, "latency_ms", r.Latency.Milliseconds())
}

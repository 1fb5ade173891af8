// Package suggest drafts case replies with a generator and falls back to
// per-type templates when the generator fails.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pqrdesk/internal/domain"
	"pqrdesk/internal/logging"
	"pqrdesk/internal/metrics"
)

const DefaultTimeout = 30 * time.Second

// SimilarResponse is an answered neighbor used as grounding.
type SimilarResponse struct {
	CaseID   int64
	Score    float64
	Text     string
	Response string
}

// CaseContext is everything known about the case being answered.
type CaseContext struct {
	CaseID         int64
	Text           string
	Type           domain.CaseType
	Category       domain.Category
	IncludeSimilar bool
	Similar        []SimilarResponse
}

// Request carries both the structured case and the rendered prompt; remote services
// use the former and direct LLM providers the latter.
type Request struct {
	CaseContext
	Prompt Prompt
}

type Draft struct {
	Text             string
	KeyID            string
	SimilarCaseCount int
	Latency          time.Duration
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Draft, error)
}

var errEmptyDraft = errors.New("generator returned an empty draft")

type Orchestrator struct {
	generator Generator
	templates Templates
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Orchestrator)

func WithTemplates(t Templates) Option {
	return func(o *Orchestrator) {
		if len(t) > 0 {
			o.templates = t
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New builds an orchestrator. A nil generator always yields template drafts.
func New(g Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		generator: g,
		templates: DefaultTemplates(),
		timeout:   DefaultTimeout,
		logger:    logging.New("suggest"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Suggest requires a classified case. Generator failures and empty drafts produce
// the type template with Source=template; only precondition failures and
// cancellation of ctx are returned as errors.
func (o *Orchestrator) Suggest(ctx context.Context, cc CaseContext) (domain.SuggestedResponse, error) {
	if !cc.Type.Valid() || !cc.Category.Valid() {
		return domain.SuggestedResponse{}, fmt.Errorf("%w: case must be classified before suggesting a response", domain.ErrPrecondition)
	}
	if strings.TrimSpace(cc.Text) == "" {
		return domain.SuggestedResponse{}, fmt.Errorf("%w: case text is empty", domain.ErrValidation)
	}
	if !cc.IncludeSimilar {
		cc.Similar = nil
	}
	cc.Similar = usableSimilar(cc.Similar)

	template := o.templates.Render(cc.Type, cc.Category)
	if o.generator == nil {
		return o.templateDraft(template), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	draft, err := o.generator.Generate(callCtx, Request{CaseContext: cc, Prompt: BuildPrompt(cc, template)})
	elapsed := time.Since(start)
	if err == nil && strings.TrimSpace(draft.Text) == "" {
		err = errEmptyDraft
	}
	o.metrics.ObserveRemote("suggester", err, elapsed)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.SuggestedResponse{}, ctxErr
		}
		o.logger.Warn("response generator failed, using template", "case_id", cc.CaseID, "type", cc.Type, "err", err)
		return o.templateDraft(template), nil
	}

	latency := draft.Latency
	if latency <= 0 {
		latency = elapsed
	}
	count := draft.SimilarCaseCount
	if count <= 0 {
		count = len(cc.Similar)
	}
	o.metrics.ObserveSuggestion(string(domain.SourceModel))
	return domain.SuggestedResponse{
		Draft:            strings.TrimSpace(draft.Text),
		Latency:          latency,
		SimilarCaseCount: count,
		SourceKeyID:      draft.KeyID,
		Source:           domain.SourceModel,
	}, nil
}

func (o *Orchestrator) templateDraft(template string) domain.SuggestedResponse {
	o.metrics.ObserveSuggestion(string(domain.SourceTemplate))
	return domain.SuggestedResponse{
		Draft:  template,
		Source: domain.SourceTemplate,
	}
}

// Package classify runs the remote classifier under a latency budget and falls back
// to keyword rules when it fails.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"pqrdesk/internal/domain"
	"pqrdesk/internal/fallback"
	"pqrdesk/internal/logging"
	"pqrdesk/internal/metrics"
)

const (
	DefaultTimeout = 5 * time.Second
	MaxBatch       = 100
	batchWorkers   = 4
)

// Classifier is the remote classification service.
type Classifier interface {
	Classify(ctx context.Context, text string) (domain.ClassificationResult, error)
}

type Orchestrator struct {
	remote   Classifier
	fallback *fallback.Classifier
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Orchestrator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// New builds an orchestrator. A nil remote always uses the fallback.
func New(remote Classifier, fb *fallback.Classifier, opts ...Option) *Orchestrator {
	if fb == nil {
		fb = fallback.New(fallback.DefaultRules())
	}
	o := &Orchestrator{
		remote:   remote,
		fallback: fb,
		timeout:  DefaultTimeout,
		logger:   logging.New("classify"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Classify validates text and returns a model result, or a fallback result if the
// remote call fails or exceeds timeout. Only validation errors and cancellation of ctx
// are returned as errors.
func (o *Orchestrator) Classify(ctx context.Context, text string, timeout time.Duration) (domain.ClassificationResult, error) {
	if err := domain.ValidateText(text); err != nil {
		return domain.ClassificationResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.ClassificationResult{}, err
	}
	if timeout <= 0 {
		timeout = o.timeout
	}

	if o.remote != nil {
		res, err := o.classifyRemote(ctx, text, timeout)
		if err == nil {
			o.metrics.ObserveClassification(string(res.Source))
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.ClassificationResult{}, ctxErr
		}
		o.logger.Warn("remote classifier failed, using fallback", "err", err)
	}

	res := o.fallback.Classify(text)
	o.metrics.ObserveClassification(string(res.Source))
	return res, nil
}

// classifyRemote makes at most two attempts that share one deadline.
func (o *Orchestrator) classifyRemote(ctx context.Context, text string, timeout time.Duration) (domain.ClassificationResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		start := time.Now()
		res, err := o.remote.Classify(callCtx, text)
		elapsed := time.Since(start)
		if err == nil {
			err = validateResult(res)
		}
		o.metrics.ObserveRemote("classifier", err, elapsed)
		if err == nil {
			res.Source = domain.SourceModel
			if res.Latency <= 0 {
				res.Latency = elapsed
			}
			return res, nil
		}
		lastErr = err
		if callCtx.Err() != nil {
			break
		}
		o.logger.Debug("remote classifier attempt failed", "attempt", attempt, "err", err)
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return domain.ClassificationResult{}, fmt.Errorf("classifier exceeded %s: %w", timeout, lastErr)
	}
	return domain.ClassificationResult{}, lastErr
}

func validateResult(r domain.ClassificationResult) error {
	if !r.Type.Valid() {
		return fmt.Errorf("classifier returned unknown type %q", r.Type)
	}
	if !r.Category.Valid() {
		return fmt.Errorf("classifier returned unknown category %q", r.Category)
	}
	if !inUnit(r.TypeConfidence) || !inUnit(r.CategoryConfidence) {
		return fmt.Errorf("classifier returned confidence outside [0,1]: type=%v category=%v", r.TypeConfidence, r.CategoryConfidence)
	}
	return nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

// ClassifyBatch classifies up to MaxBatch texts concurrently. Every text is validated
// before any remote call is made; results keep input order.
func (o *Orchestrator) ClassifyBatch(ctx context.Context, texts []string, timeout time.Duration) ([]domain.ClassificationResult, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", domain.ErrValidation)
	}
	if len(texts) > MaxBatch {
		return nil, fmt.Errorf("%w: batch has %d texts, max %d", domain.ErrValidation, len(texts), MaxBatch)
	}
	for i, text := range texts {
		if err := domain.ValidateText(text); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}

	results := make([]domain.ClassificationResult, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchWorkers)
	for i, text := range texts {
		g.Go(func() error {
			res, err := o.Classify(gctx, text, timeout)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Package fixed provides deterministic in-memory stand-ins for the remote
// classifier, similarity search and response generator.
package fixed

import (
	"context"
	"sync"
	"time"

	"pqrdesk/internal/domain"
	"pqrdesk/internal/similarity"
	"pqrdesk/internal/suggest"
)

// Step is one scripted reply. Delay is honored against the caller's context.
type Step[T any] struct {
	Value T
	Err   error
	Delay time.Duration
}

// script replays steps in order and repeats the last one.
type script[T any] struct {
	mu    sync.Mutex
	steps []Step[T]
	calls int
}

func (s *script[T]) next(ctx context.Context) (T, error) {
	s.mu.Lock()
	var step Step[T]
	if len(s.steps) > 0 {
		i := s.calls
		if i >= len(s.steps) {
			i = len(s.steps) - 1
		}
		step = s.steps[i]
	}
	s.calls++
	s.mu.Unlock()

	var zero T
	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	if step.Err != nil {
		return zero, step.Err
	}
	return step.Value, nil
}

func (s *script[T]) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type Classifier struct {
	script[domain.ClassificationResult]
}

func NewClassifier(steps ...Step[domain.ClassificationResult]) *Classifier {
	return &Classifier{script[domain.ClassificationResult]{steps: steps}}
}

func (c *Classifier) Classify(ctx context.Context, _ string) (domain.ClassificationResult, error) {
	return c.next(ctx)
}

type Searcher struct {
	script[[]domain.SimilarCase]

	mu   sync.Mutex
	last similarity.Request
}

func NewSearcher(steps ...Step[[]domain.SimilarCase]) *Searcher {
	return &Searcher{script: script[[]domain.SimilarCase]{steps: steps}}
}

func (s *Searcher) Search(ctx context.Context, req similarity.Request) ([]domain.SimilarCase, error) {
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	return s.next(ctx)
}

// LastRequest returns the most recent request the searcher received.
func (s *Searcher) LastRequest() similarity.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type Generator struct {
	script[suggest.Draft]

	mu   sync.Mutex
	last suggest.Request
}

func NewGenerator(steps ...Step[suggest.Draft]) *Generator {
	return &Generator{script: script[suggest.Draft]{steps: steps}}
}

func (g *Generator) Generate(ctx context.Context, req suggest.Request) (suggest.Draft, error) {
	g.mu.Lock()
	g.last = req
	g.mu.Unlock()
	return g.next(ctx)
}

func (g *Generator) LastRequest() suggest.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Package similarity ranks past cases against a query text or an existing case.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"pqrdesk/internal/domain"
	"pqrdesk/internal/logging"
	"pqrdesk/internal/metrics"
	"pqrdesk/internal/textnorm"
)

const (
	DefaultTopK     = 5
	MaxTopK         = 20
	DefaultMinScore = 0.30
	ExcerptLength   = 500
)

// Query selects neighbors of either Text or CaseID, never both.
type Query struct {
	Text   string
	CaseID int64
	TopK   int
	// MinScore nil means the retriever's default minimum.
	MinScore *float64
}

// Request is what a Searcher receives: Limit already includes headroom for filtering.
type Request struct {
	Text     string
	CaseID   int64
	Limit    int
	MinScore float64
}

// Searcher produces unfiltered candidates.
type Searcher interface {
	Search(ctx context.Context, req Request) ([]domain.SimilarCase, error)
}

type Result struct {
	Cases       []domain.SimilarCase `json:"results"`
	Unavailable bool                 `json:"unavailable,omitempty"`
	Reason      string               `json:"reason,omitempty"`
}

type Retriever struct {
	searcher Searcher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	minScore float64
}

type Option func(*Retriever)

// WithDefaultMinScore sets the threshold applied when a query leaves MinScore unset.
func WithDefaultMinScore(v float64) Option {
	return func(r *Retriever) { r.minScore = v }
}

func NewRetriever(s Searcher, m *metrics.Metrics, opts ...Option) *Retriever {
	r := &Retriever{searcher: s, metrics: m, logger: logging.New("similarity"), minScore: DefaultMinScore}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FindSimilar returns at most TopK cases scoring at least MinScore, best first.
// A failing searcher yields an Unavailable result rather than an error.
func (r *Retriever) FindSimilar(ctx context.Context, q Query) (Result, error) {
	req, err := q.normalize(r.minScore)
	if err != nil {
		return Result{}, err
	}
	if r.searcher == nil {
		r.metrics.ObserveSimilarity("unavailable")
		return Result{Cases: []domain.SimilarCase{}, Unavailable: true, Reason: "similarity search is not configured"}, nil
	}

	candidates, err := r.searcher.Search(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
			return Result{}, err
		}
		r.logger.Warn("similarity search failed", "err", err)
		r.metrics.ObserveSimilarity("unavailable")
		return Result{Cases: []domain.SimilarCase{}, Unavailable: true, Reason: err.Error()}, nil
	}

	cases := Rank(candidates, q.CaseID, req.MinScore, req.Limit/2)
	r.metrics.ObserveSimilarity("ok")
	return Result{Cases: cases}, nil
}

func (q Query) normalize(defaultMinScore float64) (Request, error) {
	text := strings.TrimSpace(q.Text)
	switch {
	case text != "" && q.CaseID != 0:
		return Request{}, fmt.Errorf("%w: query takes either text or case id, not both", domain.ErrValidation)
	case text == "" && q.CaseID <= 0:
		return Request{}, fmt.Errorf("%w: query needs text or a case id", domain.ErrValidation)
	case text != "":
		if err := domain.ValidateText(text); err != nil {
			return Request{}, err
		}
	}

	topK := q.TopK
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK < 1 || topK > MaxTopK {
		return Request{}, fmt.Errorf("%w: top_k must be between 1 and %d, got %d", domain.ErrValidation, MaxTopK, q.TopK)
	}

	minScore := defaultMinScore
	if q.MinScore != nil {
		minScore = *q.MinScore
	}
	if math.IsNaN(minScore) || minScore < 0 || minScore > 1 {
		return Request{}, fmt.Errorf("%w: min_score must be in [0,1], got %v", domain.ErrValidation, minScore)
	}

	return Request{Text: text, CaseID: q.CaseID, Limit: topK * 2, MinScore: minScore}, nil
}

// Rank drops the query case and anything below minScore, orders by score then
// recency, trims excerpts and truncates to topK.
func Rank(candidates []domain.SimilarCase, exclude int64, minScore float64, topK int) []domain.SimilarCase {
	out := make([]domain.SimilarCase, 0, len(candidates))
	for _, c := range candidates {
		if exclude != 0 && c.CaseID == exclude {
			continue
		}
		if math.IsNaN(c.Score) || c.Score < minScore || c.Score > 1 {
			continue
		}
		c.Excerpt = textnorm.Excerpt(c.Excerpt, ExcerptLength)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.CaseID > b.CaseID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

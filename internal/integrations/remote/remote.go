// Package remote implements the classifier, similarity and suggestion services over
// JSON HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"pqrdesk/internal/domain"
	"pqrdesk/internal/similarity"
	"pqrdesk/internal/suggest"
)

const maxErrorBody = 512

// NewLimiter returns nil (no limit) when perSecond is not positive.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

type client struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
}

func (c client) postJSON(ctx context.Context, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(respBody))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return fmt.Errorf("%s returned %d: %s", c.url, resp.StatusCode, snippet)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response from %s: %w", c.url, err)
	}
	return nil
}

type Classifier struct {
	client
}

func NewClassifier(url string, hc *http.Client, limiter *rate.Limiter) *Classifier {
	return &Classifier{client{url: url, http: hc, limiter: limiter}}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Type               string   `json:"type"`
	TypeConfidence     *float64 `json:"type_confidence"`
	Category           string   `json:"category"`
	CategoryConfidence *float64 `json:"category_confidence"`
	LatencyMS          float64  `json:"latency_ms"`
}

// Classify returns the raw remote answer; range checks are the caller's concern.
func (c *Classifier) Classify(ctx context.Context, text string) (domain.ClassificationResult, error) {
	var out classifyResponse
	if err := c.postJSON(ctx, classifyRequest{Text: text}, &out); err != nil {
		return domain.ClassificationResult{}, err
	}
	if out.TypeConfidence == nil || out.CategoryConfidence == nil {
		return domain.ClassificationResult{}, fmt.Errorf("classifier response is missing confidences")
	}
	return domain.ClassificationResult{
		Type:               domain.CaseType(strings.ToLower(strings.TrimSpace(out.Type))),
		TypeConfidence:     *out.TypeConfidence,
		Category:           domain.Category(strings.ToLower(strings.TrimSpace(out.Category))),
		CategoryConfidence: *out.CategoryConfidence,
		Latency:            msToDuration(out.LatencyMS),
		Source:             domain.SourceModel,
	}, nil
}

type Searcher struct {
	client
}

func NewSearcher(url string, hc *http.Client, limiter *rate.Limiter) *Searcher {
	return &Searcher{client{url: url, http: hc, limiter: limiter}}
}

type searchRequest struct {
	CaseID   int64   `json:"case_id,omitempty"`
	Text     string  `json:"text,omitempty"`
	TopK     int     `json:"top_k"`
	MinScore float64 `json:"min_score"`
}

type searchResponse struct {
	Results []struct {
		CaseID      int64      `json:"case_id"`
		Score       float64    `json:"score"`
		Excerpt     string     `json:"excerpt"`
		HasResponse bool       `json:"has_response"`
		CreatedAt   *time.Time `json:"created_at"`
	} `json:"results"`
}

func (s *Searcher) Search(ctx context.Context, req similarity.Request) ([]domain.SimilarCase, error) {
	var out searchResponse
	in := searchRequest{CaseID: req.CaseID, Text: req.Text, TopK: req.Limit, MinScore: req.MinScore}
	if err := s.postJSON(ctx, in, &out); err != nil {
		return nil, err
	}
	cases := make([]domain.SimilarCase, 0, len(out.Results))
	for _, r := range out.Results {
		sc := domain.SimilarCase{CaseID: r.CaseID, Score: r.Score, Excerpt: r.Excerpt, HasResponse: r.HasResponse}
		if r.CreatedAt != nil {
			sc.CreatedAt = *r.CreatedAt
		}
		cases = append(cases, sc)
	}
	return cases, nil
}

type Suggester struct {
	client
}

func NewSuggester(url string, hc *http.Client, limiter *rate.Limiter) *Suggester {
	return &Suggester{client{url: url, http: hc, limiter: limiter}}
}

type suggestRequest struct {
	CaseID         int64  `json:"case_id,omitempty"`
	Text           string `json:"text"`
	Type           string `json:"type"`
	Category       string `json:"category"`
	IncludeSimilar bool   `json:"include_similar"`
}

type suggestResponse struct {
	DraftText        string          `json:"draft_text"`
	LatencyMS        float64         `json:"latency_ms"`
	SimilarCaseCount int             `json:"similar_case_count"`
	GeneratorKeyID   json.RawMessage `json:"generator_key_id"`
}

func (s *Suggester) Generate(ctx context.Context, req suggest.Request) (suggest.Draft, error) {
	in := suggestRequest{
		CaseID:         req.CaseID,
		Text:           req.Text,
		Type:           string(req.Type),
		Category:       string(req.Category),
		IncludeSimilar: req.IncludeSimilar,
	}
	var out suggestResponse
	if err := s.postJSON(ctx, in, &out); err != nil {
		return suggest.Draft{}, err
	}
	return suggest.Draft{
		Text:             out.DraftText,
		KeyID:            keyID(out.GeneratorKeyID),
		SimilarCaseCount: out.SimilarCaseCount,
		Latency:          msToDuration(out.LatencyMS),
	}, nil
}

// keyID accepts the key identifier as either a JSON string or number.
func keyID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}

func msToDuration(ms float64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// Package stats composes volume and performance figures over a trailing window.
package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"pqrdesk/internal/domain"
)

const (
	DefaultDays = 30
	MaxDays     = 365
)

type Overview struct {
	Days             int      `json:"days"`
	TotalCases       int      `json:"total_cases"`
	Pending          int      `json:"pending"`
	InProgress       int      `json:"in_progress"`
	Resolved         int      `json:"resolved"`
	Closed           int      `json:"closed"`
	AvgResponseHours *float64 `json:"avg_response_hours"`
}

// Breakdown is one row of a by-type or by-category table.
type Breakdown struct {
	Key        string  `json:"key"`
	Label      string  `json:"label"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type Report struct {
	Overview       Overview                   `json:"overview"`
	ByType         []Breakdown                `json:"by_type"`
	ByCategory     []Breakdown                `json:"by_category"`
	Classification domain.ClassificationStats `json:"classification"`
	GeneratedAt    time.Time                  `json:"generated_at"`
}

// Source is the aggregate query surface of the case store.
type Source interface {
	Overview(ctx context.Context, since time.Time) (Overview, error)
	CountByType(ctx context.Context, since time.Time) (map[domain.CaseType]int, error)
	CountByCategory(ctx context.Context, since time.Time) (map[domain.Category]int, error)
	ClassificationStats(ctx context.Context, since time.Time) (domain.ClassificationStats, error)
}

type Service struct {
	src Source
	now func() time.Time
}

func NewService(src Source, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{src: src, now: now}
}

// ValidateDays maps 0 to DefaultDays and rejects anything outside 1..MaxDays.
func ValidateDays(days int) (int, error) {
	if days == 0 {
		return DefaultDays, nil
	}
	if days < 1 || days > MaxDays {
		return 0, fmt.Errorf("%w: days must be between 1 and %d, got %d", domain.ErrValidation, MaxDays, days)
	}
	return days, nil
}

func (s *Service) since(days int) (int, time.Time, error) {
	days, err := ValidateDays(days)
	if err != nil {
		return 0, time.Time{}, err
	}
	return days, s.now().UTC().AddDate(0, 0, -days), nil
}

func (s *Service) Overview(ctx context.Context, days int) (Overview, error) {
	days, since, err := s.since(days)
	if err != nil {
		return Overview{}, err
	}
	o, err := s.src.Overview(ctx, since)
	if err != nil {
		return Overview{}, fmt.Errorf("overview stats: %w", err)
	}
	o.Days = days
	if o.AvgResponseHours != nil {
		v := round2(*o.AvgResponseHours)
		o.AvgResponseHours = &v
	}
	return o, nil
}

func (s *Service) ByType(ctx context.Context, days int) ([]Breakdown, error) {
	_, since, err := s.since(days)
	if err != nil {
		return nil, err
	}
	counts, err := s.src.CountByType(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("stats by type: %w", err)
	}
	rows := make([]Breakdown, 0, len(counts))
	for _, t := range domain.CaseTypes {
		if n := counts[t]; n > 0 {
			rows = append(rows, Breakdown{Key: string(t), Label: t.Label(), Count: n})
		}
	}
	return withPercentages(rows), nil
}

func (s *Service) ByCategory(ctx context.Context, days int) ([]Breakdown, error) {
	_, since, err := s.since(days)
	if err != nil {
		return nil, err
	}
	counts, err := s.src.CountByCategory(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("stats by category: %w", err)
	}
	rows := make([]Breakdown, 0, len(counts))
	for _, c := range domain.Categories {
		if n := counts[c]; n > 0 {
			rows = append(rows, Breakdown{Key: string(c), Label: c.Label(), Count: n})
		}
	}
	return withPercentages(rows), nil
}

func (s *Service) Classification(ctx context.Context, days int) (domain.ClassificationStats, error) {
	_, since, err := s.since(days)
	if err != nil {
		return domain.ClassificationStats{}, err
	}
	cs, err := s.src.ClassificationStats(ctx, since)
	if err != nil {
		return domain.ClassificationStats{}, fmt.Errorf("classification stats: %w", err)
	}
	cs.AvgTypeConfidence = math.Round(cs.AvgTypeConfidence*10000) / 10000
	cs.AvgLatencyMS = round2(cs.AvgLatencyMS)
	return cs, nil
}

// Full runs every query concurrently.
func (s *Service) Full(ctx context.Context, days int) (Report, error) {
	if _, err := ValidateDays(days); err != nil {
		return Report{}, err
	}
	var r Report
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		r.Overview, err = s.Overview(gctx, days)
		return err
	})
	g.Go(func() (err error) {
		r.ByType, err = s.ByType(gctx, days)
		return err
	})
	g.Go(func() (err error) {
		r.ByCategory, err = s.ByCategory(gctx, days)
		return err
	})
	g.Go(func() (err error) {
		r.Classification, err = s.Classification(gctx, days)
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	r.GeneratedAt = s.now().UTC()
	return r, nil
}

// withPercentages fills percentages and sorts by count desc; ties keep input order.
func withPercentages(rows []Breakdown) []Breakdown {
	total := 0
	for _, r := range rows {
		total += r.Count
	}
	for i := range rows {
		if total > 0 {
			rows[i].Percentage = round2(float64(rows[i].Count) / float64(total) * 100)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Count > rows[j].Count })
	return rows
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

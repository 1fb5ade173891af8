package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pqrdesk/internal/confidence"
	"pqrdesk/internal/domain"
	"pqrdesk/internal/similarity"
	"pqrdesk/internal/stats"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

type ListFilter struct {
	Type     domain.CaseType
	Category domain.Category
	Status   domain.Status
	// Query matches text, subject or tracking code as a case-insensitive substring.
	Query   string
	Page    int
	PerPage int
}

type ListPage struct {
	Cases   []*domain.Case `json:"cases"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
}

// Normalize applies paging defaults and rejects out-of-range values.
func (f ListFilter) Normalize() (ListFilter, error) {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PerPage == 0 {
		f.PerPage = DefaultPerPage
	}
	if f.Page < 1 {
		return f, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if f.PerPage < 1 || f.PerPage > MaxPerPage {
		return f, fmt.Errorf("%w: per_page must be between 1 and %d", domain.ErrValidation, MaxPerPage)
	}
	return f, nil
}

// ListCases returns one page of cases, newest first.
func (s *Store) ListCases(ctx context.Context, f ListFilter) (ListPage, error) {
	f, err := f.Normalize()
	if err != nil {
		return ListPage{}, err
	}

	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		where = append(where, "(LOWER(text) LIKE ? OR LOWER(subject) LIKE ? OR LOWER(tracking_code) LIKE ?)")
		args = append(args, like, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := ListPage{Page: f.Page, PerPage: f.PerPage, Cases: []*domain.Case{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases`+clause, args...).Scan(&page.Total); err != nil {
		return ListPage{}, fmt.Errorf("count cases: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+caseColumns+` FROM cases`+clause+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, f.PerPage, (f.Page-1)*f.PerPage)...,
	)
	if err != nil {
		return ListPage{}, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return ListPage{}, err
		}
		page.Cases = append(page.Cases, c)
	}
	return page, rows.Err()
}

// SimilarityCorpus returns the most recent cases for the local similarity index.
func (s *Store) SimilarityCorpus(ctx context.Context, limit int) ([]similarity.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, response, created_at FROM cases ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []similarity.Document
	for rows.Next() {
		var (
			d        similarity.Document
			response string
		)
		if err := rows.Scan(&d.CaseID, &d.Text, &response, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.HasResponse = strings.TrimSpace(response) != ""
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) Overview(ctx context.Context, since time.Time) (stats.Overview, error) {
	var o stats.Overview
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'in_progress' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'resolved' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'closed' THEN 1 ELSE 0 END), 0)
		 FROM cases WHERE created_at >= ?`,
		since.UTC(),
	).Scan(&o.TotalCases, &o.Pending, &o.InProgress, &o.Resolved, &o.Closed)
	if err != nil {
		return o, err
	}

	// Response times are averaged in Go to avoid depending on SQLite date parsing.
	rows, err := s.db.QueryContext(ctx,
		`SELECT created_at, responded_at FROM cases WHERE created_at >= ? AND responded_at IS NOT NULL`,
		since.UTC(),
	)
	if err != nil {
		return o, err
	}
	defer rows.Close()
	var (
		sum float64
		n   int
	)
	for rows.Next() {
		var created, responded time.Time
		if err := rows.Scan(&created, &responded); err != nil {
			return o, err
		}
		sum += responded.Sub(created).Hours()
		n++
	}
	if err := rows.Err(); err != nil {
		return o, err
	}
	if n > 0 {
		avg := sum / float64(n)
		o.AvgResponseHours = &avg
	}
	return o, nil
}

func (s *Store) CountByType(ctx context.Context, since time.Time) (map[domain.CaseType]int, error) {
	out := make(map[domain.CaseType]int)
	err := s.groupCount(ctx, "type", since, func(key string, n int) {
		out[domain.CaseType(key)] = n
	})
	return out, err
}

func (s *Store) CountByCategory(ctx context.Context, since time.Time) (map[domain.Category]int, error) {
	out := make(map[domain.Category]int)
	err := s.groupCount(ctx, "category", since, func(key string, n int) {
		out[domain.Category(key)] = n
	})
	return out, err
}

// groupCount counts classified cases per value of column, which must be a trusted name.
func (s *Store) groupCount(ctx context.Context, column string, since time.Time, fn func(string, int)) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) FROM cases
		 WHERE created_at >= ? AND `+column+` != ''
		 GROUP BY `+column,
		since.UTC(),
	)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		fn(key, n)
	}
	return rows.Err()
}

func (s *Store) ClassificationStats(ctx context.Context, since time.Time) (domain.ClassificationStats, error) {
	cs := domain.ClassificationStats{BySource: make(map[domain.Source]int)}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(type_confidence), 0), COALESCE(AVG(latency_ms), 0),
		        COALESCE(SUM(CASE WHEN type_confidence >= ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN type_confidence >= ? AND type_confidence < ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN type_confidence < ? THEN 1 ELSE 0 END), 0)
		 FROM classification_log WHERE created_at >= ?`,
		confidence.HighThreshold,
		confidence.MediumThreshold, confidence.HighThreshold,
		confidence.MediumThreshold,
		since.UTC(),
	).Scan(&cs.TotalClassifications, &cs.AvgTypeConfidence, &cs.AvgLatencyMS,
		&cs.TierHigh, &cs.TierMedium, &cs.TierLow)
	if err != nil {
		return cs, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM classification_log WHERE created_at >= ? GROUP BY source`,
		since.UTC(),
	)
	if err != nil {
		return cs, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			src domain.Source
			n   int
		)
		if err := rows.Scan(&src, &n); err != nil {
			return cs, err
		}
		cs.BySource[src] = n
	}
	if err := rows.Err(); err != nil {
		return cs, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM classification_corrections WHERE corrected_at >= ?`,
		since.UTC(),
	).Scan(&cs.TotalCorrections)
	return cs, err
}

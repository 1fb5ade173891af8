// Package sqlite persists cases, the classification log and operator corrections.
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pqrdesk/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS cases (
	id                       INTEGER PRIMARY KEY AUTOINCREMENT,
	tracking_code            TEXT NOT NULL UNIQUE,
	text                     TEXT NOT NULL,
	subject                  TEXT DEFAULT '',
	channel                  TEXT DEFAULT 'web',
	user_id                  TEXT DEFAULT '',
	type                     TEXT DEFAULT '',
	type_confidence          REAL DEFAULT 0,
	category                 TEXT DEFAULT '',
	category_confidence      REAL DEFAULT 0,
	classification_source    TEXT DEFAULT '',
	classified_at            DATETIME,
	status                   TEXT NOT NULL DEFAULT 'pending',
	response                 TEXT DEFAULT '',
	suggested_response       TEXT DEFAULT '',
	suggestion_source        TEXT DEFAULT '',
	suggestion_latency_ms    INTEGER DEFAULT 0,
	suggestion_similar_count INTEGER DEFAULT 0,
	created_at               DATETIME NOT NULL,
	updated_at               DATETIME NOT NULL,
	responded_at             DATETIME
);
CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
CREATE INDEX IF NOT EXISTS idx_cases_type ON cases(type);
CREATE INDEX IF NOT EXISTS idx_cases_category ON cases(category);

CREATE TABLE IF NOT EXISTS classification_log (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	case_id             INTEGER,
	text_hash           TEXT NOT NULL,
	type                TEXT NOT NULL,
	type_confidence     REAL NOT NULL,
	category            TEXT NOT NULL,
	category_confidence REAL NOT NULL,
	source              TEXT NOT NULL,
	latency_ms          INTEGER DEFAULT 0,
	created_at          DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cl_created_at ON classification_log(created_at);
CREATE INDEX IF NOT EXISTS idx_cl_case ON classification_log(case_id);

CREATE TABLE IF NOT EXISTS classification_corrections (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	case_id            INTEGER NOT NULL,
	original_type      TEXT DEFAULT '',
	original_category  TEXT DEFAULT '',
	corrected_type     TEXT NOT NULL,
	corrected_category TEXT NOT NULL,
	corrected_by       TEXT DEFAULT '',
	corrected_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cc_date ON classification_corrections(corrected_at);
`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file if needed and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const caseColumns = `id, tracking_code, text, subject, channel, user_id,
	type, type_confidence, category, category_confidence, classification_source, classified_at,
	status, response, suggested_response, suggestion_source, suggestion_latency_ms, suggestion_similar_count,
	created_at, updated_at, responded_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(row scanner) (*domain.Case, error) {
	var (
		c            domain.Case
		classifiedAt sql.NullTime
		respondedAt  sql.NullTime
		latencyMS    int64
	)
	err := row.Scan(
		&c.ID, &c.TrackingCode, &c.Text, &c.Subject, &c.Channel, &c.UserID,
		&c.Type, &c.TypeConfidence, &c.Category, &c.CategoryConfidence, &c.ClassificationSource, &classifiedAt,
		&c.Status, &c.Response, &c.SuggestedResponse, &c.SuggestionSource, &latencyMS, &c.SuggestionSimilarCount,
		&c.CreatedAt, &c.UpdatedAt, &respondedAt,
	)
	if err != nil {
		return nil, err
	}
	if classifiedAt.Valid {
		t := classifiedAt.Time.UTC()
		c.ClassifiedAt = &t
	}
	if respondedAt.Valid {
		t := respondedAt.Time.UTC()
		c.RespondedAt = &t
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.SuggestionLatency = time.Duration(latencyMS) * time.Millisecond
	return &c, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// CreateCase inserts c and sets its ID.
func (s *Store) CreateCase(ctx context.Context, c *domain.Case) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO cases (tracking_code, text, subject, channel, user_id,
			type, type_confidence, category, category_confidence, classification_source, classified_at,
			status, response, suggested_response, suggestion_source, suggestion_latency_ms, suggestion_similar_count,
			created_at, updated_at, responded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.TrackingCode, c.Text, c.Subject, c.Channel, c.UserID,
		c.Type, c.TypeConfidence, c.Category, c.CategoryConfidence, c.ClassificationSource, nullTime(c.ClassifiedAt),
		c.Status, c.Response, c.SuggestedResponse, c.SuggestionSource, c.SuggestionLatency.Milliseconds(), c.SuggestionSimilarCount,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(), nullTime(c.RespondedAt),
	)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

func (s *Store) GetCase(ctx context.Context, id int64) (*domain.Case, error) {
	c, err := scanCase(s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: case %d", domain.ErrNotFound, id)
	}
	return c, err
}

// GetCases returns the cases that exist among ids, keyed by id.
func (s *Store) GetCases(ctx context.Context, ids []int64) (map[int64]*domain.Case, error) {
	out := make(map[int64]*domain.Case, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// UpdateCase writes every mutable column of c.
func (s *Store) UpdateCase(ctx context.Context, c *domain.Case) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cases SET text = ?, subject = ?, channel = ?, user_id = ?,
			type = ?, type_confidence = ?, category = ?, category_confidence = ?, classification_source = ?, classified_at = ?,
			status = ?, response = ?, suggested_response = ?, suggestion_source = ?, suggestion_latency_ms = ?, suggestion_similar_count = ?,
			updated_at = ?, responded_at = ?
		 WHERE id = ?`,
		c.Text, c.Subject, c.Channel, c.UserID,
		c.Type, c.TypeConfidence, c.Category, c.CategoryConfidence, c.ClassificationSource, nullTime(c.ClassifiedAt),
		c.Status, c.Response, c.SuggestedResponse, c.SuggestionSource, c.SuggestionLatency.Milliseconds(), c.SuggestionSimilarCount,
		c.UpdatedAt.UTC(), nullTime(c.RespondedAt),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("update case %d: %w", c.ID, err)
	}
	return expectOne(res, c.ID)
}

func (s *Store) DeleteCase(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete case %d: %w", id, err)
	}
	return expectOne(res, id)
}

func expectOne(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: case %d", domain.ErrNotFound, id)
	}
	return nil
}

// LogClassification appends r to the classification log. caseID 0 records an
// ad-hoc classification not tied to a stored case.
func (s *Store) LogClassification(ctx context.Context, caseID int64, text string, r domain.ClassificationResult) error {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	var id sql.NullInt64
	if caseID != 0 {
		id = sql.NullInt64{Int64: caseID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO classification_log
		 (case_id, text_hash, type, type_confidence, category, category_confidence, source, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, hex.EncodeToString(sum[:]), r.Type, r.TypeConfidence, r.Category, r.CategoryConfidence,
		r.Source, r.Latency.Milliseconds(), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("log classification: %w", err)
	}
	return nil
}

func (s *Store) InsertCorrection(ctx context.Context, c domain.ClassificationCorrection) error {
	at := c.CorrectedAt
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO classification_corrections
		 (case_id, original_type, original_category, corrected_type, corrected_category, corrected_by, corrected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.CaseID, c.OriginalType, c.OriginalCategory, c.CorrectedType, c.CorrectedCategory, c.CorrectedBy, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert correction: %w", err)
	}
	return nil
}

func (s *Store) CorrectionsForCase(ctx context.Context, caseID int64) ([]domain.ClassificationCorrection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, original_type, original_category, corrected_type, corrected_category, corrected_by, corrected_at
		 FROM classification_corrections
		 WHERE case_id = ?
		 ORDER BY corrected_at DESC, id DESC`,
		caseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ClassificationCorrection
	for rows.Next() {
		var c domain.ClassificationCorrection
		if err := rows.Scan(&c.ID, &c.CaseID, &c.OriginalType, &c.OriginalCategory,
			&c.CorrectedType, &c.CorrectedCategory, &c.CorrectedBy, &c.CorrectedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

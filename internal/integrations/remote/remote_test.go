package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pqrdesk/internal/domain"
	"pqrdesk/internal/similarity"
	"pqrdesk/internal/suggest"
)

func TestClassifier_Classify(t *testing.T) {
	var got classifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"type":"Queja","type_confidence":0.87,"category":"salud","category_confidence":0.66,"latency_ms":120}`))
	}))
	defer srv.Close()

	res, err := NewClassifier(srv.URL, srv.Client(), nil).Classify(context.Background(), "Queja por la EPS")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Text != "Queja por la EPS" {
		t.Fatalf("sent text = %q", got.Text)
	}
	want := domain.ClassificationResult{
		Type: domain.TypeQueja, TypeConfidence: 0.87,
		Category: domain.CategorySalud, CategoryConfidence: 0.66,
		Latency: 120 * time.Millisecond, Source: domain.SourceModel,
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifier_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"server error", http.StatusBadGateway, `upstream down`, "returned 502"},
		{"bad json", http.StatusOK, `{"type":`, "parsing response"},
		{"missing confidence", http.StatusOK, `{"type":"queja","category":"salud"}`, "missing confidences"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClassifier(srv.URL, srv.Client(), nil).Classify(context.Background(), "Queja por la EPS")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSearcher_Search(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"results":[{"case_id":4,"score":0.92,"excerpt":"corte de agua","has_response":true,"created_at":"2026-10-01T09:00:00Z"},{"case_id":9,"score":0.55,"excerpt":"agua turbia"}]}`))
	}))
	defer srv.Close()

	cases, err := NewSearcher(srv.URL, srv.Client(), nil).Search(context.Background(), similarity.Request{CaseID: 2, Limit: 10, MinScore: 0.3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got.CaseID != 2 || got.TopK != 10 || got.MinScore != 0.3 || got.Text != "" {
		t.Fatalf("unexpected request %+v", got)
	}
	want := []domain.SimilarCase{
		{CaseID: 4, Score: 0.92, Excerpt: "corte de agua", HasResponse: true, CreatedAt: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)},
		{CaseID: 9, Score: 0.55, Excerpt: "agua turbia"},
	}
	if diff := cmp.Diff(want, cases); diff != "" {
		t.Fatalf("cases mismatch (-want +got):\n%s", diff)
	}
}

func TestSuggester_Generate(t *testing.T) {
	var got suggestRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"draft_text":"Estimado ciudadano...","latency_ms":850,"similar_case_count":2,"generator_key_id":3}`))
	}))
	defer srv.Close()

	req := suggest.Request{CaseContext: suggest.CaseContext{
		CaseID: 5, Text: "Reclamo por cobro", Type: domain.TypeReclamo, Category: domain.CategoryBanca, IncludeSimilar: true,
	}}
	draft, err := NewSuggester(srv.URL, srv.Client(), nil).Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.Type != "reclamo" || got.Category != "banca" || !got.IncludeSimilar || got.CaseID != 5 {
		t.Fatalf("unexpected request %+v", got)
	}
	want := suggest.Draft{Text: "Estimado ciudadano...", KeyID: "3", SimilarCaseCount: 2, Latency: 850 * time.Millisecond}
	if diff := cmp.Diff(want, draft); diff != "" {
		t.Fatalf("draft mismatch (-want +got):\n%s", diff)
	}
}

func TestKeyID(t *testing.T) {
	tests := map[string]string{`"k-2"`: "k-2", `7`: "7", `null`: "", ``: ""}
	for in, want := range tests {
		if got := keyID(json.RawMessage(in)); got != want {
			t.Errorf("keyID(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestLimiter(t *testing.T) {
	if NewLimiter(0, 5) != nil {
		t.Fatal("non-positive rate should disable limiting")
	}
	l := NewLimiter(1, 0)
	if l == nil || l.Burst() != 1 {
		t.Fatalf("burst should default to 1, got %v", l)
	}

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	s := NewSearcher(srv.URL, srv.Client(), NewLimiter(0.001, 1))
	if _, err := s.Search(context.Background(), similarity.Request{Text: "agua", Limit: 2}); err != nil {
		t.Fatalf("first search: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Search(ctx, similarity.Request{Text: "agua", Limit: 2}); err == nil {
		t.Fatal("second search should be held by the limiter")
	}
	if calls != 1 {
		t.Fatalf("server saw %d calls, want 1", calls)
	}
}

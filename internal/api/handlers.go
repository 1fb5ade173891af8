package api

import (
	"net/http"
	"strconv"

	"pqrdesk/internal/confidence"
	"pqrdesk/internal/domain"
	"pqrdesk/internal/similarity"
	"pqrdesk/internal/storage/sqlite"
	"pqrdesk/internal/suggest"
	"pqrdesk/internal/triage"
)

type classificationView struct {
	Type               domain.CaseType `json:"type"`
	TypeLabel          string          `json:"type_label"`
	TypeConfidence     float64         `json:"type_confidence"`
	TypeTier           confidence.Tier `json:"type_tier"`
	Category           domain.Category `json:"category"`
	CategoryLabel      string          `json:"category_label"`
	CategoryConfidence float64         `json:"category_confidence"`
	CategoryTier       confidence.Tier `json:"category_tier"`
	Source             domain.Source   `json:"source"`
	LatencyMS          int64           `json:"latency_ms"`
}

func viewClassification(r domain.ClassificationResult) classificationView {
	return classificationView{
		Type:               r.Type,
		TypeLabel:          r.Type.Label(),
		TypeConfidence:     r.TypeConfidence,
		TypeTier:           confidence.TierOf(r.TypeConfidence),
		Category:           r.Category,
		CategoryLabel:      r.Category.Label(),
		CategoryConfidence: r.CategoryConfidence,
		CategoryTier:       confidence.TierOf(r.CategoryConfidence),
		Source:             r.Source,
		LatencyMS:          r.Latency.Milliseconds(),
	}
}

type suggestionView struct {
	DraftText        string        `json:"draft_text"`
	Source           domain.Source `json:"source"`
	SourceKeyID      string        `json:"source_key_id,omitempty"`
	SimilarCaseCount int           `json:"similar_case_count"`
	LatencyMS        int64         `json:"latency_ms"`
}

func viewSuggestion(s domain.SuggestedResponse) suggestionView {
	return suggestionView{
		DraftText:        s.Draft,
		Source:           s.Source,
		SourceKeyID:      s.SourceKeyID,
		SimilarCaseCount: s.SimilarCaseCount,
		LatencyMS:        s.Latency.Milliseconds(),
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.triage.Classify(r.Context(), req.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewClassification(res))
}

type batchRequest struct {
	Texts []string `json:"texts"`
}

func (s *Server) classifyBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	results, err := s.triage.ClassifyBatch(r.Context(), req.Texts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]classificationView, len(results))
	for i, res := range results {
		views[i] = viewClassification(res)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": views, "total": len(views)})
}

type similarityRequest struct {
	Text     string   `json:"text"`
	CaseID   int64    `json:"case_id"`
	TopK     int      `json:"top_k"`
	MinScore *float64 `json:"min_score"`
}

func (s *Server) searchSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.findSimilar(w, r, similarity.Query{Text: req.Text, CaseID: req.CaseID, TopK: req.TopK, MinScore: req.MinScore})
}

func (s *Server) caseSimilar(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	topK, err := queryInt(r, "top_k", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minScore, err := queryFloat(r, "min_score")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.findSimilar(w, r, similarity.Query{CaseID: id, TopK: topK, MinScore: minScore})
}

func (s *Server) findSimilar(w http.ResponseWriter, r *http.Request, q similarity.Query) {
	res, err := s.triage.FindSimilar(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res.Cases == nil {
		res.Cases = []domain.SimilarCase{}
	}
	writeJSON(w, http.StatusOK, res)
}

type suggestRequest struct {
	CaseID         int64  `json:"case_id"`
	Text           string `json:"text"`
	Type           string `json:"type"`
	Category       string `json:"category"`
	IncludeSimilar bool   `json:"include_similar"`
}

func (s *Server) suggest(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var (
		res domain.SuggestedResponse
		err error
	)
	if req.CaseID != 0 {
		res, err = s.triage.SuggestForCase(r.Context(), req.CaseID, req.IncludeSimilar)
	} else {
		typ, category, perr := domain.ParseTypeAndCategory(req.Type, req.Category)
		if perr != nil {
			s.fail(w, r, perr)
			return
		}
		res, err = s.triage.Suggest(r.Context(), suggest.CaseContext{
			Text:           req.Text,
			Type:           typ,
			Category:       category,
			IncludeSimilar: req.IncludeSimilar,
		})
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSuggestion(res))
}

func (s *Server) listCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := sqlite.ListFilter{Query: q.Get("q")}
	var err error
	if v := q.Get("type"); v != "" {
		if f.Type, err = domain.ParseCaseType(v); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if v := q.Get("category"); v != "" {
		if f.Category, err = domain.ParseCategory(v); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if v := q.Get("status"); v != "" {
		if f.Status, err = domain.ParseStatus(v); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if f.Page, err = queryInt(r, "page", 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.PerPage, err = queryInt(r, "per_page", 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.cases.ListCases(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if page.Cases == nil {
		page.Cases = []*domain.Case{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) createCase(w http.ResponseWriter, r *http.Request) {
	var req triage.NewCase
	if !decodeBody(w, r, &req) {
		return
	}
	autoClassify := true
	if v := r.URL.Query().Get("auto_classify"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid auto_classify: "+v)
			return
		}
		autoClassify = b
	}
	c, err := s.triage.CreateCase(r.Context(), req, autoClassify)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) getCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := s.triage.GetCase(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type updateRequest struct {
	Text        *string `json:"text"`
	Subject     *string `json:"subject"`
	Response    *string `json:"response"`
	Status      *string `json:"status"`
	Type        *string `json:"type"`
	Category    *string `json:"category"`
	CorrectedBy string  `json:"corrected_by"`
}

func (req updateRequest) toUpdate() (triage.Update, error) {
	u := triage.Update{
		Text:        req.Text,
		Subject:     req.Subject,
		Response:    req.Response,
		CorrectedBy: req.CorrectedBy,
	}
	if req.Status != nil {
		st, err := domain.ParseStatus(*req.Status)
		if err != nil {
			return u, err
		}
		u.Status = &st
	}
	if req.Type != nil {
		t, err := domain.ParseCaseType(*req.Type)
		if err != nil {
			return u, err
		}
		u.Type = &t
	}
	if req.Category != nil {
		c, err := domain.ParseCategory(*req.Category)
		if err != nil {
			return u, err
		}
		u.Category = &c
	}
	return u, nil
}

func (s *Server) updateCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := req.toUpdate()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.triage.UpdateCase(r.Context(), id, u)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.triage.DeleteCase(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reclassify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := s.triage.Reclassify(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// statsHandler adapts a days-parameterised stats query to an HTTP handler.
func statsHandler(s *Server, query func(r *http.Request, days int) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, err := queryInt(r, "days", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		v, err := query(r, days)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func (s *Server) statsOverview(w http.ResponseWriter, r *http.Request) {
	statsHandler(s, func(r *http.Request, days int) (any, error) {
		return s.stats.Overview(r.Context(), days)
	})(w, r)
}

func (s *Server) statsByType(w http.ResponseWriter, r *http.Request) {
	statsHandler(s, func(r *http.Request, days int) (any, error) {
		return s.stats.ByType(r.Context(), days)
	})(w, r)
}

func (s *Server) statsByCategory(w http.ResponseWriter, r *http.Request) {
	statsHandler(s, func(r *http.Request, days int) (any, error) {
		return s.stats.ByCategory(r.Context(), days)
	})(w, r)
}

func (s *Server) statsClassification(w http.ResponseWriter, r *http.Request) {
	statsHandler(s, func(r *http.Request, days int) (any, error) {
		return s.stats.Classification(r.Context(), days)
	})(w, r)
}

func (s *Server) statsFull(w http.ResponseWriter, r *http.Request) {
	statsHandler(s, func(r *http.Request, days int) (any, error) {
		return s.stats.Full(r.Context(), days)
	})(w, r)
}

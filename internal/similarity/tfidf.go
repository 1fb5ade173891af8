package similarity

import (
	"context"
	"fmt"
	"math"
	"time"

	"pqrdesk/internal/domain"
	"pqrdesk/internal/textnorm"
)

// Document is one stored case as seen by the local index.
type Document struct {
	CaseID      int64
	Text        string
	HasResponse bool
	CreatedAt   time.Time
}

// Corpus supplies the documents the local index is built from.
type Corpus interface {
	SimilarityCorpus(ctx context.Context, limit int) ([]Document, error)
}

type sparseVec = map[int]float64

type tfidfIndex struct {
	vocab map[string]int
	idf   []float64
	docs  []sparseVec
	items []Document
}

func buildTFIDFIndex(items []Document) *tfidfIndex {
	if len(items) == 0 {
		return &tfidfIndex{vocab: make(map[string]int)}
	}

	vocab := make(map[string]int)
	tokenized := make([][]string, len(items))
	for i, item := range items {
		tokenized[i] = textnorm.Tokens(item.Text)
		for _, tok := range tokenized[i] {
			if _, ok := vocab[tok]; !ok {
				vocab[tok] = len(vocab)
			}
		}
	}

	df := make([]int, len(vocab))
	docs := make([]sparseVec, len(items))
	n := float64(len(items))

	for i, tokens := range tokenized {
		tf := make(map[int]int)
		for _, tok := range tokens {
			tf[vocab[tok]]++
		}
		vec := make(sparseVec, len(tf))
		for idx, count := range tf {
			vec[idx] = float64(count)
			df[idx]++
		}
		docs[i] = vec
	}

	idf := make([]float64, len(vocab))
	for i, d := range df {
		if d > 0 {
			idf[i] = math.Log(n/float64(d)) + 1.0
		}
	}

	for _, vec := range docs {
		for idx := range vec {
			vec[idx] *= idf[idx]
		}
	}

	return &tfidfIndex{vocab: vocab, idf: idf, docs: docs, items: items}
}

func (idx *tfidfIndex) queryVec(query string) sparseVec {
	tf := make(map[int]int)
	for _, tok := range textnorm.Tokens(query) {
		if i, ok := idx.vocab[tok]; ok {
			tf[i]++
		}
	}
	vec := make(sparseVec, len(tf))
	for i, count := range tf {
		vec[i] = float64(count) * idx.idf[i]
	}
	return vec
}

// scores returns every document with a positive cosine similarity to query.
func (idx *tfidfIndex) scores(query string) []domain.SimilarCase {
	qvec := idx.queryVec(query)
	if len(qvec) == 0 {
		return nil
	}
	var out []domain.SimilarCase
	for i, dvec := range idx.docs {
		sim := cosineSim(qvec, dvec)
		if sim <= 0 {
			continue
		}
		item := idx.items[i]
		out = append(out, domain.SimilarCase{
			CaseID:      item.CaseID,
			Score:       math.Min(1, math.Round(sim*10000)/10000),
			Excerpt:     item.Text,
			HasResponse: item.HasResponse,
			CreatedAt:   item.CreatedAt,
		})
	}
	return out
}

func cosineSim(a, b sparseVec) float64 {
	var dot, normA, normB float64
	for i, va := range a {
		if vb, ok := b[i]; ok {
			dot += va * vb
		}
		normA += va * va
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// LocalSearcher rebuilds a TF-IDF index over stored cases on every query.
type LocalSearcher struct {
	corpus    Corpus
	maxCorpus int
}

func NewLocalSearcher(c Corpus, maxCorpus int) *LocalSearcher {
	if maxCorpus <= 0 {
		maxCorpus = 2000
	}
	return &LocalSearcher{corpus: c, maxCorpus: maxCorpus}
}

func (s *LocalSearcher) Search(ctx context.Context, req Request) ([]domain.SimilarCase, error) {
	docs, err := s.corpus.SimilarityCorpus(ctx, s.maxCorpus)
	if err != nil {
		return nil, fmt.Errorf("load similarity corpus: %w", err)
	}

	query := req.Text
	if req.CaseID != 0 {
		found := false
		for _, d := range docs {
			if d.CaseID == req.CaseID {
				query, found = d.Text, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: case %d", domain.ErrNotFound, req.CaseID)
		}
	}

	return buildTFIDFIndex(docs).scores(query), nil
}

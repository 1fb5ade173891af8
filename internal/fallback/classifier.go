// Package fallback is the keyword-rule classifier used when the remote model is
// unreachable or slow.
package fallback

import (
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"pqrdesk/internal/domain"
	"pqrdesk/internal/textnorm"
)

const (
	DefaultType     = domain.TypePeticion
	DefaultCategory = domain.CategoryGobierno
)

// Confidence bands for synthesized fallback confidences. These values are cosmetic:
// callers must rely on Source, not on the numbers.
const (
	typeConfidenceMin     = 0.80
	typeConfidenceMax     = 0.99
	categoryConfidenceMin = 0.80
	categoryConfidenceMax = 0.98
)

type Classifier struct {
	rules Rules

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Classifier)

// WithRand sets the source used to synthesize confidences.
func WithRand(r *rand.Rand) Option {
	return func(c *Classifier) {
		c.rng = r
	}
}

func New(rules Rules, opts ...Option) *Classifier {
	c := &Classifier{
		rules: rules.folded(),
		rng:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify resolves type and category independently; the first matching rule wins
// on each axis. The decision depends only on text.
func (c *Classifier) Classify(text string) domain.ClassificationResult {
	caseType, category := c.Decide(text)

	c.mu.Lock()
	typeConf := synthesize(c.rng, typeConfidenceMin, typeConfidenceMax)
	catConf := synthesize(c.rng, categoryConfidenceMin, categoryConfidenceMax)
	c.mu.Unlock()

	return domain.ClassificationResult{
		Type:               caseType,
		TypeConfidence:     typeConf,
		Category:           category,
		CategoryConfidence: catConf,
		Source:             domain.SourceFallback,
	}
}

// Decide returns the rule decision without confidences.
func (c *Classifier) Decide(text string) (domain.CaseType, domain.Category) {
	folded := textnorm.Fold(text)

	caseType := DefaultType
	for _, rule := range c.rules.Types {
		if containsAny(folded, rule.Keywords) {
			caseType = rule.Value
			break
		}
	}

	category := DefaultCategory
	for _, rule := range c.rules.Categories {
		if containsAny(folded, rule.Keywords) {
			category = rule.Value
			break
		}
	}
	return caseType, category
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if containsWord(text, k) {
			return true
		}
	}
	return false
}

// containsWord reports whether keyword occurs in text as whole words. A plural
// "s" or "es" suffix is tolerated so "medicamento" still matches "medicamentos".
func containsWord(text, keyword string) bool {
	if keyword == "" {
		return false
	}
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], keyword)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(keyword)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		from = start + size
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	rest := text[i:]
	for _, suffix := range []string{"", "s", "es"} {
		if !strings.HasPrefix(rest, suffix) {
			continue
		}
		tail := rest[len(suffix):]
		if tail == "" {
			return true
		}
		if r, _ := utf8.DecodeRuneInString(tail); !isWordRune(r) {
			return true
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func synthesize(rng *rand.Rand, lo, hi float64) float64 {
	v := lo + rng.Float64()*(hi-lo)
	return math.Round(v*10000) / 10000
}

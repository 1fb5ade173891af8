// Package llm drafts replies directly with an LLM provider: Anthropic through its
// SDK or any OpenAI-compatible chat completions endpoint (Groq by default).
package llm

import (
	"errors"
	"strings"
	"sync"
)

const (
	maxDraftTokens = 1000
	temperature    = 0.7
)

// KeyRotator hands out API keys round-robin so load spreads across provider quotas.
type KeyRotator struct {
	mu   sync.Mutex
	keys []string
	next int
}

func NewKeyRotator(keys []string) (*KeyRotator, error) {
	var clean []string
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			clean = append(clean, k)
		}
	}
	if len(clean) == 0 {
		return nil, errors.New("at least one API key is required")
	}
	return &KeyRotator{keys: clean}, nil
}

// Next returns the next key and its index.
func (r *KeyRotator) Next() (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.next
	r.next = (r.next + 1) % len(r.keys)
	return r.keys[i], i
}

func (r *KeyRotator) Len() int {
	return len(r.keys)
}

// cleanDraft strips markdown fences some models wrap plain text in.
func cleanDraft(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

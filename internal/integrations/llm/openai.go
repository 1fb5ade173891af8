package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"pqrdesk/internal/logging"
	"pqrdesk/internal/suggest"
)

const DefaultOpenAIBaseURL = "https://api.groq.com/openai/v1"

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// OpenAI talks to an OpenAI-compatible chat completions API, rotating keys per call.
type OpenAI struct {
	baseURL string
	model   string
	keys    *KeyRotator
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewOpenAI(baseURL, model string, keys *KeyRotator, hc *http.Client, limiter *rate.Limiter) *OpenAI {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &OpenAI{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		keys:    keys,
		http:    hc,
		limiter: limiter,
		logger:  logging.New("llm.openai"),
	}
}

// Generate calls the API with the next rotated key. When more than one key is
// configured a failed call is retried once with the following key.
func (o *OpenAI) Generate(ctx context.Context, req suggest.Request) (suggest.Draft, error) {
	bodyBytes, err := json.Marshal(openAIRequest{
		Model: o.model,
		Messages: []openAIMessage{
			{Role: "system", Content: req.Prompt.System},
			{Role: "user", Content: req.Prompt.User},
		},
		Temperature: temperature,
		MaxTokens:   maxDraftTokens,
	})
	if err != nil {
		return suggest.Draft{}, fmt.Errorf("marshaling request: %w", err)
	}

	attempts := 1
	if o.keys.Len() > 1 {
		attempts = 2
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		draft, err := o.call(ctx, bodyBytes)
		if err == nil {
			draft.SimilarCaseCount = len(req.Similar)
			return draft, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			o.logger.Warn("openai call failed, retrying with next key", "err", err)
		}
	}
	return suggest.Draft{}, lastErr
}

func (o *OpenAI) call(ctx context.Context, bodyBytes []byte) (suggest.Draft, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return suggest.Draft{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	apiKey, keyIndex := o.keys.Next()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return suggest.Draft{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	start := time.Now()
	resp, err := o.http.Do(httpReq)
	if err != nil {
		return suggest.Draft{}, fmt.Errorf("OpenAI API error (key %d): %w", keyIndex, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return suggest.Draft{}, fmt.Errorf("reading response: %w", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return suggest.Draft{}, fmt.Errorf("parsing OpenAI response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return suggest.Draft{}, fmt.Errorf("OpenAI API error (key %d): %s", keyIndex, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return suggest.Draft{}, fmt.Errorf("no choices in OpenAI response")
	}

	content := parsed.Choices[0].Message.Content
	if parsed.Usage != nil {
		o.logger.Debug("openai response", "size", len(content), "key", keyIndex,
			"tokens_in", parsed.Usage.PromptTokens, "tokens_out", parsed.Usage.CompletionTokens)
	}
	return suggest.Draft{
		Text:    cleanDraft(content),
		KeyID:   strconv.Itoa(keyIndex),
		Latency: time.Since(start),
	}, nil
}

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"pqrdesk/internal/logging"
	"pqrdesk/internal/suggest"
)

type Anthropic struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
}

// NewAnthropic builds a generator; extra request options are passed to the SDK client.
func NewAnthropic(apiKey, model string, opts ...option.RequestOption) *Anthropic {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  model,
		logger: logging.New("llm.anthropic"),
	}
}

func (a *Anthropic) Generate(ctx context.Context, req suggest.Request) (suggest.Draft, error) {
	start := time.Now()
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   maxDraftTokens,
		Temperature: anthropic.Float(temperature),
		System: []anthropic.TextBlockParam{
			{Text: req.Prompt.System, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt.User)),
		},
	})
	if err != nil {
		return suggest.Draft{}, fmt.Errorf("Anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			a.logger.Debug("anthropic response", "size", len(block.Text),
				"tokens_in", message.Usage.InputTokens, "tokens_out", message.Usage.OutputTokens)
			return suggest.Draft{
				Text:             cleanDraft(block.Text),
				KeyID:            "anthropic",
				SimilarCaseCount: len(req.Similar),
				Latency:          time.Since(start),
			}, nil
		}
	}
	return suggest.Draft{}, fmt.Errorf("no text content in Anthropic response")
}

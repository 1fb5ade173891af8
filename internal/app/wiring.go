package app

import (
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"pqrdesk/internal/classify"
	"pqrdesk/internal/config"
	"pqrdesk/internal/digest"
	"pqrdesk/internal/fallback"
	"pqrdesk/internal/httpx"
	"pqrdesk/internal/integrations/llm"
	"pqrdesk/internal/integrations/remote"
	"pqrdesk/internal/metrics"
	"pqrdesk/internal/similarity"
	"pqrdesk/internal/stats"
	"pqrdesk/internal/storage/sqlite"
	"pqrdesk/internal/suggest"
	"pqrdesk/internal/triage"
)

// runtime holds the wired services for one command invocation.
type runtime struct {
	cfg     config.Config
	store   *sqlite.Store
	metrics *metrics.Metrics
	triage  *triage.Service
	stats   *stats.Service
	digest  *digest.Digest
}

func (r *runtime) Close() error {
	return r.store.Close()
}

func build(cfg config.Config, logger *slog.Logger) (*runtime, error) {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	logger.Debug("database initialized", "path", cfg.DBPath)

	m := metrics.New()
	hc := httpx.Client()
	limiter := remote.NewLimiter(cfg.RemoteRatePerSecond, cfg.RemoteBurst)

	rules := fallback.DefaultRules()
	if cfg.FallbackRulesPath != "" {
		if rules, err = fallback.LoadRules(cfg.FallbackRulesPath); err != nil {
			store.Close()
			return nil, err
		}
	}
	var remoteClassifier classify.Classifier
	if cfg.ClassifierURL != "" {
		remoteClassifier = remote.NewClassifier(cfg.ClassifierURL, hc, limiter)
	}
	classifier := classify.New(remoteClassifier, fallback.New(rules),
		classify.WithTimeout(cfg.ClassifierTimeout()), classify.WithMetrics(m))

	var searcher similarity.Searcher
	if cfg.SimilarityURL != "" {
		searcher = remote.NewSearcher(cfg.SimilarityURL, hc, limiter)
	} else {
		searcher = similarity.NewLocalSearcher(store, 0)
	}

	templates := suggest.DefaultTemplates()
	if cfg.TemplatesPath != "" {
		if templates, err = suggest.LoadTemplates(cfg.TemplatesPath); err != nil {
			store.Close()
			return nil, err
		}
	}
	generator, err := newGenerator(cfg, limiter)
	if err != nil {
		store.Close()
		return nil, err
	}
	suggester := suggest.New(generator, suggest.WithTemplates(templates), suggest.WithMetrics(m))

	svc := triage.NewService(triage.Deps{
		Store:      store,
		Classifier: classifier,
		Retriever:  similarity.NewRetriever(searcher, m, similarity.WithDefaultMinScore(cfg.SimilarityMinScore)),
		Suggester:  suggester,
		Metrics:    m,
	})
	st := stats.NewService(store, nil)

	digestOpts := []digest.Option{digest.WithLocation(cfg.Location)}
	if cfg.SlackConfigured() {
		digestOpts = append(digestOpts, digest.WithSlack(slack.New(cfg.SlackBotToken), cfg.DigestChannelID))
	}

	logger.Info("services wired",
		"classifier", describe(cfg.ClassifierURL, "fallback only"),
		"similarity", describe(cfg.SimilarityURL, "local tf-idf"),
		"suggester", cfg.SuggesterProvider,
	)
	return &runtime{
		cfg:     cfg,
		store:   store,
		metrics: m,
		triage:  svc,
		stats:   st,
		digest:  digest.New(st, cfg.DigestWindowDays, digestOpts...),
	}, nil
}

// newGenerator returns nil for provider "none", which makes every suggestion a template.
func newGenerator(cfg config.Config, limiter *rate.Limiter) (suggest.Generator, error) {
	switch cfg.SuggesterProvider {
	case "remote":
		return remote.NewSuggester(cfg.SuggesterURL, httpx.Client(), limiter), nil
	case "anthropic":
		return llm.NewAnthropic(cfg.AnthropicAPIKey, cfg.LLMModel), nil
	case "openai":
		keys, err := llm.NewKeyRotator(cfg.OpenAIAPIKeys)
		if err != nil {
			return nil, err
		}
		return llm.NewOpenAI(cfg.OpenAIBaseURL, cfg.LLMModel, keys, httpx.Client(), limiter), nil
	default:
		return nil, nil
	}
}

func describe(url, otherwise string) string {
	if url == "" {
		return otherwise
	}
	return url
}

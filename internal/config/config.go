package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultExternalHTTPTimeoutSeconds = 30
	defaultClassifierTimeoutMS        = 5000
	defaultSimilarityMinScore         = 0.30
	defaultDigestWindowDays           = 7
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`

	ClassifierURL       string `yaml:"classifier_url"`
	ClassifierTimeoutMS int    `yaml:"classifier_timeout_ms"`

	SimilarityURL      string  `yaml:"similarity_url"`
	SimilarityMinScore float64 `yaml:"similarity_min_score"`

	SuggesterProvider string   `yaml:"suggester_provider"`
	SuggesterURL      string   `yaml:"suggester_url"`
	LLMModel          string   `yaml:"llm_model"`
	AnthropicAPIKey   string   `yaml:"anthropic_api_key"`
	OpenAIAPIKeys     []string `yaml:"openai_api_keys"`
	OpenAIBaseURL     string   `yaml:"openai_base_url"`

	FallbackRulesPath string `yaml:"fallback_rules_path"`
	TemplatesPath     string `yaml:"templates_path"`

	ExternalHTTPTimeoutSeconds int     `yaml:"external_http_timeout_seconds"`
	RemoteRatePerSecond        float64 `yaml:"remote_rate_per_second"`
	RemoteBurst                int     `yaml:"remote_burst"`

	DigestSchedule   string `yaml:"digest_schedule"`
	DigestWindowDays int    `yaml:"digest_window_days"`
	SlackBotToken    string `yaml:"slack_bot_token"`
	DigestChannelID  string `yaml:"digest_channel_id"`
	Timezone         string `yaml:"timezone"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// Load reads the optional YAML file at CONFIG_PATH (default config.yaml), applies
// environment overrides and defaults, and validates the result.
func Load() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error parsing %s: %w", configPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("reading %s: %w", configPath, err)
	}

	var errs []error
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideAllowEmpty(&cfg.ClassifierURL, "CLASSIFIER_URL")
	errs = append(errs, envOverrideInt(&cfg.ClassifierTimeoutMS, "CLASSIFIER_TIMEOUT_MS"))
	envOverrideAllowEmpty(&cfg.SimilarityURL, "SIMILARITY_URL")
	errs = append(errs, envOverrideFloat(&cfg.SimilarityMinScore, "SIMILARITY_MIN_SCORE"))
	envOverride(&cfg.SuggesterProvider, "SUGGESTER_PROVIDER")
	envOverride(&cfg.SuggesterURL, "SUGGESTER_URL")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverrideList(&cfg.OpenAIAPIKeys, "OPENAI_API_KEYS")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.FallbackRulesPath, "FALLBACK_RULES_PATH")
	envOverride(&cfg.TemplatesPath, "TEMPLATES_PATH")
	errs = append(errs, envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"))
	errs = append(errs, envOverrideFloat(&cfg.RemoteRatePerSecond, "REMOTE_RATE_PER_SECOND"))
	errs = append(errs, envOverrideInt(&cfg.RemoteBurst, "REMOTE_BURST"))
	envOverrideAllowEmpty(&cfg.DigestSchedule, "DIGEST_SCHEDULE")
	errs = append(errs, envOverrideInt(&cfg.DigestWindowDays, "DIGEST_WINDOW_DAYS"))
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.DigestChannelID, "DIGEST_CHANNEL_ID")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LogFormat, "LOG_FORMAT")
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./pqrdesk.db"
	}
	if cfg.ClassifierTimeoutMS == 0 {
		cfg.ClassifierTimeoutMS = defaultClassifierTimeoutMS
	}
	if cfg.SimilarityMinScore == 0 {
		cfg.SimilarityMinScore = defaultSimilarityMinScore
	}
	if cfg.SuggesterProvider == "" {
		cfg.SuggesterProvider = "none"
		if cfg.SuggesterURL != "" {
			cfg.SuggesterProvider = "remote"
		}
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.RemoteBurst == 0 {
		cfg.RemoteBurst = 1
	}
	if cfg.DigestWindowDays == 0 {
		cfg.DigestWindowDays = defaultDigestWindowDays
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return Config{}, fmt.Errorf("invalid timezone '%s': %w", cfg.Timezone, err)
		}
		cfg.Location = loc
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.SuggesterProvider {
	case "none":
	case "remote":
		if c.SuggesterURL == "" {
			return fmt.Errorf("suggester_url is required when suggester_provider=remote")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when suggester_provider=anthropic")
		}
	case "openai":
		if len(c.OpenAIAPIKeys) == 0 {
			return fmt.Errorf("openai_api_keys is required when suggester_provider=openai")
		}
	default:
		return fmt.Errorf("suggester_provider must be one of remote, anthropic, openai, none; got '%s'", c.SuggesterProvider)
	}
	if (c.SuggesterProvider == "anthropic" || c.SuggesterProvider == "openai") && c.LLMModel == "" {
		return fmt.Errorf("llm_model is required when suggester_provider=%s", c.SuggesterProvider)
	}
	if c.ClassifierTimeoutMS < 1 {
		return fmt.Errorf("invalid classifier_timeout_ms '%d': must be >= 1", c.ClassifierTimeoutMS)
	}
	if c.SimilarityMinScore < 0 || c.SimilarityMinScore > 1 {
		return fmt.Errorf("invalid similarity_min_score '%f': must be between 0 and 1", c.SimilarityMinScore)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.RemoteRatePerSecond < 0 {
		return fmt.Errorf("invalid remote_rate_per_second '%f': must be >= 0", c.RemoteRatePerSecond)
	}
	if c.RemoteBurst < 1 {
		return fmt.Errorf("invalid remote_burst '%d': must be >= 1", c.RemoteBurst)
	}
	if c.DigestWindowDays < 1 || c.DigestWindowDays > 365 {
		return fmt.Errorf("invalid digest_window_days '%d': must be between 1 and 365", c.DigestWindowDays)
	}
	if c.DigestSchedule != "" {
		if _, err := cron.ParseStandard(c.DigestSchedule); err != nil {
			return fmt.Errorf("invalid digest_schedule '%s': %w", c.DigestSchedule, err)
		}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be 'text' or 'json', got '%s'", c.LogFormat)
	}
	return nil
}

func (c Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.ClassifierTimeoutMS) * time.Millisecond
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.DigestChannelID != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideList(field *[]string, envKey string) {
	val := os.Getenv(envKey)
	if val == "" {
		return
	}
	*field = nil
	for _, item := range strings.Split(val, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			*field = append(*field, item)
		}
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

// Package analysis runs LLM-backed sentiment and theme analysis over
// scraped review content using langchaingo.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/reviewradar/reviewradar/internal/config"
	"github.com/reviewradar/reviewradar/internal/scrape"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Engine wraps a langchaingo model for review analysis.
type Engine struct {
	llm       llms.Model
	modelName string
}

// NewEngine creates an analysis engine based on configuration.
func NewEngine(cfg config.Config) (*Engine, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Engine{llm: model, modelName: cfg.LLMModel}, nil
}

// NewEngineWithModel wraps an existing model. Used by tests.
func NewEngineWithModel(model llms.Model, name string) *Engine {
	return &Engine{llm: model, modelName: name}
}

// Model returns the LLM model name.
func (e *Engine) Model() string { return e.modelName }

const sentimentSystemPrompt = `You are a product review analyst. Analyze the sentiment of the provided customer reviews.
Respond ONLY with valid JSON matching this schema:
{
    "overall": "positive|neutral|negative",
    "confidence": 0.0-1.0,
    "distribution": {"positive": N, "neutral": N, "negative": N},
    "key_points": ["point1", "point2", "point3"],
    "rating_coherence": "high|medium|low"
}`

const themesSystemPrompt = `You are a product review analyst. Extract themes and insights from the provided customer reviews.
Respond ONLY with valid JSON matching this schema:
{
    "strengths": ["strength1", "strength2", "strength3"],
    "weaknesses": ["weakness1", "weakness2"],
    "emerging_themes": ["theme1", "theme2", "theme3"],
    "recommendations": ["action1", "action2"],
    "keywords": ["keyword1", "keyword2", "keyword3"]
}`

// AnalyzeSentiment judges overall sentiment across the item's reviews.
// Items without usable review text get a neutral result without an LLM
// round trip.
func (e *Engine) AnalyzeSentiment(ctx context.Context, content *scrape.RawContent) (*Sentiment, error) {
	lines := reviewLines(content.Reviews, 8, 200, true)
	if len(lines) == 0 {
		slog.Warn("no usable reviews for sentiment analysis", "item", content.ItemID)
		return &Sentiment{Overall: "neutral", Confidence: 0, Note: "no reviews available"}, nil
	}

	userPrompt := fmt.Sprintf("Reviews:\n%s", strings.Join(lines, "\n\n"))

	start := time.Now()
	raw, err := e.generate(ctx, sentimentSystemPrompt, userPrompt)
	if err != nil {
		return nil, classify("sentiment", err)
	}

	var result Sentiment
	if err := decodeJSON(raw, &result); err != nil {
		slog.Warn("sentiment response not parseable", "item", content.ItemID, "error", err)
		return nil, &Error{Op: "sentiment", Err: err}
	}

	slog.Debug("sentiment analysis complete",
		"item", content.ItemID,
		"overall", result.Overall,
		"duration_ms", time.Since(start).Milliseconds())
	return &result, nil
}

// AnalyzeThemes extracts recurring topics and insights from the item's
// reviews, with the product's core fields as context.
func (e *Engine) AnalyzeThemes(ctx context.Context, content *scrape.RawContent) (*Themes, error) {
	lines := reviewLines(content.Reviews, 10, 150, false)
	if len(lines) == 0 {
		slog.Warn("no usable reviews for theme analysis", "item", content.ItemID)
		return &Themes{Note: "no reviews available"}, nil
	}

	userPrompt := fmt.Sprintf(`Reviews:
%s

Product context:
- Title: %s
- Rating: %.1f/5
- Total reviews: %d`,
		strings.Join(lines, "\n"),
		content.Title, content.RatingAverage, content.TotalReviews)

	start := time.Now()
	raw, err := e.generate(ctx, themesSystemPrompt, userPrompt)
	if err != nil {
		return nil, classify("themes", err)
	}

	var result Themes
	if err := decodeJSON(raw, &result); err != nil {
		slog.Warn("themes response not parseable", "item", content.ItemID, "error", err)
		return nil, &Error{Op: "themes", Err: err}
	}

	slog.Debug("theme analysis complete",
		"item", content.ItemID,
		"themes", len(result.EmergingThemes),
		"duration_ms", time.Since(start).Milliseconds())
	return &result, nil
}

func (e *Engine) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := e.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", errors.New("no response choices")
	}
	return response.Choices[0].Content, nil
}

// reviewLines filters reviews down to usable text lines for a prompt.
// withRating prefixes each line with its star rating.
func reviewLines(reviews []scrape.Review, max, truncate int, withRating bool) []string {
	lines := make([]string, 0, max)
	for _, r := range reviews {
		if len(lines) >= max {
			break
		}
		text := strings.TrimSpace(r.Text)
		if len(text) < 20 {
			continue
		}
		if len(text) > truncate {
			text = truncateRunes(text, truncate)
		}
		if withRating {
			lines = append(lines, fmt.Sprintf("[%.0f/5] %s", r.Rating, text))
		} else {
			lines = append(lines, text)
		}
	}
	return lines
}

// truncateRunes cuts text to at most max bytes without splitting a rune.
func truncateRunes(text string, max int) string {
	if len(text) <= max {
		return text
	}
	for max > 0 && !utf8.RuneStart(text[max]) {
		max--
	}
	return text[:max]
}

// decodeJSON unmarshals the first JSON object embedded in a model
// response. Models wrap their JSON in prose or code fences often enough
// that a plain Unmarshal of the whole response is not reliable.
func decodeJSON(raw string, v any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in model response")
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), v); err != nil {
		return fmt.Errorf("decode model response: %w", err)
	}
	return nil
}

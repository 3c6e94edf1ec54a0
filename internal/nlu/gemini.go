package nlu

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"agrisync/internal/cache"
	"agrisync/internal/metrics"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

const extractionPrompt = `Analyze this message from a farmer: %q

1. Detect the language code (e.g., 'hi', 'kn', 'en').
2. Identify the intent: 'price_check', 'logistics', or 'general'.
3. Identify the crop (e.g., 'tomato').
4. Identify weight in KG (number only).

Return ONLY a raw JSON object:
{
    "detected_lang": "hi",
    "intent": "general",
    "crop": "tomato",
    "weight_kg": null
}`

const translationPrompt = "Translate the following text into language code '%s'. Provide ONLY the translated text: %s"

// Config holds Gemini client configuration.
type Config struct {
	APIKey string
	Model  string
	// CacheTTL bounds how long translations stay cached; zero disables caching.
	CacheTTL time.Duration
}

type stringCache interface {
	Key(parts ...string) string
	GetString(ctx context.Context, key string) (string, bool, error)
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
}

var _ stringCache = (*cache.Redis)(nil)

// Gemini extracts intents and translates replies through a langchaingo model.
type Gemini struct {
	model    llms.Model
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cache    stringCache
	cacheTTL time.Duration
}

// NewGemini dials the Google AI backend.
func NewGemini(ctx context.Context, cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics, redis *cache.Redis) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(cfg.APIKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("init gemini model: %w", err)
	}
	g := New(llm, logger, metricRegistry)
	if redis != nil && cfg.CacheTTL > 0 {
		g.cache = redis
		g.cacheTTL = cfg.CacheTTL
	}
	return g, nil
}

// New wraps an existing model, typically a fake in tests.
func New(model llms.Model, logger *slog.Logger, metricRegistry *metrics.Metrics) *Gemini {
	return &Gemini{
		model:   model,
		logger:  logger.With("component", "gemini"),
		metrics: metricRegistry,
	}
}

// Extract never fails: any model or parse error yields DefaultExtraction.
func (g *Gemini) Extract(ctx context.Context, text string) Extraction {
	completion, err := g.generate(ctx, "extract", fmt.Sprintf(extractionPrompt, text), llms.WithTemperature(0))
	if err != nil {
		g.logger.Warn("intent extraction failed", "error", err)
		return DefaultExtraction()
	}
	out, err := parseExtraction(completion)
	if err != nil {
		g.metrics.IncError("gemini_extract_parse")
		g.logger.Warn("intent extraction unparseable", "error", err)
		return DefaultExtraction()
	}
	return out
}

// Translate returns text unchanged for English targets and on any failure.
func (g *Gemini) Translate(ctx context.Context, text, targetLang string) string {
	targetLang = strings.ToLower(strings.TrimSpace(targetLang))
	if targetLang == "" || targetLang == DefaultLanguage || strings.TrimSpace(text) == "" {
		return text
	}

	cacheKey := ""
	if g.cache != nil {
		sum := sha256.Sum256([]byte(text))
		cacheKey = g.cache.Key("translation", targetLang, hex.EncodeToString(sum[:8]))
		if cached, ok, err := g.cache.GetString(ctx, cacheKey); err != nil {
			g.logger.Warn("read translation cache failed", "error", err)
		} else if ok {
			return cached
		}
	}

	out, err := g.generate(ctx, "translate", fmt.Sprintf(translationPrompt, targetLang, text))
	if err != nil {
		g.logger.Warn("translation failed", "error", err, "lang", targetLang)
		return text
	}
	out = strings.TrimSpace(out)
	if out == "" {
		g.logger.Warn("translation empty", "lang", targetLang)
		return text
	}

	if cacheKey != "" {
		if err := g.cache.SetString(ctx, cacheKey, out, g.cacheTTL); err != nil {
			g.logger.Warn("set translation cache failed", "error", err)
		}
	}
	return out
}

func (g *Gemini) generate(ctx context.Context, operation, prompt string, opts ...llms.CallOption) (string, error) {
	start := time.Now()
	out, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt, opts...)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if g.metrics != nil {
		g.metrics.LLMRequests.WithLabelValues(operation, status).Inc()
		g.metrics.LLMLatency.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		g.metrics.IncError("gemini")
		return "", fmt.Errorf("gemini %s: %w", operation, err)
	}
	return out, nil
}

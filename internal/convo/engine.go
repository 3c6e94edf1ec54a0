package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"agrisync/internal/metrics"
	"agrisync/internal/nlu"
	"agrisync/internal/repo"
)

// ErrMissingSender is returned for events without a usable sender identity.
var ErrMissingSender = errors.New("missing sender")

// DefaultWeightKg is used for logistics requests that name no weight.
const DefaultWeightKg = 100.0

// Route branches reported to metrics.
const (
	BranchRegistration = "registration"
	BranchOnboarding   = "onboarding"
	BranchPrice        = "price_check"
	BranchLogistics    = "logistics"
	BranchHelp         = "help"
)

// Inbound is one farmer message as delivered by a channel.
type Inbound struct {
	From      string
	Body      string
	Latitude  *float64
	Longitude *float64
	// Channel labels metrics only, e.g. "twilio" or "whatsapp".
	Channel string
}

// HasLocation reports whether both coordinates were supplied.
func (in Inbound) HasLocation() bool {
	return in.Latitude != nil && in.Longitude != nil
}

// FarmerStore persists farmer identity, position and language.
type FarmerStore interface {
	GetFarmer(ctx context.Context, phone string) (*repo.Farmer, error)
	UpsertFarmerLocation(ctx context.Context, phone string, lat, lon float64, lang string) error
	UpsertFarmerLanguage(ctx context.Context, phone, lang string) error
}

// LogisticsStore appends pickup requests.
type LogisticsStore interface {
	InsertLogisticsRequest(ctx context.Context, req repo.LogisticsRequest) (*repo.LogisticsRequest, error)
}

// Extractor guesses language, intent, crop and weight. It never fails.
type Extractor interface {
	Extract(ctx context.Context, text string) nlu.Extraction
}

// Translator renders English text in the target language. It returns the input on failure.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) string
}

// Geocoder resolves a district label, or "UNKNOWN".
type Geocoder interface {
	DistrictFor(ctx context.Context, lat, lon float64) string
}

// PriceLookup produces a ready-to-send price sentence.
type PriceLookup interface {
	Lookup(crop, district string) string
}

// Dependencies wires the router collaborators.
type Dependencies struct {
	Farmers    FarmerStore
	Logistics  LogisticsStore
	Extractor  Extractor
	Translator Translator
	Geocoder   Geocoder
	Prices     PriceLookup

	// Nil rule lists fall back to the defaults.
	LanguageRules []LanguageRule
	IntentRules   []IntentRule
}

// Engine turns one inbound message into one reply.
type Engine struct {
	deps          Dependencies
	languageRules []LanguageRule
	intentRules   []IntentRule
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// New builds a router engine.
func New(deps Dependencies, metricRegistry *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	langRules := deps.LanguageRules
	if langRules == nil {
		langRules = DefaultLanguageRules()
	}
	intentRules := deps.IntentRules
	if intentRules == nil {
		intentRules = DefaultIntentRules()
	}
	return &Engine{
		deps:          deps,
		languageRules: langRules,
		intentRules:   intentRules,
		metrics:       metricRegistry,
		logger:        logger.With("component", "convo"),
	}
}

// Handle routes a message and returns the reply in the farmer's language.
// Only persistence failures and a missing sender are returned as errors.
func (e *Engine) Handle(ctx context.Context, in Inbound) (string, error) {
	phone := NormalizePhone(in.From)
	if phone == "" {
		return "", ErrMissingSender
	}
	e.countInbound(in)

	farmer, err := e.deps.Farmers.GetFarmer(ctx, phone)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		farmer = nil
	case err != nil:
		return "", fmt.Errorf("get farmer: %w", err)
	}

	extraction := nlu.DefaultExtraction()
	lang := nlu.DefaultLanguage
	if strings.TrimSpace(in.Body) != "" {
		extraction = e.deps.Extractor.Extract(ctx, in.Body)
		lang = resolveLanguage(e.languageRules, in.Body, extraction.Language)
		if lang == "" {
			lang = nlu.DefaultLanguage
		}
		if err := e.deps.Farmers.UpsertFarmerLanguage(ctx, phone, lang); err != nil {
			return "", fmt.Errorf("save language: %w", err)
		}
	} else if farmer != nil && farmer.Language != "" {
		lang = farmer.Language
	}

	reply, branch, err := e.act(ctx, phone, lang, in, farmer, extraction)
	if err != nil {
		return "", err
	}
	e.countRoute(branch)
	e.logger.Debug("message routed", "phone", phone, "branch", branch, "lang", lang)

	return e.translate(ctx, reply, lang), nil
}

func (e *Engine) act(ctx context.Context, phone, lang string, in Inbound, farmer *repo.Farmer, ex nlu.Extraction) (string, string, error) {
	if in.HasLocation() {
		lat, lon := *in.Latitude, *in.Longitude
		if err := e.deps.Farmers.UpsertFarmerLocation(ctx, phone, lat, lon, lang); err != nil {
			return "", "", fmt.Errorf("save location: %w", err)
		}
		district := e.deps.Geocoder.DistrictFor(ctx, lat, lon)
		return registrationReply(district), BranchRegistration, nil
	}

	if !farmer.HasPosition() {
		return onboardingReply, BranchOnboarding, nil
	}

	crop := ex.Crop
	if crop == "" {
		crop = nlu.DefaultCrop
	}

	switch resolveIntent(e.intentRules, in.Body, ex.Intent) {
	case nlu.IntentPriceCheck:
		district := e.deps.Geocoder.DistrictFor(ctx, *farmer.Latitude, *farmer.Longitude)
		return e.deps.Prices.Lookup(crop, district), BranchPrice, nil
	case nlu.IntentLogistics:
		weight := ex.WeightKg
		if weight <= 0 {
			weight = DefaultWeightKg
		}
		_, err := e.deps.Logistics.InsertLogisticsRequest(ctx, repo.LogisticsRequest{
			FarmerPhone: phone,
			CropType:    crop,
			WeightKg:    weight,
			Status:      repo.StatusPending,
		})
		if err != nil {
			return "", "", fmt.Errorf("save logistics request: %w", err)
		}
		return logisticsReply(weight, crop), BranchLogistics, nil
	default:
		return helpReply, BranchHelp, nil
	}
}

func (e *Engine) translate(ctx context.Context, text, lang string) string {
	if lang == "" || lang == nlu.DefaultLanguage {
		return text
	}
	out := e.deps.Translator.Translate(ctx, text, lang)
	if out == "" {
		return text
	}
	return out
}

func (e *Engine) countInbound(in Inbound) {
	if e.metrics == nil {
		return
	}
	kind := "text"
	if in.HasLocation() {
		kind = "location"
	}
	e.metrics.IncomingMessages.WithLabelValues(channelLabel(in.Channel), kind).Inc()
}

func (e *Engine) countRoute(branch string) {
	if e.metrics == nil {
		return
	}
	e.metrics.Routes.WithLabelValues(branch).Inc()
}

func channelLabel(channel string) string {
	if channel == "" {
		return "unknown"
	}
	return channel
}

// NormalizePhone strips a transport prefix such as "whatsapp:" and surrounding space.
func NormalizePhone(raw string) string {
	phone := strings.TrimSpace(raw)
	if i := strings.Index(phone, ":"); i >= 0 {
		phone = phone[i+1:]
	}
	return strings.TrimSpace(phone)
}
